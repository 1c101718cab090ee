package main

import (
	"github.com/panelkit/traywatcher/cmd/traywatcher"
)

func main() {
	traywatcher.Execute()
}
