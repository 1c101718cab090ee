package traywatcher

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/panelkit/traywatcher/internal/host"
)

func init() {
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Register as a host and print tray registry changes",
	Long:  "monitor registers a StatusNotifierHost with the running watcher, seeds\nits view from the current item snapshot, and logs every item that appears\nor disappears until interrupted. Useful for verifying publishers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := connect()
		if err != nil {
			return err
		}
		defer conn.Close()

		client := host.New(conn, log.Logger)
		client.OnRegistered(func(service string) {
			log.Info().Str("service", service).Msg("item appeared")
		})
		client.OnUnregistered(func(service string) {
			log.Info().Str("service", service).Msg("item gone")
		})

		if err := client.Listen(); err != nil {
			return err
		}
		defer client.Close()

		log.Info().Str("host", client.Name()).Strs("items", client.Items()).Msg("monitoring")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		return nil
	},
}
