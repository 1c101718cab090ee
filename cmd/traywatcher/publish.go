package traywatcher

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/panelkit/traywatcher/internal/item"
)

var (
	itemID    string
	itemTitle string
)

func init() {
	publishCmd.Flags().StringVar(&itemID, "id", "", "item identifier (default: generated)")
	publishCmd.Flags().StringVar(&itemTitle, "title", "traywatcher test item", "item title")
	rootCmd.AddCommand(publishCmd)
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a test tray item",
	Long:  "publish exposes a skeletal StatusNotifierItem on this connection and\nregisters it with the running watcher. The item stays registered until the\ncommand is interrupted, at which point the watcher should drop it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := connect()
		if err != nil {
			return err
		}
		defer conn.Close()

		pub := item.New(conn, itemID, itemTitle, log.Logger)
		if err := pub.Publish(); err != nil {
			return err
		}

		log.Info().Str("id", pub.ID()).Msg("item registered, interrupt to withdraw")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		return nil
	},
}
