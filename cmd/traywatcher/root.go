package traywatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"

	"github.com/panelkit/traywatcher/internal/conf"
	"github.com/panelkit/traywatcher/internal/watcher"
)

var (
	configPath string
	busAddress string
	Debug      bool

	cfg *conf.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/traywatcher/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&busAddress, "bus", "", "session bus address override")
	rootCmd.PersistentFlags().BoolVarP(&Debug, "debug", "d", false, "enable debug logging")
}

var rootCmd = &cobra.Command{
	Use:           "traywatcher",
	Short:         "StatusNotifierWatcher broker for desktop panels",
	Long:          "traywatcher owns org.kde.StatusNotifierWatcher on the session bus:\ntray applications register their items with it, panels register as hosts,\nand it keeps both sides' view of the tray consistent across crashes.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = conf.Load(configPath)
		if err != nil {
			return err
		}
		if busAddress != "" {
			cfg.BusAddress = busAddress
		}
		initLog(cfg)
		return nil
	},
	RunE: runWatcher,
}

// Execute runs the CLI. Any error, including losing the bus or finding the
// watcher name already owned, exits non-zero so the session manager knows to
// restart or give up.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func connect() (*dbus.Conn, error) {
	if cfg.BusAddress != "" {
		conn, err := dbus.Connect(cfg.BusAddress)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.BusAddress, err)
		}
		return conn, nil
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return conn, nil
}

func runWatcher(cmd *cobra.Command, args []string) error {
	conn, err := connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	svc := watcher.New(conn, log.Logger)
	if err := svc.Listen(); err != nil {
		return err
	}
	defer svc.Close()

	sup := suture.New("traywatcher", suture.Spec{
		EventHook:         func(e suture.Event) { log.Debug().Msg(e.String()) },
		Timeout:           10 * time.Second,
		PassThroughPanics: true,
	})
	for _, s := range svc.Services() {
		sup.Add(s)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = sup.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info().Msg("shutting down")
	return nil
}
