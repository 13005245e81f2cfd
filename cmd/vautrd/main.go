// Package main provides vautrd, the Vautr relay daemon: the Shamir
// lock service and the passkey signing relay, plus offline key and
// protocol tooling.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vautr-io/vautr/bridge"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "vautrd",
		Short: "Vautr relay daemon and protocol tooling",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newShamirCmd())
	root.AddCommand(newVrfCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			service, err := bridge.NewService(logger)
			if err != nil {
				return err
			}
			defer service.Shutdown()

			return service.Start()
		},
	}
}
