// Package main implements the lookbook server: an HTTP API that turns
// garment reference photos into generated lookbook imagery, plus the
// operational commands that go with it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/lookbook/internal/config"
	"github.com/phrazzld/lookbook/internal/platform/logger"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the binary without a
// subcommand starts the server.
func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "lookbook",
		Short: "Lookbook generation server",
		Long: `Lookbook accepts garment reference photos, analyses them, generates
styled variations concurrently, optionally upscales them and renders a
showcase video, and reports progress per request.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configFile != "" {
				_ = os.Setenv(config.ConfigFileEnv, configFile)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file (default is ./config.yaml, or $"+config.ConfigFileEnv+")")

	serve := newServeCmd()
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, newMigrateCmd(), newTokenCmd())
	return root
}

// initializeApp loads configuration and sets up structured logging
func initializeApp() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if _, err := logger.Setup(cfg.Server); err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
