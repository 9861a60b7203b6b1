package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetlive/app"
	"github.com/kilianp07/fleetlive/config"
	"github.com/kilianp07/fleetlive/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "fleetlive",
	Short: "Live bus fleet state reconciler",
	RunE:  run,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciler and its HTTP API (default)",
	Args:  cobra.NoArgs,
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
