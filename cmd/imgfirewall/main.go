package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/config"
)

var (
	dev      bool
	logLevel string
	storeDB  string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "imgfirewall",
		Short:         "Blur harmful images before they are shown",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&dev, "dev", false, "development logging (colored, debug level)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override")
	rootCmd.PersistentFlags().StringVar(&storeDB, "db", "", "settings database path override")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sandboxCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(modelCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if storeDB != "" {
		cfg.Store.Path = storeDB
	}
	return cfg, nil
}
