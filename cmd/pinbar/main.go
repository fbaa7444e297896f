// Command pinbar runs pin-bar backtests from the command line or as a
// service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pinbar-backtest/services/config"
	"pinbar-backtest/services/logging"
)

const version = "1.0.0"

// app carries what every subcommand needs after PersistentPreRunE.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
	closeLog   func() error
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pinbar",
		Short:         "Pin-bar reversal backtester",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file")

	root.AddCommand(newRunCmd(a), newServeCmd(a), newResampleCmd(a), newIngestCmd(a))
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg, a.logger, a.closeLog = cfg, logger, closeLog
	return nil
}

func (a *app) close() error {
	if a.logger == nil {
		return nil
	}
	_ = a.logger.Sync()
	return a.closeLog()
}
