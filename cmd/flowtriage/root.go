package main

import (
	"fmt"
	"os"

	"github.com/rsclarke/flowtriage/internal/config"
	"github.com/rsclarke/flowtriage/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	cfg        *config.Config
	configPath string

	// v collects defaults, env overrides and the flags bound in each
	// command's init.
	v = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "flowtriage",
	Short: "Capture network traffic and classify its flows",
	Long: `flowtriage captures a window of network traffic, extracts per-flow
statistics with CICFlowMeter, and classifies every flow with a
scaler, PCA reducer and classifier trio. Results can be stored in a
relational history and served over a small HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, configPath)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("FLOWTRIAGE_CONFIG"), "path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, console)")
	bindFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	bindFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
