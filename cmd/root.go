package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashvault/config"
	"github.com/michaelpento.lv/flashvault/utils"
)

var (
	cfgFile string
	envFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "flashvault",
	Short: "A flash loan pool with atomic, all-or-nothing loan execution",
	Long: `flashvault runs a lending pool that hands out uncollateralized loans
which must be repaid with a premium inside the same invocation. A loan
that is not repaid is reverted as if it never happened.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $FLASHVAULT_CONFIG or ./flashvault.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// setup loads the environment and config, then initializes the global
// logger from the config's log section.
func setup() (*config.Config, *zap.Logger, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log := utils.InitLogger(utils.LogOptions{
		Debug:      debug || cfg.Log.Debug,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	return cfg, log, nil
}
