package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flashvault/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.GetEnvWithDefault(config.EnvConfig, config.DefaultConfigFile)
		}
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists; pass --force to overwrite", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		cfg := config.DefaultConfig()
		cfg.Assets = []config.AssetConfig{config.ExampleAsset()}
		if err := config.SaveConfig(cfg, path); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}
