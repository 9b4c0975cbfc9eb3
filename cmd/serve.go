package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashvault/cmd/node"
	"github.com/michaelpento.lv/flashvault/utils"
	"github.com/michaelpento.lv/flashvault/utils/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pool and its HTTP API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer utils.CleanupLogger()

		if cfg.Metrics.Enabled {
			metrics.Initialize()
		}

		n, err := node.New(cfg, log)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := n.Start(ctx); err != nil {
			_ = n.Stop()
			return err
		}

		<-ctx.Done()
		log.Info("Shutting down gracefully...")
		if err := n.Stop(); err != nil {
			log.Error("Shutdown failed", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
