package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashvault/cmd/node"
	"github.com/michaelpento.lv/flashvault/config"
	bpsmath "github.com/michaelpento.lv/flashvault/utils/math"
)

var queryAsset string

var premiumCmd = &cobra.Command{
	Use:   "premium [amount]",
	Short: "Quote the premium for borrowing amount of an asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := parseAddress("asset", queryAsset)
		if err != nil {
			return err
		}
		amount, err := parseAmount("amount", args[0])
		if err != nil {
			return err
		}
		return withNode(true, func(_ *config.Config, n *node.Node, _ *zap.Logger) error {
			premium, err := n.Manager().CalculatePremium(asset, amount)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "asset:   %s\n", asset.Hex())
			fmt.Fprintf(out, "amount:  %s\n", amount)
			fmt.Fprintf(out, "premium: %s\n", premium)
			fmt.Fprintf(out, "owed:    %s\n", bpsmath.Sum(amount, premium))
			return nil
		})
	},
}

var liquidityCmd = &cobra.Command{
	Use:   "liquidity",
	Short: "Show the lendable liquidity and ledger of an asset",
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := parseAddress("asset", queryAsset)
		if err != nil {
			return err
		}
		return withNode(true, func(_ *config.Config, n *node.Node, _ *zap.Logger) error {
			m := n.Manager()
			listed, err := m.IsAssetListed(asset)
			if err != nil {
				return err
			}
			available, err := m.AvailableLiquidity(asset)
			if err != nil {
				return err
			}
			custodial, err := m.CustodialBalance(asset)
			if err != nil {
				return err
			}
			entry, err := m.LedgerEntry(asset)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "asset:          %s\n", asset.Hex())
			fmt.Fprintf(out, "listed:         %t\n", listed)
			fmt.Fprintf(out, "available:      %s\n", available)
			fmt.Fprintf(out, "custodial:      %s\n", custodial)
			fmt.Fprintf(out, "fees_collected: %s\n", entry.FeesCollected)
			fmt.Fprintf(out, "volume_lent:    %s\n", entry.VolumeLent)
			fmt.Fprintf(out, "loan_count:     %d\n", entry.LoanCount)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{premiumCmd, liquidityCmd} {
		c.Flags().StringVar(&queryAsset, "asset", "", "asset address")
		_ = c.MarkFlagRequired("asset")
		rootCmd.AddCommand(c)
	}
}
