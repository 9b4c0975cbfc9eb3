package cmd

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashvault/cmd/node"
	"github.com/michaelpento.lv/flashvault/config"
	"github.com/michaelpento.lv/flashvault/flashloan"
	"github.com/michaelpento.lv/flashvault/types"
)

type adminOptions struct {
	admin       string
	asset       string
	amount      string
	account     string
	minAmount   string
	maxAmount   string
	baseBps     uint64
	dynamicBps  uint64
	maxDuration time.Duration
}

var adminFlags adminOptions

func (o *adminOptions) parameters() (types.LoanParameters, error) {
	asset := config.AssetConfig{
		MinAmount:             o.minAmount,
		MaxAmount:             o.maxAmount,
		BasePremiumRateBps:    o.baseBps,
		DynamicPremiumRateBps: o.dynamicBps,
		MaxDuration:           o.maxDuration,
	}
	return asset.Parameters()
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative operations on the pool",
	Long: `Each admin subcommand is one committed invocation against the
configured store. --admin defaults to the first configured admin.`,
}

// adminRun wraps an admin operation on the asset named by --asset.
func adminRun(fn func(cmd *cobra.Command, m *flashloan.Manager, admin, asset common.Address) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		asset, err := parseAddress("asset", adminFlags.asset)
		if err != nil {
			return err
		}
		return withNode(false, func(_ *config.Config, n *node.Node, log *zap.Logger) error {
			admin, err := adminAddress(adminFlags.admin, n)
			if err != nil {
				return err
			}
			if err := fn(cmd, n.Manager(), admin, asset); err != nil {
				log.Error("Admin operation failed",
					zap.String("command", cmd.Name()),
					zap.String("reason", flashloan.ErrorKind(err)),
					zap.Error(err))
				return err
			}
			return nil
		})
	}
}

var listAssetCmd = &cobra.Command{
	Use:   "list-asset",
	Short: "List an asset, or update the parameters of a listed one",
	RunE: adminRun(func(cmd *cobra.Command, m *flashloan.Manager, admin, asset common.Address) error {
		params, err := adminFlags.parameters()
		if err != nil {
			return err
		}
		if err := m.ListAsset(admin, asset, params); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "listed %s\n", asset.Hex())
		return nil
	}),
}

var delistAssetCmd = &cobra.Command{
	Use:   "delist-asset",
	Short: "Stop lending an asset",
	RunE: adminRun(func(cmd *cobra.Command, m *flashloan.Manager, admin, asset common.Address) error {
		if err := m.DelistAsset(admin, asset); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "delisted %s\n", asset.Hex())
		return nil
	}),
}

var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Move liquidity from the admin's balance into the pool",
	RunE: adminRun(func(cmd *cobra.Command, m *flashloan.Manager, admin, asset common.Address) error {
		amount, err := parseAmount("amount", adminFlags.amount)
		if err != nil {
			return err
		}
		if err := m.DepositLiquidity(admin, asset, amount); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deposited %s of %s\n", amount, asset.Hex())
		return nil
	}),
}

var withdrawFeesCmd = &cobra.Command{
	Use:   "withdraw-fees",
	Short: "Pay out the fees collected for an asset",
	RunE: adminRun(func(cmd *cobra.Command, m *flashloan.Manager, admin, asset common.Address) error {
		amount, err := m.WithdrawFees(admin, asset)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "withdrew %s fees of %s\n", amount, asset.Hex())
		return nil
	}),
}

var withdrawLiquidityCmd = &cobra.Command{
	Use:   "withdraw-liquidity",
	Short: "Withdraw principal liquidity to the admin",
	RunE: adminRun(func(cmd *cobra.Command, m *flashloan.Manager, admin, asset common.Address) error {
		amount, err := parseAmount("amount", adminFlags.amount)
		if err != nil {
			return err
		}
		if err := m.WithdrawLiquidity(admin, asset, amount); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "withdrew %s of %s\n", amount, asset.Hex())
		return nil
	}),
}

var creditCmd = &cobra.Command{
	Use:   "credit",
	Short: "Mint test balance to an account",
	RunE: adminRun(func(cmd *cobra.Command, m *flashloan.Manager, admin, asset common.Address) error {
		holder, err := parseAddress("account", adminFlags.account)
		if err != nil {
			return err
		}
		amount, err := parseAmount("amount", adminFlags.amount)
		if err != nil {
			return err
		}
		if err := m.Credit(admin, asset, holder, amount); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "credited %s of %s to %s\n", amount, asset.Hex(), holder.Hex())
		return nil
	}),
}

// callerRun wraps authorize and revoke, which act on --account.
func callerRun(fn func(m *flashloan.Manager, admin, caller common.Address) error, verb string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		caller, err := parseAddress("account", adminFlags.account)
		if err != nil {
			return err
		}
		return withNode(false, func(_ *config.Config, n *node.Node, _ *zap.Logger) error {
			admin, err := adminAddress(adminFlags.admin, n)
			if err != nil {
				return err
			}
			if err := fn(n.Manager(), admin, caller); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, caller.Hex())
			return nil
		})
	}
}

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Allow an account to take flash loans",
	RunE:  callerRun((*flashloan.Manager).AuthorizeCaller, "authorized"),
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Remove an account's permission to take flash loans",
	RunE:  callerRun((*flashloan.Manager).RevokeCaller, "revoked"),
}

func init() {
	adminCmd.PersistentFlags().StringVar(&adminFlags.admin, "admin", "", "admin address (default: first configured admin)")

	assetCmds := []*cobra.Command{listAssetCmd, delistAssetCmd, depositCmd, withdrawFeesCmd, withdrawLiquidityCmd, creditCmd}
	for _, c := range assetCmds {
		c.Flags().StringVar(&adminFlags.asset, "asset", "", "asset address")
		_ = c.MarkFlagRequired("asset")
	}
	for _, c := range []*cobra.Command{depositCmd, withdrawLiquidityCmd, creditCmd} {
		c.Flags().StringVar(&adminFlags.amount, "amount", "", "amount in base units")
		_ = c.MarkFlagRequired("amount")
	}
	for _, c := range []*cobra.Command{creditCmd, authorizeCmd, revokeCmd} {
		c.Flags().StringVar(&adminFlags.account, "account", "", "account address")
		_ = c.MarkFlagRequired("account")
	}

	fl := listAssetCmd.Flags()
	fl.StringVar(&adminFlags.minAmount, "min", "0", "smallest loan principal")
	fl.StringVar(&adminFlags.maxAmount, "max", "", "largest loan principal")
	fl.Uint64Var(&adminFlags.baseBps, "base-bps", 0, "base premium rate in basis points")
	fl.Uint64Var(&adminFlags.dynamicBps, "dynamic-bps", 0, "dynamic premium rate in basis points")
	fl.DurationVar(&adminFlags.maxDuration, "max-duration", time.Minute, "recorded maximum loan duration")
	_ = listAssetCmd.MarkFlagRequired("max")

	adminCmd.AddCommand(listAssetCmd, delistAssetCmd, authorizeCmd, revokeCmd,
		depositCmd, withdrawFeesCmd, withdrawLiquidityCmd, creditCmd)
	rootCmd.AddCommand(adminCmd)
}
