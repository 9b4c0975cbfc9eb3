package cmd

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashvault/cmd/node"
	"github.com/michaelpento.lv/flashvault/config"
	"github.com/michaelpento.lv/flashvault/flashloan"
	"github.com/michaelpento.lv/flashvault/token"
)

var simulateFlags struct {
	caller  string
	asset   string
	amount  string
	payload string
	admin   string
	fund    bool
	commit  bool
	noRepay bool
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Execute a flash loan with a reference receiver",
	Long: `Runs one flash loan through the full execution path. The receiver logs
the payload and repays principal plus premium from the caller's balance.

By default the loan runs on a scratch copy of the store; pass --commit to
persist the outcome.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := simulateFlags
		caller, err := parseAddress("caller", f.caller)
		if err != nil {
			return err
		}
		asset, err := parseAddress("asset", f.asset)
		if err != nil {
			return err
		}
		amount, err := parseAmount("amount", f.amount)
		if err != nil {
			return err
		}
		var payload []byte
		if f.payload != "" {
			payload, err = hexutil.Decode(f.payload)
			if err != nil {
				return fmt.Errorf("--payload: %w", err)
			}
		}

		return withNode(!f.commit, func(_ *config.Config, n *node.Node, log *zap.Logger) error {
			m := n.Manager()
			if f.fund {
				admin, err := adminAddress(f.admin, n)
				if err != nil {
					return err
				}
				premium, err := m.CalculatePremium(asset, amount)
				if err != nil {
					return err
				}
				// Small loans can price to a zero premium; there is nothing to fund.
				if premium.Sign() > 0 {
					if err := m.Credit(admin, asset, caller, premium); err != nil {
						return fmt.Errorf("fund caller: %w", err)
					}
				}
			}

			inner := flashloan.ReceiverFunc(func(_ context.Context, wallet *token.Wallet, loan flashloan.Loan) (bool, error) {
				balance, err := wallet.Balance(loan.Asset)
				if err != nil {
					return false, err
				}
				log.Info("Receiver invoked",
					zap.String("loan_id", loan.ID),
					zap.Stringer("balance", balance),
					zap.Stringer("owed", loan.Owed()),
					zap.String("payload", hexutil.Encode(loan.Payload)))
				return true, nil
			})
			var receiver flashloan.Receiver = flashloan.RepayingReceiver{Inner: inner}
			if f.noRepay {
				receiver = inner
			}

			receipt, err := m.ExecuteFlashLoan(cmd.Context(), caller, asset, amount, payload, receiver)
			out := cmd.OutOrStdout()
			if err != nil {
				fmt.Fprintf(out, "result:  reverted (%s)\n", flashloan.ErrorKind(err))
				return err
			}
			fmt.Fprintf(out, "result:  committed\n")
			fmt.Fprintf(out, "loan_id: %s\n", receipt.LoanID)
			fmt.Fprintf(out, "amount:  %s\n", receipt.Amount)
			fmt.Fprintf(out, "premium: %s\n", receipt.Premium)
			fmt.Fprintf(out, "repaid:  %s\n", receipt.Repaid)
			return nil
		})
	},
}

func init() {
	fl := simulateCmd.Flags()
	fl.StringVar(&simulateFlags.caller, "caller", "", "authorized caller address")
	fl.StringVar(&simulateFlags.asset, "asset", "", "asset to borrow")
	fl.StringVar(&simulateFlags.amount, "amount", "", "principal in base units")
	fl.StringVar(&simulateFlags.payload, "payload", "", "0x-prefixed payload handed to the receiver")
	fl.StringVar(&simulateFlags.admin, "admin", "", "admin used to fund the caller (default: first configured admin)")
	fl.BoolVar(&simulateFlags.fund, "fund", false, "credit the caller with the premium before borrowing")
	fl.BoolVar(&simulateFlags.commit, "commit", false, "persist the result instead of using a scratch copy")
	fl.BoolVar(&simulateFlags.noRepay, "no-repay", false, "skip repayment to watch the loan revert")
	for _, name := range []string{"caller", "asset", "amount"} {
		_ = simulateCmd.MarkFlagRequired(name)
	}
	rootCmd.AddCommand(simulateCmd)
}
