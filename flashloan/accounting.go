package flashloan

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/michaelpento.lv/flashvault/store"
	"github.com/michaelpento.lv/flashvault/token"
	"github.com/michaelpento.lv/flashvault/types"
	bpsmath "github.com/michaelpento.lv/flashvault/utils/math"
)

const ledgerKeyFormat = "ledger/%x"

// Ledger keeps the per-asset running totals and moves custodial funds for
// fee and liquidity withdrawals.
type Ledger struct {
	state State
	bank  *token.Bank
	pool  common.Address
}

func NewLedger(state State, bank *token.Bank, pool common.Address) *Ledger {
	return &Ledger{state: state, bank: bank, pool: pool}
}

func ledgerKey(asset common.Address) []byte {
	return []byte(fmt.Sprintf(ledgerKeyFormat, asset.Bytes()))
}

// Entry returns the totals for asset. Assets that never lent return a zeroed
// entry.
func (l *Ledger) Entry(asset common.Address) (*types.LedgerEntry, error) {
	data, err := l.state.Get(ledgerKey(asset))
	if errors.Is(err, store.ErrNotFound) {
		return types.NewLedgerEntry(), nil
	}
	if err != nil {
		return nil, err
	}

	entry := types.NewLedgerEntry()
	if err := rlp.DecodeBytes(data, entry); err != nil {
		return nil, fmt.Errorf("decode ledger entry for %s: %w", asset.Hex(), err)
	}
	entry.FeesCollected = bpsmath.OrZero(entry.FeesCollected)
	entry.VolumeLent = bpsmath.OrZero(entry.VolumeLent)
	return entry, nil
}

func (l *Ledger) putEntry(asset common.Address, entry *types.LedgerEntry) error {
	encoded, err := rlp.EncodeToBytes(entry)
	if err != nil {
		return err
	}
	return l.state.Put(ledgerKey(asset), encoded)
}

// CustodialBalance returns how much of asset the pool holds.
func (l *Ledger) CustodialBalance(asset common.Address) (*big.Int, error) {
	return l.bank.BalanceOf(asset, l.pool)
}

// RecordSuccessfulLoan adds one loan to the totals. Call it only after the
// repayment has been verified.
func (l *Ledger) RecordSuccessfulLoan(asset common.Address, amount, premium *big.Int) error {
	if !bpsmath.IsPositive(amount) || premium == nil || bpsmath.IsNegative(premium) {
		return fmt.Errorf("%w: loan amount %v premium %v", ErrInvalidArgument, amount, premium)
	}
	entry, err := l.Entry(asset)
	if err != nil {
		return err
	}
	entry.VolumeLent.Add(entry.VolumeLent, amount)
	entry.FeesCollected.Add(entry.FeesCollected, premium)
	entry.LoanCount++
	return l.putEntry(asset, entry)
}

// AvailableLiquidity is the custodial balance net of fees owed to the
// operator.
func (l *Ledger) AvailableLiquidity(asset common.Address) (*big.Int, error) {
	balance, err := l.CustodialBalance(asset)
	if err != nil {
		return nil, err
	}
	entry, err := l.Entry(asset)
	if err != nil {
		return nil, err
	}
	available := balance.Sub(balance, entry.FeesCollected)
	if bpsmath.IsNegative(available) {
		return nil, fmt.Errorf("%w: fees %s exceed custodial balance of %s", ErrInvalidState, entry.FeesCollected, asset.Hex())
	}
	return available, nil
}

// WithdrawFees zeroes the collected fees of asset and pays them to
// beneficiary.
func (l *Ledger) WithdrawFees(asset, beneficiary common.Address) (*big.Int, error) {
	if beneficiary == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero beneficiary", ErrInvalidArgument)
	}
	entry, err := l.Entry(asset)
	if err != nil {
		return nil, err
	}
	fees := entry.FeesCollected
	if fees.Sign() == 0 {
		return nil, fmt.Errorf("%w: no fees collected for %s", ErrInvalidArgument, asset.Hex())
	}

	entry.FeesCollected = new(big.Int)
	if err := l.putEntry(asset, entry); err != nil {
		return nil, err
	}
	if err := l.bank.Transfer(asset, l.pool, beneficiary, fees); err != nil {
		if errors.Is(err, token.ErrInsufficientBalance) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return nil, err
	}
	return fees, nil
}

// WithdrawLiquidity pays amount of the available liquidity to recipient.
func (l *Ledger) WithdrawLiquidity(asset, recipient common.Address, amount *big.Int) error {
	if !bpsmath.IsPositive(amount) {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: zero recipient", ErrInvalidArgument)
	}
	available, err := l.AvailableLiquidity(asset)
	if err != nil {
		return err
	}
	if amount.Cmp(available) > 0 {
		return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientLiquidity, amount, available)
	}
	return l.bank.Transfer(asset, l.pool, recipient, amount)
}

// DepositLiquidity moves amount of asset from depositor into the pool.
func (l *Ledger) DepositLiquidity(asset, depositor common.Address, amount *big.Int) error {
	if !bpsmath.IsPositive(amount) {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if err := l.bank.Transfer(asset, depositor, l.pool, amount); err != nil {
		if errors.Is(err, token.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return err
	}
	return nil
}
