// Package token is the in-process fungible balance ledger the pool lends from.
// Balances live in the same transactional state as the pool records, so a
// reverted invocation undoes its transfers along with everything else.
package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/michaelpento.lv/flashvault/store"
)

var (
	ErrInvalidAmount       = errors.New("token: amount must be positive")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrZeroAddress         = errors.New("token: zero address")
)

const balanceKeyFormat = "balance/%x/%x"

// State is the slice of a store.View the bank reads and writes.
type State interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Bank moves balances between holders.
type Bank struct {
	state State
}

// NewBank binds a bank to state.
func NewBank(state State) *Bank {
	return &Bank{state: state}
}

// BalanceKey returns the store key holding holder's balance of asset.
func BalanceKey(asset, holder common.Address) []byte {
	return []byte(fmt.Sprintf(balanceKeyFormat, asset.Bytes(), holder.Bytes()))
}

// BalanceOf returns holder's balance of asset. Unknown holders have zero.
func (b *Bank) BalanceOf(asset, holder common.Address) (*big.Int, error) {
	data, err := b.state.Get(BalanceKey(asset, holder))
	if errors.Is(err, store.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return balance, nil
}

func (b *Bank) setBalance(asset, holder common.Address, balance *big.Int) error {
	key := BalanceKey(asset, holder)
	if balance.Sign() == 0 {
		if err := b.state.Delete(key); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	}
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return b.state.Put(key, encoded)
}

// Transfer moves amount of asset from one holder to another.
func (b *Bank) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	fromBalance, err := b.BalanceOf(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBalance, amount)
	}
	if from == to {
		return nil
	}
	toBalance, err := b.BalanceOf(asset, to)
	if err != nil {
		return err
	}

	if err := b.setBalance(asset, from, fromBalance.Sub(fromBalance, amount)); err != nil {
		return err
	}
	return b.setBalance(asset, to, toBalance.Add(toBalance, amount))
}

// Credit mints amount of asset to holder. It funds test and simulation
// accounts; the pool itself never mints.
func (b *Bank) Credit(asset, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if holder == (common.Address{}) {
		return ErrZeroAddress
	}
	balance, err := b.BalanceOf(asset, holder)
	if err != nil {
		return err
	}
	return b.setBalance(asset, holder, balance.Add(balance, amount))
}

// Wallet returns a handle that can only spend holder's funds.
func (b *Bank) Wallet(holder common.Address) *Wallet {
	return &Wallet{bank: b, holder: holder}
}

// Wallet is a bank handle scoped to a single holder.
type Wallet struct {
	bank   *Bank
	holder common.Address
}

func (w *Wallet) Holder() common.Address {
	return w.holder
}

// BalanceOf returns any holder's balance of asset.
func (w *Wallet) BalanceOf(asset, holder common.Address) (*big.Int, error) {
	return w.bank.BalanceOf(asset, holder)
}

// Balance returns the wallet holder's own balance of asset.
func (w *Wallet) Balance(asset common.Address) (*big.Int, error) {
	return w.bank.BalanceOf(asset, w.holder)
}

// Transfer sends amount of asset from the wallet holder to to.
func (w *Wallet) Transfer(asset, to common.Address, amount *big.Int) error {
	return w.bank.Transfer(asset, w.holder, to, amount)
}
