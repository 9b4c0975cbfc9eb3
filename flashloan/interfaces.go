package flashloan

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashvault/token"
)

// State is the transactional key-value view one invocation runs against.
// *store.View satisfies it.
type State interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Loan is what a receiver is told about the funds it has just been handed.
type Loan struct {
	ID      string
	Pool    common.Address // Where repayment must be sent
	Caller  common.Address
	Asset   common.Address
	Amount  *big.Int
	Premium *big.Int
	Payload []byte
}

// Owed returns principal plus premium.
func (l Loan) Owed() *big.Int {
	return new(big.Int).Add(l.Amount, l.Premium)
}

// Receiver is the borrower program invoked while the loan is outstanding.
//
// By the time OnFlashLoan returns, the pool's balance of loan.Asset must be
// at least what it was before disbursement plus loan.Premium. The wallet can
// only move the caller's own funds. The boolean result is recorded but never
// trusted; only the balance check decides whether the loan succeeds. Any
// returned error or panic reverts the whole invocation.
type Receiver interface {
	OnFlashLoan(ctx context.Context, wallet *token.Wallet, loan Loan) (bool, error)
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(ctx context.Context, wallet *token.Wallet, loan Loan) (bool, error)

func (f ReceiverFunc) OnFlashLoan(ctx context.Context, wallet *token.Wallet, loan Loan) (bool, error) {
	return f(ctx, wallet, loan)
}

// AdminPolicy decides who may call privileged operations.
type AdminPolicy interface {
	IsAdmin(addr common.Address) bool
}

// StaticAdmins is a fixed admin set, usually loaded from config.
type StaticAdmins map[common.Address]struct{}

func NewStaticAdmins(addrs ...common.Address) StaticAdmins {
	admins := make(StaticAdmins, len(addrs))
	for _, addr := range addrs {
		admins[addr] = struct{}{}
	}
	return admins
}

func (s StaticAdmins) IsAdmin(addr common.Address) bool {
	if addr == (common.Address{}) {
		return false
	}
	_, ok := s[addr]
	return ok
}

// RepayingReceiver repays principal plus premium out of the borrower's own
// balance, after running Inner if one is set.
type RepayingReceiver struct {
	Inner Receiver
}

func (r RepayingReceiver) OnFlashLoan(ctx context.Context, wallet *token.Wallet, loan Loan) (bool, error) {
	if r.Inner != nil {
		if _, err := r.Inner.OnFlashLoan(ctx, wallet, loan); err != nil {
			return false, err
		}
	}
	if err := wallet.Transfer(loan.Asset, loan.Pool, loan.Owed()); err != nil {
		return false, err
	}
	return true, nil
}
