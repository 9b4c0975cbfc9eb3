package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LoanParameters holds the per-asset lending configuration
type LoanParameters struct {
	MaxAmount             *big.Int // Largest principal a single loan may borrow
	MinAmount             *big.Int // Smallest principal a single loan may borrow
	BasePremiumRateBps    uint64   // Flat premium rate in basis points (1 = 0.01%)
	DynamicPremiumRateBps uint64   // Second premium rate, applied linearly like the base rate
	MaxDuration           time.Duration
}

// Clone returns a deep copy of the loan parameters.
func (p LoanParameters) Clone() LoanParameters {
	clone := p
	if p.MaxAmount != nil {
		clone.MaxAmount = new(big.Int).Set(p.MaxAmount)
	}
	if p.MinAmount != nil {
		clone.MinAmount = new(big.Int).Set(p.MinAmount)
	}
	return clone
}

// LedgerEntry tracks the running totals for one asset
type LedgerEntry struct {
	FeesCollected *big.Int
	VolumeLent    *big.Int
	LoanCount     uint64
}

// NewLedgerEntry returns a zeroed ledger entry.
func NewLedgerEntry() *LedgerEntry {
	return &LedgerEntry{
		FeesCollected: big.NewInt(0),
		VolumeLent:    big.NewInt(0),
	}
}

// LoanRequest describes a single flash loan invocation. It is never persisted.
type LoanRequest struct {
	Caller  common.Address
	Asset   common.Address
	Amount  *big.Int
	Payload []byte
}
