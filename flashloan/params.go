package flashloan

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/michaelpento.lv/flashvault/store"
	"github.com/michaelpento.lv/flashvault/types"
	bpsmath "github.com/michaelpento.lv/flashvault/utils/math"
)

const paramsKeyFormat = "params/%x"

// storedParams is the RLP form of types.LoanParameters. RLP has no signed
// integers, so the duration is kept as unsigned nanoseconds.
type storedParams struct {
	MaxAmount             *big.Int
	MinAmount             *big.Int
	BasePremiumRateBps    uint64
	DynamicPremiumRateBps uint64
	MaxDurationNanos      uint64
}

// ParamStore holds per-asset loan parameters.
type ParamStore struct {
	state State
}

func NewParamStore(state State) *ParamStore {
	return &ParamStore{state: state}
}

func paramsKey(asset common.Address) []byte {
	return []byte(fmt.Sprintf(paramsKeyFormat, asset.Bytes()))
}

// ValidateParameters checks the bounds every stored parameter set must obey.
func ValidateParameters(p types.LoanParameters) error {
	switch {
	case p.MaxAmount == nil || p.MaxAmount.Sign() <= 0:
		return fmt.Errorf("%w: max amount must be positive", ErrInvalidArgument)
	case p.MinAmount == nil || bpsmath.IsNegative(p.MinAmount):
		return fmt.Errorf("%w: min amount must be non-negative", ErrInvalidArgument)
	case p.MinAmount.Cmp(p.MaxAmount) > 0:
		return fmt.Errorf("%w: min amount %s exceeds max amount %s", ErrInvalidArgument, p.MinAmount, p.MaxAmount)
	case p.BasePremiumRateBps > bpsmath.BasisPoints:
		return fmt.Errorf("%w: base premium rate %d bps exceeds %d", ErrInvalidArgument, p.BasePremiumRateBps, bpsmath.BasisPoints)
	case p.DynamicPremiumRateBps > bpsmath.BasisPoints:
		return fmt.Errorf("%w: dynamic premium rate %d bps exceeds %d", ErrInvalidArgument, p.DynamicPremiumRateBps, bpsmath.BasisPoints)
	case p.MaxDuration < 0:
		return fmt.Errorf("%w: max duration must be non-negative", ErrInvalidArgument)
	}
	return nil
}

// Get returns the parameters for asset, or ErrNotFound.
func (s *ParamStore) Get(asset common.Address) (types.LoanParameters, error) {
	data, err := s.state.Get(paramsKey(asset))
	if errors.Is(err, store.ErrNotFound) {
		return types.LoanParameters{}, fmt.Errorf("%w: no parameters for %s", ErrNotFound, asset.Hex())
	}
	if err != nil {
		return types.LoanParameters{}, err
	}

	var stored storedParams
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return types.LoanParameters{}, fmt.Errorf("decode parameters for %s: %w", asset.Hex(), err)
	}
	return types.LoanParameters{
		MaxAmount:             bpsmath.OrZero(stored.MaxAmount),
		MinAmount:             bpsmath.OrZero(stored.MinAmount),
		BasePremiumRateBps:    stored.BasePremiumRateBps,
		DynamicPremiumRateBps: stored.DynamicPremiumRateBps,
		MaxDuration:           time.Duration(stored.MaxDurationNanos),
	}, nil
}

// Set validates and stores parameters for asset.
func (s *ParamStore) Set(asset common.Address, p types.LoanParameters) error {
	if asset == (common.Address{}) {
		return fmt.Errorf("%w: zero asset address", ErrInvalidArgument)
	}
	if err := ValidateParameters(p); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(storedParams{
		MaxAmount:             p.MaxAmount,
		MinAmount:             p.MinAmount,
		BasePremiumRateBps:    p.BasePremiumRateBps,
		DynamicPremiumRateBps: p.DynamicPremiumRateBps,
		MaxDurationNanos:      uint64(p.MaxDuration),
	})
	if err != nil {
		return err
	}
	return s.state.Put(paramsKey(asset), encoded)
}

// Clear deletes the parameters for asset. Clearing an asset without
// parameters is a no-op.
func (s *ParamStore) Clear(asset common.Address) error {
	err := s.state.Delete(paramsKey(asset))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func sameParameters(a, b types.LoanParameters) bool {
	return a.MaxAmount.Cmp(b.MaxAmount) == 0 &&
		a.MinAmount.Cmp(b.MinAmount) == 0 &&
		a.BasePremiumRateBps == b.BasePremiumRateBps &&
		a.DynamicPremiumRateBps == b.DynamicPremiumRateBps &&
		a.MaxDuration == b.MaxDuration
}
