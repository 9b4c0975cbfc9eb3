package flashloan

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashvault/types"
	bpsmath "github.com/michaelpento.lv/flashvault/utils/math"
)

// Premium computes floor(amount*base/10000) + floor(amount*dynamic/10000).
// Each term truncates on its own. The dynamic rate is a second flat rate; it
// does not scale with utilization or loan size.
func Premium(p types.LoanParameters, amount *big.Int) *big.Int {
	base := bpsmath.ApplyBps(amount, p.BasePremiumRateBps)
	dynamic := bpsmath.ApplyBps(amount, p.DynamicPremiumRateBps)
	return base.Add(base, dynamic)
}

// PremiumCalculator prices loans from stored parameters.
type PremiumCalculator struct {
	params *ParamStore
}

func NewPremiumCalculator(params *ParamStore) *PremiumCalculator {
	return &PremiumCalculator{params: params}
}

// Premium returns the premium owed for borrowing amount of asset.
func (c *PremiumCalculator) Premium(asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || bpsmath.IsNegative(amount) {
		return nil, fmt.Errorf("%w: amount must be non-negative", ErrInvalidArgument)
	}
	params, err := c.params.Get(asset)
	if err != nil {
		return nil, err
	}
	return Premium(params, amount), nil
}
