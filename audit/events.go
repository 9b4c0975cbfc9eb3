// Package audit defines the logical events the pool emits after a committed
// operation and the sinks that receive them.
package audit

import (
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashvault/types"
)

const (
	TypeLoanExecuted       = "loan.executed"
	TypeAssetListed        = "asset.listed"
	TypeAssetDelisted      = "asset.delisted"
	TypeParametersUpdated  = "asset.parameters_updated"
	TypeCallerAuthorized   = "caller.authorized"
	TypeCallerRevoked      = "caller.revoked"
	TypeFeesWithdrawn      = "fees.withdrawn"
	TypeLiquidityDeposited = "liquidity.deposited"
	TypeLiquidityWithdrawn = "liquidity.withdrawn"
)

// Event is a structured state change.
type Event interface {
	EventType() string
	Attributes() map[string]string
}

type LoanExecuted struct {
	LoanID    string
	Caller    common.Address
	Asset     common.Address
	Amount    *big.Int
	Premium   *big.Int
	Timestamp time.Time
}

func (LoanExecuted) EventType() string { return TypeLoanExecuted }

func (e LoanExecuted) Attributes() map[string]string {
	return map[string]string{
		"loanId":    e.LoanID,
		"caller":    e.Caller.Hex(),
		"asset":     e.Asset.Hex(),
		"amount":    formatAmount(e.Amount),
		"premium":   formatAmount(e.Premium),
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

type AssetListed struct {
	Asset  common.Address
	Params types.LoanParameters
}

func (AssetListed) EventType() string { return TypeAssetListed }

func (e AssetListed) Attributes() map[string]string {
	return paramsAttributes(e.Asset, e.Params)
}

type ParametersUpdated struct {
	Asset  common.Address
	Params types.LoanParameters
}

func (ParametersUpdated) EventType() string { return TypeParametersUpdated }

func (e ParametersUpdated) Attributes() map[string]string {
	return paramsAttributes(e.Asset, e.Params)
}

type AssetDelisted struct {
	Asset common.Address
}

func (AssetDelisted) EventType() string { return TypeAssetDelisted }

func (e AssetDelisted) Attributes() map[string]string {
	return map[string]string{"asset": e.Asset.Hex()}
}

type CallerAuthorized struct {
	Caller common.Address
}

func (CallerAuthorized) EventType() string { return TypeCallerAuthorized }

func (e CallerAuthorized) Attributes() map[string]string {
	return map[string]string{"caller": e.Caller.Hex()}
}

type CallerRevoked struct {
	Caller common.Address
}

func (CallerRevoked) EventType() string { return TypeCallerRevoked }

func (e CallerRevoked) Attributes() map[string]string {
	return map[string]string{"caller": e.Caller.Hex()}
}

type FeesWithdrawn struct {
	Asset  common.Address
	To     common.Address
	Amount *big.Int
}

func (FeesWithdrawn) EventType() string { return TypeFeesWithdrawn }

func (e FeesWithdrawn) Attributes() map[string]string {
	return map[string]string{
		"asset":  e.Asset.Hex(),
		"to":     e.To.Hex(),
		"amount": formatAmount(e.Amount),
	}
}

type LiquidityDeposited struct {
	Asset  common.Address
	From   common.Address
	Amount *big.Int
}

func (LiquidityDeposited) EventType() string { return TypeLiquidityDeposited }

func (e LiquidityDeposited) Attributes() map[string]string {
	return map[string]string{
		"asset":  e.Asset.Hex(),
		"from":   e.From.Hex(),
		"amount": formatAmount(e.Amount),
	}
}

type LiquidityWithdrawn struct {
	Asset  common.Address
	To     common.Address
	Amount *big.Int
}

func (LiquidityWithdrawn) EventType() string { return TypeLiquidityWithdrawn }

func (e LiquidityWithdrawn) Attributes() map[string]string {
	return map[string]string{
		"asset":  e.Asset.Hex(),
		"to":     e.To.Hex(),
		"amount": formatAmount(e.Amount),
	}
}

func paramsAttributes(asset common.Address, p types.LoanParameters) map[string]string {
	return map[string]string{
		"asset":                 asset.Hex(),
		"minAmount":             formatAmount(p.MinAmount),
		"maxAmount":             formatAmount(p.MaxAmount),
		"basePremiumRateBps":    strconv.FormatUint(p.BasePremiumRateBps, 10),
		"dynamicPremiumRateBps": strconv.FormatUint(p.DynamicPremiumRateBps, 10),
		"maxDuration":           p.MaxDuration.String(),
	}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
