package math

import (
	"math/big"
)

// BasisPoints is the denominator for all fee rates (1 bps = 0.01%)
const BasisPoints = 10_000

var basisPoints = big.NewInt(BasisPoints)

// ApplyBps returns floor(amount * bps / 10000).
// A nil or non-positive amount yields zero.
func ApplyBps(amount *big.Int, bps uint64) *big.Int {
	if !IsPositive(amount) || bps == 0 {
		return new(big.Int)
	}

	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	fee.Div(fee, basisPoints)

	return fee
}

// Clone creates an independent copy of x, treating nil as zero
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// OrZero returns x, or a fresh zero when x is nil
func OrZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

// IsPositive returns true if x is greater than zero
func IsPositive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}

// IsNegative returns true if x is less than zero
func IsNegative(x *big.Int) bool {
	return x != nil && x.Sign() < 0
}

// Sum adds all values into a new big.Int; nil values count as zero.
func Sum(values ...*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// ParseAmount parses a base-10 integer amount.
func ParseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}
