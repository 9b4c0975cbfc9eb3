package flashloan

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flashvault/store"
	"github.com/michaelpento.lv/flashvault/utils/testutils"
)

func TestPremium(t *testing.T) {
	params := testutils.ScenarioParams()

	tests := []struct {
		name    string
		amount  int64
		base    uint64
		dynamic uint64
		want    int64
	}{
		{name: "scenario 1000", amount: 1000, base: 10, dynamic: 5, want: 1},
		{name: "scenario 999 truncates to zero", amount: 999, base: 10, dynamic: 5, want: 0},
		{name: "terms truncate separately", amount: 1999, base: 5, dynamic: 5, want: 0},
		{name: "exact multiple", amount: 10000, base: 10, dynamic: 5, want: 15},
		{name: "full rate", amount: 1234, base: 10000, dynamic: 0, want: 1234},
		{name: "both full", amount: 7, base: 10000, dynamic: 10000, want: 14},
		{name: "zero rates", amount: 10000, base: 0, dynamic: 0, want: 0},
		{name: "zero amount", amount: 0, base: 10, dynamic: 5, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := params.Clone()
			p.BasePremiumRateBps = tt.base
			p.DynamicPremiumRateBps = tt.dynamic
			got := Premium(p, big.NewInt(tt.amount))
			assert.Equal(t, tt.want, got.Int64())
		})
	}

	t.Run("MatchesFormulaAcrossRange", func(t *testing.T) {
		for amount := int64(100); amount <= 10000; amount += 37 {
			want := amount*10/10000 + amount*5/10000
			assert.Equal(t, want, Premium(params, big.NewInt(amount)).Int64(), "amount %d", amount)
		}
	})

	t.Run("LargeAmountsStayExact", func(t *testing.T) {
		amount := testutils.Amount(t, "123456789012345678901234567890")
		// 123456789012345678901234567 + 61728394506172839450617283
		want := testutils.Amount(t, "185185183518518518351851850")
		assert.Equal(t, want.String(), Premium(params, amount).String())
	})
}

func TestPremiumCalculator(t *testing.T) {
	view := store.NewView(store.NewMemory())
	paramStore := NewParamStore(view)
	calc := NewPremiumCalculator(paramStore)

	_, err := calc.Premium(testutils.AssetA, big.NewInt(1000))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, paramStore.Set(testutils.AssetA, testutils.ScenarioParams()))
	premium, err := calc.Premium(testutils.AssetA, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, int64(1), premium.Int64())

	_, err = calc.Premium(testutils.AssetA, big.NewInt(-1))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = calc.Premium(testutils.AssetA, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Out-of-range amounts still price; range is enforced at execution
	premium, err = calc.Premium(testutils.AssetA, big.NewInt(50_000))
	require.NoError(t, err)
	assert.Equal(t, int64(75), premium.Int64())
}
