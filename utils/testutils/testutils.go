package testutils

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flashvault/store"
	"github.com/michaelpento.lv/flashvault/types"
)

var (
	Pool        = common.HexToAddress("0x000000000000000000000000000000000000f001")
	Admin       = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	Beneficiary = common.HexToAddress("0x000000000000000000000000000000000000be01")
	Caller      = common.HexToAddress("0x000000000000000000000000000000000000c001")
	Stranger    = common.HexToAddress("0x000000000000000000000000000000000000dead")
	AssetA      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	AssetB      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// ScenarioParams is {min=100, max=10000, base=10bps, dynamic=5bps}.
func ScenarioParams() types.LoanParameters {
	return types.LoanParameters{
		MinAmount:             big.NewInt(100),
		MaxAmount:             big.NewInt(10000),
		BasePremiumRateBps:    10,
		DynamicPremiumRateBps: 5,
		MaxDuration:           time.Minute,
	}
}

// Amount parses a decimal amount or fails the test.
func Amount(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "invalid amount %q", s)
	return v
}

// NewBackend opens a backend of the given kind in a temp dir and closes it
// when the test ends.
func NewBackend(t *testing.T, kind string) store.Backend {
	t.Helper()
	path := ""
	if kind != store.KindMemory {
		path = filepath.Join(t.TempDir(), kind)
	}
	backend, err := store.Open(kind, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

// BackendKinds lists every backend tests should run against.
func BackendKinds() []string {
	return []string{store.KindMemory, store.KindPebble, store.KindLevelDB}
}
