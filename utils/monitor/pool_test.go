package monitor

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashvault/flashloan"
	"github.com/michaelpento.lv/flashvault/store"
	"github.com/michaelpento.lv/flashvault/types"
	"github.com/michaelpento.lv/flashvault/utils/metrics"
	"github.com/michaelpento.lv/flashvault/utils/testutils"
)

func newPool(t *testing.T) *flashloan.Manager {
	t.Helper()
	m, err := flashloan.NewManager(store.NewMemory(), flashloan.Options{
		Pool:   testutils.Pool,
		Admins: flashloan.NewStaticAdmins(testutils.Admin),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	admin := testutils.Admin
	require.NoError(t, m.ListAsset(admin, testutils.AssetA, testutils.ScenarioParams()))
	require.NoError(t, m.AuthorizeCaller(admin, testutils.Caller))
	require.NoError(t, m.Credit(admin, testutils.AssetA, admin, big.NewInt(10_000)))
	require.NoError(t, m.DepositLiquidity(admin, testutils.AssetA, big.NewInt(10_000)))
	require.NoError(t, m.Credit(admin, testutils.AssetA, testutils.Caller, big.NewInt(15)))
	_, err = m.ExecuteFlashLoan(context.Background(), testutils.Caller, testutils.AssetA, big.NewInt(10_000), nil, flashloan.RepayingReceiver{})
	require.NoError(t, err)
	return m
}

func TestPoolMonitorCollect(t *testing.T) {
	reg := prometheus.NewRegistry()
	mon := NewPoolMonitor(context.Background(), newPool(t),
		[]common.Address{testutils.AssetA, testutils.AssetB}, reg, "test", time.Hour, zaptest.NewLogger(t))
	defer mon.Cleanup()

	require.NoError(t, mon.Collect())

	states := mon.States()
	require.Len(t, states, 2)
	a := states[testutils.AssetA]
	assert.True(t, a.Listed)
	assert.Equal(t, "10015", a.Custodial.String())
	assert.Equal(t, "10000", a.Available.String())
	assert.Equal(t, "15", a.FeesCollected.String())
	assert.Equal(t, uint64(1), a.LoanCount)
	assert.False(t, states[testutils.AssetB].Listed)

	snap, err := metrics.TakeSnapshot(reg)
	require.NoError(t, err)
	label := testutils.AssetA.Hex()
	assert.Equal(t, float64(10015), snap.Get("test_pool_custodial_balance", "asset", label))
	assert.Equal(t, float64(10000), snap.Get("test_pool_available_liquidity", "asset", label))
	assert.Equal(t, float64(15), snap.Get("test_pool_fees_collected", "asset", label))
	assert.Equal(t, float64(1), snap.Get("test_pool_asset_listed", "asset", label))
	assert.Equal(t, float64(0), snap.Get("test_pool_asset_listed", "asset", testutils.AssetB.Hex()))
	assert.Equal(t, float64(0), snap.Get("test_pool_busy"))
}

type failingReader struct{}

func (failingReader) Busy() bool { return false }

func (failingReader) ListedAssets() ([]common.Address, error) { return nil, nil }

func (failingReader) IsAssetListed(common.Address) (bool, error) {
	return false, errors.New("store unavailable")
}

func (failingReader) AvailableLiquidity(common.Address) (*big.Int, error) { return nil, nil }

func (failingReader) CustodialBalance(common.Address) (*big.Int, error) { return nil, nil }

func (failingReader) LedgerEntry(common.Address) (*types.LedgerEntry, error) { return nil, nil }

func TestPoolMonitorError(t *testing.T) {
	mon := NewPoolMonitor(context.Background(), failingReader{}, []common.Address{testutils.AssetA},
		prometheus.NewRegistry(), "test", time.Hour, zaptest.NewLogger(t))
	defer mon.Cleanup()

	err := mon.Collect()
	assert.ErrorContains(t, err, "store unavailable")
	assert.Empty(t, mon.States())
}

func TestPoolMonitorLoop(t *testing.T) {
	mon := NewPoolMonitor(context.Background(), newPool(t), []common.Address{testutils.AssetA},
		prometheus.NewRegistry(), "test", 10*time.Millisecond, zaptest.NewLogger(t))
	mon.Start()

	require.Eventually(t, func() bool {
		return len(mon.States()) == 1
	}, time.Second, 5*time.Millisecond)
	mon.Cleanup()
}

func TestPoolMonitorFollowsRegistry(t *testing.T) {
	m := newPool(t)
	reg := prometheus.NewRegistry()
	mon := NewPoolMonitor(context.Background(), m, nil, reg, "test", time.Hour, zaptest.NewLogger(t))
	defer mon.Cleanup()

	require.NoError(t, mon.Collect())
	require.Len(t, mon.States(), 1)

	t.Run("asset listed after start", func(t *testing.T) {
		require.NoError(t, m.ListAsset(testutils.Admin, testutils.AssetB, testutils.ScenarioParams()))
		require.NoError(t, mon.Collect())

		states := mon.States()
		require.Len(t, states, 2)
		assert.True(t, states[testutils.AssetB].Listed)

		snap, err := metrics.TakeSnapshot(reg)
		require.NoError(t, err)
		assert.Equal(t, float64(1), snap.Get("test_pool_asset_listed", "asset", testutils.AssetB.Hex()))
	})

	t.Run("delisted asset stays watched", func(t *testing.T) {
		require.NoError(t, m.DelistAsset(testutils.Admin, testutils.AssetB))
		require.NoError(t, mon.Collect())

		states := mon.States()
		require.Len(t, states, 2)
		assert.False(t, states[testutils.AssetB].Listed)

		snap, err := metrics.TakeSnapshot(reg)
		require.NoError(t, err)
		assert.Equal(t, float64(0), snap.Get("test_pool_asset_listed", "asset", testutils.AssetB.Hex()))
	})
}
