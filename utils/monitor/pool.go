package monitor

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashvault/types"
	"github.com/michaelpento.lv/flashvault/utils/metrics"
)

const DefaultInterval = 15 * time.Second

// PoolReader is the read side of the pool the monitor samples.
type PoolReader interface {
	ListedAssets() ([]common.Address, error)
	IsAssetListed(asset common.Address) (bool, error)
	AvailableLiquidity(asset common.Address) (*big.Int, error)
	CustodialBalance(asset common.Address) (*big.Int, error)
	LedgerEntry(asset common.Address) (*types.LedgerEntry, error)
	Busy() bool
}

// AssetState is one sample of an asset's pool state.
type AssetState struct {
	Listed        bool
	Custodial     *big.Int
	Available     *big.Int
	FeesCollected *big.Int
	LoanCount     uint64
}

// PoolMonitor periodically samples pool state into gauges
type PoolMonitor struct {
	ctx      context.Context
	cancel   context.CancelFunc
	pool     PoolReader
	assets   []common.Address
	interval time.Duration
	logger   *zap.Logger
	metrics  struct {
		listed    *prometheus.GaugeVec
		custodial *prometheus.GaugeVec
		available *prometheus.GaugeVec
		fees      *prometheus.GaugeVec
		loans     *prometheus.GaugeVec
		busy      prometheus.Gauge
	}

	mu     sync.RWMutex
	states map[common.Address]AssetState
	wg     sync.WaitGroup
}

// NewPoolMonitor registers the gauges on reg. Call Start to begin sampling.
// Every listed asset is sampled; assets adds extra ones to watch even while
// unlisted.
func NewPoolMonitor(ctx context.Context, pool PoolReader, assets []common.Address, reg prometheus.Registerer, namespace string, interval time.Duration, logger *zap.Logger) *PoolMonitor {
	ctx, cancel := context.WithCancel(ctx)
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &PoolMonitor{
		ctx:      ctx,
		cancel:   cancel,
		pool:     pool,
		assets:   assets,
		interval: interval,
		logger:   logger,
		states:   make(map[common.Address]AssetState),
	}

	factory := promauto.With(reg)
	gauge := func(name, help string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, []string{"asset"})
	}
	m.metrics.listed = gauge("asset_listed", "1 when the asset is listed")
	m.metrics.custodial = gauge("custodial_balance", "Pool balance of the asset")
	m.metrics.available = gauge("available_liquidity", "Lendable balance of the asset, net of fees")
	m.metrics.fees = gauge("fees_collected", "Fees collected and not yet withdrawn")
	m.metrics.loans = gauge("loan_count", "Loans executed against the asset")
	m.metrics.busy = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "busy",
		Help:      "1 while an invocation holds the guard",
	})
	return m
}

// Start samples once immediately, then every interval until Cleanup.
func (m *PoolMonitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.monitor()
	}()
}

func (m *PoolMonitor) monitor() {
	if err := m.Collect(); err != nil {
		m.logger.Error("Failed to collect pool metrics", zap.Error(err))
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.Collect(); err != nil {
				m.logger.Error("Failed to collect pool metrics", zap.Error(err))
			}
		}
	}
}

// Collect takes one sample of every watched asset.
func (m *PoolMonitor) Collect() error {
	busy := 0.0
	if m.pool.Busy() {
		busy = 1
	}
	m.metrics.busy.Set(busy)

	watched, err := m.watched()
	if err != nil {
		return err
	}
	states := make(map[common.Address]AssetState, len(watched))
	for _, asset := range watched {
		state, err := m.sample(asset)
		if err != nil {
			return fmt.Errorf("sample %s: %w", asset.Hex(), err)
		}
		states[asset] = state

		label := asset.Hex()
		listed := 0.0
		if state.Listed {
			listed = 1
		}
		m.metrics.listed.WithLabelValues(label).Set(listed)
		m.metrics.custodial.WithLabelValues(label).Set(metrics.AmountToFloat(state.Custodial))
		m.metrics.available.WithLabelValues(label).Set(metrics.AmountToFloat(state.Available))
		m.metrics.fees.WithLabelValues(label).Set(metrics.AmountToFloat(state.FeesCollected))
		m.metrics.loans.WithLabelValues(label).Set(float64(state.LoanCount))
	}

	m.mu.Lock()
	m.states = states
	m.mu.Unlock()
	return nil
}

// watched is the configured assets, the listed ones, and any sampled before
// so a delisted asset drops its gauges to zero instead of going stale.
func (m *PoolMonitor) watched() ([]common.Address, error) {
	listed, err := m.pool.ListedAssets()
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	seen := make(map[common.Address]struct{})
	var out []common.Address
	add := func(asset common.Address) {
		if _, ok := seen[asset]; ok {
			return
		}
		seen[asset] = struct{}{}
		out = append(out, asset)
	}
	for _, asset := range m.assets {
		add(asset)
	}
	for _, asset := range listed {
		add(asset)
	}
	m.mu.RLock()
	for asset := range m.states {
		add(asset)
	}
	m.mu.RUnlock()
	return out, nil
}

func (m *PoolMonitor) sample(asset common.Address) (AssetState, error) {
	listed, err := m.pool.IsAssetListed(asset)
	if err != nil {
		return AssetState{}, err
	}
	custodial, err := m.pool.CustodialBalance(asset)
	if err != nil {
		return AssetState{}, err
	}
	available, err := m.pool.AvailableLiquidity(asset)
	if err != nil {
		return AssetState{}, err
	}
	entry, err := m.pool.LedgerEntry(asset)
	if err != nil {
		return AssetState{}, err
	}
	return AssetState{
		Listed:        listed,
		Custodial:     custodial,
		Available:     available,
		FeesCollected: entry.FeesCollected,
		LoanCount:     entry.LoanCount,
	}, nil
}

// States returns the most recent sample.
func (m *PoolMonitor) States() map[common.Address]AssetState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[common.Address]AssetState, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

// Cleanup stops sampling and waits for the loop to exit.
func (m *PoolMonitor) Cleanup() {
	m.cancel()
	m.wg.Wait()
}
