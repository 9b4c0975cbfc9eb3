package metrics

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPoolMetrics(reg, "test_pool")
	require.NotNil(t, metrics)

	metrics.LoansExecuted.WithLabelValues("0xa1").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LoansExecuted.WithLabelValues("0xa1")))

	metrics.LoansReverted.WithLabelValues("loan_not_repaid").Inc()
	metrics.LoansReverted.WithLabelValues("loan_not_repaid").Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.LoansReverted.WithLabelValues("loan_not_repaid")))

	metrics.ActiveLoans.Inc()
	metrics.ActiveLoans.Dec()
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ActiveLoans))

	// For histograms, we can only verify that they accept observations
	metrics.CallbackLatency.Observe(0.01)
	assert.NotNil(t, metrics.CallbackLatency)

	// Registering the same names twice on one registry must panic
	assert.Panics(t, func() { NewPoolMetrics(reg, "test_pool") })
}

func TestHTTPMetrics(t *testing.T) {
	metrics := NewHTTPMetrics(prometheus.NewRegistry(), "test_http")
	metrics.Requests.WithLabelValues("/healthz", "200").Inc()
	metrics.RateLimited.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Requests.WithLabelValues("/healthz", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RateLimited))
}

func TestSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPoolMetrics(reg, "snap")

	metrics.LoansExecuted.WithLabelValues("0xa1").Add(3)
	metrics.ActiveLoans.Set(2)
	metrics.ExecutionLatency.Observe(0.5)
	metrics.ExecutionLatency.Observe(0.25)

	snap, err := TakeSnapshot(reg)
	require.NoError(t, err)
	assert.Equal(t, float64(3), snap.Get("snap_loans_executed_total", "asset", "0xa1"))
	assert.Equal(t, float64(2), snap.Get("snap_active_loans"))
	assert.Equal(t, float64(2), snap.Get("snap_execution_latency_seconds"))
	assert.Equal(t, float64(0), snap.Get("snap_loans_executed_total", "asset", "0xb2"))
}

func TestAmountToFloat(t *testing.T) {
	assert.Equal(t, float64(0), AmountToFloat(nil))
	assert.Equal(t, float64(1000), AmountToFloat(big.NewInt(1000)))

	wei, _ := new(big.Int).SetString("1000000000000000000", 10)
	assert.Equal(t, 1e18, AmountToFloat(wei))
}

func TestInitialize(t *testing.T) {
	Initialize()
	snap, err := TakeSnapshot(Registry())
	require.NoError(t, err)
	assert.NotEmpty(t, snap)
}
