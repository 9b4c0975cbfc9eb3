package metrics

import (
	"math/big"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const DefaultNamespace = "flashvault"

var registry = prometheus.NewRegistry()

// Registry returns the process-wide registry served on /metrics.
func Registry() *prometheus.Registry {
	return registry
}

// Initialize registers the Go runtime and process collectors on the global
// registry. Safe to call once at startup.
func Initialize() {
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

type PoolMetrics struct {
	LoansExecuted    *prometheus.CounterVec
	LoansReverted    *prometheus.CounterVec
	VolumeLent       *prometheus.CounterVec
	PremiumCollected *prometheus.CounterVec
	ExecutionLatency prometheus.Histogram
	CallbackLatency  prometheus.Histogram
	AdvisoryFalse    prometheus.Counter
	ActiveLoans      prometheus.Gauge
	AdminOps         *prometheus.CounterVec
}

// NewPoolMetrics creates the pool metrics on reg. Tests pass a fresh
// registry per pool so collectors never collide.
func NewPoolMetrics(reg prometheus.Registerer, namespace string) *PoolMetrics {
	factory := promauto.With(reg)
	return &PoolMetrics{
		LoansExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loans_executed_total",
			Help:      "Total number of committed flash loans",
		}, []string{"asset"}),
		LoansReverted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loans_reverted_total",
			Help:      "Total number of reverted flash loans by reason",
		}, []string{"reason"}),
		VolumeLent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "volume_lent_total",
			Help:      "Principal lent in committed loans, in base units",
		}, []string{"asset"}),
		PremiumCollected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "premium_collected_total",
			Help:      "Premium collected in committed loans, in base units",
		}, []string{"asset"}),
		ExecutionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_latency_seconds",
			Help:      "Latency of flash loan execution",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		CallbackLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "callback_latency_seconds",
			Help:      "Time spent inside receiver callbacks",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		AdvisoryFalse: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_advisory_false_total",
			Help:      "Callbacks that returned false but repaid in full",
		}),
		ActiveLoans: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_loans",
			Help:      "Number of flash loans currently outstanding",
		}),
		AdminOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_operations_total",
			Help:      "Administrative operations by name and outcome",
		}, []string{"operation", "result"}),
	}
}

type HTTPMetrics struct {
	Requests    *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	RateLimited prometheus.Counter
}

func NewHTTPMetrics(reg prometheus.Registerer, namespace string) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}
}

// AmountToFloat converts a base-unit amount for a float-valued metric. Very
// large amounts lose precision; the ledger stays exact.
func AmountToFloat(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	return f
}

// Snapshot flattens gathered metrics into "name{k=v,...}" → value. Counters
// and gauges report their value, histograms their sample count.
type Snapshot map[string]float64

// TakeSnapshot gathers g and flattens the result.
func TakeSnapshot(g prometheus.Gatherer) (Snapshot, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}

	snap := make(Snapshot)
	for _, family := range families {
		for _, m := range family.GetMetric() {
			snap[seriesName(family.GetName(), m.GetLabel())] = metricValue(family.GetType(), m)
		}
	}
	return snap, nil
}

// Get returns the value of the named series, zero when absent.
func (s Snapshot) Get(name string, labels ...string) float64 {
	pairs := make([]*dto.LabelPair, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		k, v := labels[i], labels[i+1]
		pairs = append(pairs, &dto.LabelPair{Name: &k, Value: &v})
	}
	return s[seriesName(name, pairs)]
}

func seriesName(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

func metricValue(kind dto.MetricType, m *dto.Metric) float64 {
	switch kind {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		return float64(m.GetHistogram().GetSampleCount())
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue()
	default:
		return 0
	}
}
