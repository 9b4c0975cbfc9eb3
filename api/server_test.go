package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashvault/config"
	"github.com/michaelpento.lv/flashvault/flashloan"
	"github.com/michaelpento.lv/flashvault/store"
	"github.com/michaelpento.lv/flashvault/utils/metrics"
	"github.com/michaelpento.lv/flashvault/utils/testutils"
)

type testServer struct {
	srv     *Server
	reg     *prometheus.Registry
	metrics *metrics.HTTPMetrics
	manager *flashloan.Manager
}

func newTestServer(t *testing.T, cfg config.APIConfig) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := flashloan.NewManager(store.NewMemory(), flashloan.Options{
		Pool:    testutils.Pool,
		Admins:  flashloan.NewStaticAdmins(testutils.Admin),
		Metrics: metrics.NewPoolMetrics(reg, "test"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	admin := testutils.Admin
	require.NoError(t, m.Bootstrap(admin, []flashloan.AssetListing{
		{Asset: testutils.AssetA, Params: testutils.ScenarioParams()},
	}, []common.Address{testutils.Caller}))
	require.NoError(t, m.Credit(admin, testutils.AssetA, admin, big.NewInt(50_000)))
	require.NoError(t, m.DepositLiquidity(admin, testutils.AssetA, big.NewInt(20_000)))

	httpMetrics := metrics.NewHTTPMetrics(reg, "test")
	srv, err := NewServer(m, cfg, httpMetrics, reg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &testServer{srv: srv, reg: reg, metrics: httpMetrics, manager: m}
}

func (ts *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewServerRequiresManager(t *testing.T) {
	_, err := NewServer(nil, config.APIConfig{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestQueries(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{})
	assetA := testutils.AssetA.Hex()

	t.Run("health", func(t *testing.T) {
		rec := ts.get(t, "/healthz")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, testutils.Pool.Hex(), body["pool"])
		assert.Equal(t, false, body["busy"])
	})

	t.Run("asset listed", func(t *testing.T) {
		body := decode(t, ts.get(t, "/v1/assets/"+assetA))
		assert.Equal(t, true, body["listed"])

		body = decode(t, ts.get(t, "/v1/assets/"+testutils.AssetB.Hex()))
		assert.Equal(t, false, body["listed"])
	})

	t.Run("params", func(t *testing.T) {
		rec := ts.get(t, "/v1/assets/"+assetA+"/params")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "100", body["min_amount"])
		assert.Equal(t, "10000", body["max_amount"])
		assert.Equal(t, float64(10), body["base_premium_rate_bps"])
		assert.Equal(t, float64(5), body["dynamic_premium_rate_bps"])
		assert.Equal(t, time.Minute.String(), body["max_duration"])
	})

	t.Run("premium", func(t *testing.T) {
		rec := ts.get(t, "/v1/assets/"+assetA+"/premium?amount=5000")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "7", body["premium"])
		assert.Equal(t, "5007", body["owed"])
	})

	t.Run("liquidity", func(t *testing.T) {
		body := decode(t, ts.get(t, "/v1/assets/"+assetA+"/liquidity"))
		assert.Equal(t, "20000", body["available"])
		assert.Equal(t, "20000", body["custodial"])
	})

	t.Run("ledger", func(t *testing.T) {
		body := decode(t, ts.get(t, "/v1/assets/"+assetA+"/ledger"))
		assert.Equal(t, "0", body["fees_collected"])
		assert.Equal(t, "0", body["volume_lent"])
		assert.Equal(t, float64(0), body["loan_count"])
	})

	t.Run("balance", func(t *testing.T) {
		body := decode(t, ts.get(t, "/v1/assets/"+assetA+"/balances/"+testutils.Admin.Hex()))
		assert.Equal(t, "30000", body["balance"])
	})

	t.Run("caller", func(t *testing.T) {
		body := decode(t, ts.get(t, "/v1/callers/"+testutils.Caller.Hex()))
		assert.Equal(t, true, body["authorized"])

		body = decode(t, ts.get(t, "/v1/callers/"+testutils.Stranger.Hex()))
		assert.Equal(t, false, body["authorized"])
	})

	t.Run("ledger reflects executed loan", func(t *testing.T) {
		require.NoError(t, ts.manager.Credit(testutils.Admin, testutils.AssetA, testutils.Caller, big.NewInt(100)))
		_, err := ts.manager.ExecuteFlashLoan(t.Context(), testutils.Caller, testutils.AssetA, big.NewInt(10_000), nil, flashloan.RepayingReceiver{})
		require.NoError(t, err)

		body := decode(t, ts.get(t, "/v1/assets/"+assetA+"/ledger"))
		assert.Equal(t, "15", body["fees_collected"])
		assert.Equal(t, "10000", body["volume_lent"])
		assert.Equal(t, float64(1), body["loan_count"])

		body = decode(t, ts.get(t, "/v1/assets/"+assetA+"/liquidity"))
		assert.Equal(t, "20000", body["available"])
		assert.Equal(t, "20015", body["custodial"])
	})
}

func TestQueryErrors(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{})

	tests := []struct {
		name   string
		path   string
		status int
		kind   string
	}{
		{"bad asset address", "/v1/assets/nope/params", http.StatusBadRequest, "invalid_argument"},
		{"unlisted params", "/v1/assets/" + testutils.AssetB.Hex() + "/params", http.StatusNotFound, "not_found"},
		{"missing amount", "/v1/assets/" + testutils.AssetA.Hex() + "/premium", http.StatusBadRequest, "invalid_argument"},
		{"negative amount", "/v1/assets/" + testutils.AssetA.Hex() + "/premium?amount=-1", http.StatusBadRequest, "invalid_argument"},
		{"bad holder", "/v1/assets/" + testutils.AssetA.Hex() + "/balances/0x12", http.StatusBadRequest, "invalid_argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.get(t, tt.path)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.kind, decode(t, rec)["error"])
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor("amount_out_of_range"))
	assert.Equal(t, http.StatusNotFound, statusFor("asset_not_listed"))
	assert.Equal(t, http.StatusForbidden, statusFor("not_authorized"))
	assert.Equal(t, http.StatusConflict, statusFor("reentrant"))
	assert.Equal(t, http.StatusInternalServerError, statusFor("internal"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{})
	ts.get(t, "/healthz")
	ts.get(t, "/v1/assets/"+testutils.AssetA.Hex()+"/params")

	assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.Requests.WithLabelValues("/healthz", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.Requests.WithLabelValues("/v1/assets/{asset}/params", "200")))

	rec := ts.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_http_requests_total"))
	assert.True(t, strings.Contains(rec.Body.String(), "test_active_loans"))
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{RequestsPerSecond: 1, Burst: 2})
	path := "/v1/assets/" + testutils.AssetA.Hex()

	request := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Real-IP", ip)
		rec := httptest.NewRecorder()
		ts.srv.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, request("10.0.0.1"))
	assert.Equal(t, http.StatusOK, request("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("10.0.0.1"))
	assert.Equal(t, http.StatusOK, request("10.0.0.2"))
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.RateLimited))

	// health is not limited
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, ts.get(t, "/healthz").Code)
	}
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.Equal(t, 1, rl.Visitors())

	now = now.Add(visitorTTL + time.Second)
	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 0, rl.Visitors())
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 10, nil, nil)
	assert.Nil(t, rl)
	assert.Equal(t, 0, rl.Sweep())

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	rec := httptest.NewRecorder()
	rl.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClientID(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"real ip", map[string]string{"X-Real-IP": "1.2.3.4"}, "9.9.9.9:1", "1.2.3.4"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "5.6.7.8, 10.0.0.1"}, "9.9.9.9:1", "5.6.7.8"},
		{"remote addr", nil, "9.9.9.9:1234", "9.9.9.9"},
		{"remote without port", nil, "9.9.9.9", "9.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientID(req))
		})
	}
}
