// Package api serves a read-only HTTP view of the pool.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashvault/config"
	"github.com/michaelpento.lv/flashvault/flashloan"
	bpsmath "github.com/michaelpento.lv/flashvault/utils/math"
	"github.com/michaelpento.lv/flashvault/utils/metrics"
)

const shutdownTimeout = 5 * time.Second

// Server exposes pool queries over HTTP.
type Server struct {
	manager  *flashloan.Manager
	cfg      config.APIConfig
	metrics  *metrics.HTTPMetrics
	gatherer prometheus.Gatherer
	limiter  *RateLimiter
	logger   *zap.Logger

	router http.Handler
}

// NewServer builds the router. gatherer may be nil, in which case /metrics
// is not mounted.
func NewServer(manager *flashloan.Manager, cfg config.APIConfig, m *metrics.HTTPMetrics, gatherer prometheus.Gatherer, logger *zap.Logger) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewHTTPMetrics(prometheus.NewRegistry(), metrics.DefaultNamespace)
	}
	s := &Server{
		manager:  manager,
		cfg:      cfg,
		metrics:  m,
		gatherer: gatherer,
		limiter:  NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst, m, logger),
		logger:   logger,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.health)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.limiter.Middleware)
		v1.Route("/assets/{asset}", func(ar chi.Router) {
			ar.Get("/", s.getAsset)
			ar.Get("/params", s.getParams)
			ar.Get("/premium", s.getPremium)
			ar.Get("/liquidity", s.getLiquidity)
			ar.Get("/ledger", s.getLedger)
			ar.Get("/balances/{holder}", s.getBalance)
		})
		v1.Get("/callers/{caller}", s.getCaller)
	})
	return r
}

// Run serves on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		ticker := time.NewTicker(visitorTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.limiter.Sweep(); n > 0 {
					s.logger.Debug("Swept idle rate limit entries", zap.Int("removed", n))
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api: %w", err)
		}
		return nil
	}
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.metrics.Latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type healthResponse struct {
	Status string `json:"status"`
	Pool   string `json:"pool"`
	Busy   bool   `json:"busy"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Pool:   s.manager.Pool().Hex(),
		Busy:   s.manager.Busy(),
	})
}

type assetResponse struct {
	Asset  string `json:"asset"`
	Listed bool   `json:"listed"`
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return
	}
	listed, err := s.manager.IsAssetListed(asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assetResponse{Asset: asset.Hex(), Listed: listed})
}

type paramsResponse struct {
	Asset                 string `json:"asset"`
	MinAmount             string `json:"min_amount"`
	MaxAmount             string `json:"max_amount"`
	BasePremiumRateBps    uint64 `json:"base_premium_rate_bps"`
	DynamicPremiumRateBps uint64 `json:"dynamic_premium_rate_bps"`
	MaxDuration           string `json:"max_duration"`
}

func (s *Server) getParams(w http.ResponseWriter, r *http.Request) {
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return
	}
	params, err := s.manager.LoanParameters(asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsResponse{
		Asset:                 asset.Hex(),
		MinAmount:             params.MinAmount.String(),
		MaxAmount:             params.MaxAmount.String(),
		BasePremiumRateBps:    params.BasePremiumRateBps,
		DynamicPremiumRateBps: params.DynamicPremiumRateBps,
		MaxDuration:           params.MaxDuration.String(),
	})
}

type premiumResponse struct {
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	Premium string `json:"premium"`
	Owed    string `json:"owed"`
}

func (s *Server) getPremium(w http.ResponseWriter, r *http.Request) {
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return
	}
	amount, ok := bpsmath.ParseAmount(r.URL.Query().Get("amount"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_argument", "amount must be a base-10 integer")
		return
	}
	premium, err := s.manager.CalculatePremium(asset, amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, premiumResponse{
		Asset:   asset.Hex(),
		Amount:  amount.String(),
		Premium: premium.String(),
		Owed:    bpsmath.Sum(amount, premium).String(),
	})
}

type liquidityResponse struct {
	Asset     string `json:"asset"`
	Available string `json:"available"`
	Custodial string `json:"custodial"`
}

func (s *Server) getLiquidity(w http.ResponseWriter, r *http.Request) {
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return
	}
	available, err := s.manager.AvailableLiquidity(asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	custodial, err := s.manager.CustodialBalance(asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidityResponse{
		Asset:     asset.Hex(),
		Available: available.String(),
		Custodial: custodial.String(),
	})
}

type ledgerResponse struct {
	Asset         string `json:"asset"`
	FeesCollected string `json:"fees_collected"`
	VolumeLent    string `json:"volume_lent"`
	LoanCount     uint64 `json:"loan_count"`
}

func (s *Server) getLedger(w http.ResponseWriter, r *http.Request) {
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return
	}
	entry, err := s.manager.LedgerEntry(asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerResponse{
		Asset:         asset.Hex(),
		FeesCollected: entry.FeesCollected.String(),
		VolumeLent:    entry.VolumeLent.String(),
		LoanCount:     entry.LoanCount,
	})
}

type balanceResponse struct {
	Asset   string `json:"asset"`
	Holder  string `json:"holder"`
	Balance string `json:"balance"`
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return
	}
	holder, ok := addressParam(w, r, "holder")
	if !ok {
		return
	}
	balance, err := s.manager.BalanceOf(asset, holder)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Asset: asset.Hex(), Holder: holder.Hex(), Balance: balance.String()})
}

type callerResponse struct {
	Caller     string `json:"caller"`
	Authorized bool   `json:"authorized"`
}

func (s *Server) getCaller(w http.ResponseWriter, r *http.Request) {
	caller, ok := addressParam(w, r, "caller")
	if !ok {
		return
	}
	authorized, err := s.manager.IsCallerAuthorized(caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, callerResponse{Caller: caller.Hex(), Authorized: authorized})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := flashloan.ErrorKind(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("API request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeError(w, status, kind, err.Error())
}

func statusFor(kind string) int {
	switch kind {
	case "invalid_argument", "amount_out_of_range":
		return http.StatusBadRequest
	case "not_found", "asset_not_listed":
		return http.StatusNotFound
	case "not_authorized", "caller_not_authorized":
		return http.StatusForbidden
	case "reentrant":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := chi.URLParam(r, name)
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("%s must be a hex address", name))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
