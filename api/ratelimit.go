package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/flashvault/utils/metrics"
)

const visitorTTL = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands every client its own token bucket.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	metrics *metrics.HTTPMetrics
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewRateLimiter returns nil when requestsPerSecond is not positive, which
// disables limiting.
func NewRateLimiter(requestsPerSecond float64, burst int, m *metrics.HTTPMetrics, logger *zap.Logger) *RateLimiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := clientID(req)
		if !r.allow(id) {
			if r.metrics != nil {
				r.metrics.RateLimited.Inc()
			}
			r.logger.Debug("Request rate limited", zap.String("client", id), zap.String("path", req.URL.Path))
			writeError(w, http.StatusTooManyRequests, "rate_limited", http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *RateLimiter) allow(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	v, ok := r.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Sweep forgets clients idle for longer than the visitor TTL.
func (r *RateLimiter) Sweep() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-visitorTTL)
	removed := 0
	for id, v := range r.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(r.visitors, id)
			removed++
		}
	}
	return removed
}

func (r *RateLimiter) Visitors() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}

func clientID(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
		return first
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
