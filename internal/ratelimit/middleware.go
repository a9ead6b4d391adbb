package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "procflow/pkg/domain-errors"
	"procflow/pkg/platform/httputil"
	"procflow/pkg/requestcontext"
)

type Metrics struct {
	Rejected prometheus.Counter
	Errors   prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Rejected: f.NewCounter(prometheus.CounterOpts{
			Name: "procflow_ratelimit_rejected_total",
			Help: "Requests rejected by the write rate limit",
		}),
		Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "procflow_ratelimit_errors_total",
			Help: "Rate limit checks that failed and let the request through",
		}),
	}
}

type Middleware struct {
	store    Store
	limit    int
	window   time.Duration
	logger   *slog.Logger
	metrics  *Metrics
	disabled bool
}

type Option func(*Middleware)

func WithMetrics(m *Metrics) Option {
	return func(mw *Middleware) {
		mw.metrics = m
	}
}

// WithDisabled turns the middleware into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(mw *Middleware) {
		mw.disabled = disabled
	}
}

func New(store Store, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{store: store, limit: limit, window: window, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled || m.limit <= 0 {
		m.disabled = true
		logger.Info("write rate limiting disabled")
	}
	return m
}

// Writes limits state-changing requests per authenticated user, falling
// back to the client IP. Reads pass through. A failing store lets the
// request through.
func (m *Middleware) Writes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled || isSafe(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := "user:" + requestcontext.UserID(ctx).String()
		if requestcontext.UserID(ctx).IsNil() {
			key = "ip:" + requestcontext.ClientIP(ctx)
		}

		res, err := m.store.Allow(ctx, key, m.limit, m.window)
		if err != nil {
			if m.metrics != nil {
				m.metrics.Errors.Inc()
			}
			m.logger.ErrorContext(ctx, "rate limit check failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			if m.metrics != nil {
				m.metrics.Rejected.Inc()
			}
			retry := int(math.Ceil(time.Until(res.ResetAt).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isSafe(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}
