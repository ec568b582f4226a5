package server

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route pattern.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	invocationsThrottledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nepenthes_invocations_throttled_total",
			Help: "Manual invocations rejected by the per-client limit.",
		},
		[]string{"function"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, invocationsThrottledTotal)
}

// instrument logs each request and records it under its chi route pattern.
// Requests to quiet paths are counted but not logged.
func instrument(logger *zap.Logger, quiet ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(quiet))
	for _, p := range quiet {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			if id := middleware.GetReqID(r.Context()); id != "" {
				w.Header().Set(middleware.RequestIDHeader, id)
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			route := routePattern(r)

			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

			if skip[r.URL.Path] {
				return
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if fn := chi.URLParam(r, "name"); fn != "" {
				fields = append(fields, zap.String("function", fn))
			}
			logger.Info("http request", fields...)
		})
	}
}

// routePattern returns the matched chi pattern so that function names in
// the path do not each create a new label value.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	return "unmatched"
}

// recoverer turns a handler panic into a 500 problem naming the function
// that was being invoked.
func recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				fn := chi.URLParam(r, "name")
				logger.Error("handler panicked",
					zap.String("function", fn),
					zap.Any("panic", rec),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
				writeProblem(w, r, functionPanicked(fn))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// invokeLimiter hands each client its own token bucket for manual
// invocations. Every invocation may spend vendor API quota that the
// scheduled plug-status run also needs.
type invokeLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	*rate.Limiter
	lastSeen time.Time
}

// maxTrackedClients bounds the bucket map; idle buckets are swept when it
// fills.
const maxTrackedClients = 1000

func newInvokeLimiter(perSecond float64, burst int) *invokeLimiter {
	return &invokeLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*clientBucket),
	}
}

func (l *invokeLimiter) allow(client string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[client]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.sweep(now.Add(-10 * time.Minute))
		}
		b = &clientBucket{Limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = b
	}
	b.lastSeen = now
	return b.AllowN(now, 1)
}

// sweep drops buckets idle since cutoff. l.mu must be held.
func (l *invokeLimiter) sweep(cutoff time.Time) {
	for c, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, c)
		}
	}
}

// middleware rejects invocations over the client's budget with a 429
// problem. The client is the host part of RemoteAddr, as set by
// middleware.RealIP.
func (l *invokeLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			client = r.RemoteAddr
		}
		if !l.allow(client, time.Now()) {
			fn := chi.URLParam(r, "name")
			invocationsThrottledTotal.WithLabelValues(fn).Inc()
			writeProblem(w, r, invokeThrottled(fn))
			return
		}
		next.ServeHTTP(w, r)
	})
}
