package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"ticketpay/apperr"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserID returns the authenticated caller from the request context.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// Authenticator enforces the engine's request identity: an X-User-ID header
// plus an access_token cookie, JWT-validated when a secret is configured.
type Authenticator struct {
	secret string
}

// NewAuthenticator builds the auth middleware. An empty secret skips JWT
// validation (the cookie must still be present).
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: secret}
}

// Middleware rejects unauthenticated requests and stashes the user id in the
// context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, apperr.New(http.StatusUnauthorized, "unauthenticated", "Authentication required"))
			return
		}
		if _, err := uuid.Parse(userID); err != nil {
			writeError(w, apperr.BadRequest("Invalid user identifier"))
			return
		}
		cookie, err := r.Cookie("access_token")
		if err != nil || cookie.Value == "" {
			writeError(w, apperr.BadRequest("Invalid request, session is malformed"))
			return
		}
		if a.secret != "" {
			_, err := jwt.Parse(cookie.Value, func(*jwt.Token) (any, error) {
				return []byte(a.secret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil {
				writeError(w, apperr.New(http.StatusUnauthorized, "unauthenticated", "Session expired or invalid").WithCause(err))
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

// RateLimit is a per-client budget for one route group.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

// RateLimiter keeps one x/time limiter per client per route key.
type RateLimiter struct {
	limits   map[string]RateLimit
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter over the configured route budgets.
func NewRateLimiter(limits map[string]RateLimit) *RateLimiter {
	return &RateLimiter{limits: limits, visitors: make(map[string]*rate.Limiter)}
}

// Middleware throttles by client identity; routes without a configured limit
// pass through.
func (rl *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit, ok := rl.limits[key]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if !rl.obtain(key+"|"+clientID(r), limit).Allow() {
				writeError(w, apperr.New(http.StatusTooManyRequests, "rate_limited", "Too many requests, slow down"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) obtain(id string, cfg RateLimit) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok := rl.visitors[id]; ok {
		return limiter
	}
	perSecond := cfg.RequestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	rl.visitors[id] = limiter
	return limiter
}

// clientID prefers the authenticated user, falling back to the remote host.
func clientID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Observability wraps routes with request metrics, a trace span, and slog
// request logging.
type Observability struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	registry  *prometheus.Registry
}

// NewObservability builds the per-route HTTP telemetry with its own registry.
func NewObservability(logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ticketpay",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "HTTP requests processed by the gateway.",
	}, []string{"route", "method", "status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ticketpay",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	registry.MustRegister(requests, durations)
	return &Observability{
		logger:    logger,
		tracer:    otel.Tracer("ticketpay-gateway"),
		requests:  requests,
		durations: durations,
		registry:  registry,
	}
}

// Middleware instruments one route group.
func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := o.tracer.Start(r.Context(), route, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", recorder.status))
			span.End()

			elapsed := time.Since(start)
			o.requests.WithLabelValues(route, r.Method, http.StatusText(recorder.status)).Inc()
			o.durations.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())
			o.logger.Info("http request",
				"method", r.Method,
				"path", strings.TrimSuffix(r.URL.Path, "/"),
				"route", route,
				"status", recorder.status,
				"duration_ms", elapsed.Milliseconds(),
			)
		})
	}
}

// MetricsHandler serves the gateway registry together with the engine's
// default-registry metrics.
func (o *Observability) MetricsHandler() http.Handler {
	gatherers := prometheus.Gatherers{o.registry, prometheus.DefaultGatherer}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
