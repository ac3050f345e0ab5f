package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lei/actions-ledger/internal/config"
	"github.com/lei/actions-ledger/pkg/logger"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actions_ledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "actions_ledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// AuthMiddleware checks API keys sent as "Authorization: Bearer <key>" or
// "X-API-Key: <key>"
type AuthMiddleware struct {
	keys []config.APIKey
}

// NewAuthMiddleware creates a new auth middleware. With no keys configured
// every request is let through.
func NewAuthMiddleware(keys []config.APIKey) *AuthMiddleware {
	return &AuthMiddleware{keys: keys}
}

// lookup returns the name of the configured key matching presented
func (m *AuthMiddleware) lookup(presented string) (string, bool) {
	for _, k := range m.keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(presented)) == 1 {
			return k.Name, true
		}
	}
	return "", false
}

// credential extracts the presented key, or a client-facing reason it is unusable
func credential(r *http.Request) (key, problem string) {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k, ""
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", "invalid authorization format, expected 'Bearer <token>'"
	}
	return token, ""
}

// Authenticate rejects requests without a valid key
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.keys) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		log := logger.FromContext(r.Context(), logger.Nop())

		key, problem := credential(r)
		if problem != "" {
			log.Warn("auth: rejected request", "reason", problem)
			respondError(w, r, http.StatusUnauthorized, problem)
			return
		}

		name, ok := m.lookup(key)
		if !ok {
			prefix := key
			if len(prefix) > 8 {
				prefix = prefix[:8]
			}
			log.Warn("auth: invalid api key", "key_prefix", prefix)
			respondError(w, r, http.StatusUnauthorized, "invalid api key")
			return
		}

		log.Debug("auth: accepted", "api_key_name", name)
		ctx := context.WithValue(r.Context(), contextKeyAPIKeyName, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware attaches a request-scoped logger, logs completion and
// records request metrics
type LoggingMiddleware struct {
	logger *logger.Logger
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(log *logger.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: log}
}

// Handler wraps HTTP handlers with logging
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = "unknown"
		}

		reqLogger := m.logger.With(
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx := logger.WithContext(r.Context(), reqLogger)
		ctx = context.WithValue(ctx, contextKeyRequestID, requestID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		fields := []any{
			"status", status,
			"route", route,
			"duration_ms", elapsed.Milliseconds(),
			"bytes_written", ww.BytesWritten(),
		}
		switch {
		case status >= 500:
			reqLogger.Error("request completed", fields...)
		case status >= 400:
			reqLogger.Warn("request completed", fields...)
		default:
			reqLogger.Info("request completed", fields...)
		}
	})
}
