// internal/api/middleware.go
package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/ratelimit"
)

type Middleware func(http.Handler) http.Handler

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	memberIDKey  contextKey = "member_id"
)

func ChainMiddleware(h http.Handler, middleware ...Middleware) http.Handler {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}

// RequestIDFromContext returns the id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// MemberIDFromContext returns the member authenticated by WithBearerAuth.
func MemberIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(memberIDKey).(int64)
	return id, ok
}

func ContextWithMemberID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, memberIDKey, id)
}

func WithLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create response wrapper to capture status code
		wrapped := wrapResponseWriter(w)

		next.ServeHTTP(wrapped, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Str("request_id", RequestIDFromContext(r.Context())).
			Msg("Request completed")
	})
}

func WithRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger := log.Ctx(r.Context())
				stack := debug.Stack()
				logger.Error().
					Interface("error", err).
					Str("stack", string(stack)).
					Msg("Panic recovered")

				apiutil.WriteError(w, r, apiutil.HandlerError{
					Status:  http.StatusInternalServerError,
					Message: "Internal Server Error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// WithRequestID keeps a caller-supplied X-Request-ID when it is a UUID so client and
// server logs line up; otherwise it mints a new one.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}

		// Create a logger with the request ID
		logger := log.With().Str("request_id", requestID).Logger()

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		ctx = logger.WithContext(ctx)

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MemberResolver maps a bearer token to a member id.
type MemberResolver interface {
	MemberForToken(token string) (int64, bool)
}

// WithBearerAuth rejects requests without a known bearer token and stores the
// member id in the context. /health is always let through.
func WithBearerAuth(resolver MemberResolver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			logger := log.Ctx(r.Context())
			scheme, token, _ := strings.Cut(r.Header.Get("Authorization"), " ")
			if !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				logger.Warn().Msg("Request rejected: missing bearer token")
				apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusUnauthorized, Message: "Unauthorized"})
				return
			}
			memberID, ok := resolver.MemberForToken(strings.TrimSpace(token))
			if !ok {
				logger.Warn().Msg("Request rejected: unknown bearer token")
				apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusUnauthorized, Message: "Unauthorized"})
				return
			}

			ctx := ContextWithMemberID(r.Context(), memberID)
			ctx = logger.With().Int64("member_id", memberID).Logger().WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithRateLimit applies limiter to every request of kind. Rejected requests get 429
// with Retry-After in whole seconds.
func WithRateLimit(limiter *ratelimit.Limiter, kind ratelimit.Kind, trustProxy bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			member := ""
			if id, ok := MemberIDFromContext(r.Context()); ok {
				member = strconv.FormatInt(id, 10)
			}
			ip := ratelimit.GetClientIP(r, trustProxy)

			result := limiter.Allow(kind, member, ip)
			if !result.Allowed {
				ratelimit.LogRateLimitExceeded(kind, member, ip, result.Reason)
				seconds := int(result.RetryAfter.Round(time.Second) / time.Second)
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				apiutil.WriteError(w, r, apiutil.HandlerError{
					Status:  http.StatusTooManyRequests,
					Message: "Too many requests, please slow down",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter wrapper to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
