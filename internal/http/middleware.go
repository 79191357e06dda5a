package http

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/idempotency"
	"github.com/robertarktes/field-booking/internal/observability"
	"github.com/robertarktes/field-booking/internal/payments"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	userKey
)

const (
	minIdempotencyKey = 16
	maxIdempotencyKey = 128
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func loggerFrom(ctx context.Context) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return observability.NopLogger()
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := logger.WithField("request_id", middleware.GetReqID(r.Context()))
			ctx := context.WithValue(r.Context(), loggerKey, entry)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			entry.WithFields(observability.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
			}).Debug("request served")
		})
	}
}

// MetricsMiddleware counts requests by route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer("http").Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

// userFrom returns the authenticated user, if any.
func userFrom(ctx context.Context) *uuid.UUID {
	if id, ok := ctx.Value(userKey).(uuid.UUID); ok {
		return &id
	}
	return nil
}

// JWTMiddleware resolves the bearer token to a user. Requests without a token are
// served as guests; a token that fails verification is rejected.
func JWTMiddleware(auth *Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || auth == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "unsupported authorization")
				return
			}
			id, err := auth.UserID(token)
			if err != nil {
				loggerFrom(r.Context()).WithError(err).Debug("rejected bearer token")
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, id)))
		})
	}
}

type Limiter interface {
	Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error)
}

type budget struct {
	key  string
	rate int
}

// RateLimitMiddleware applies a per-IP and, for signed-in callers, a per-user budget
// per minute. Requests pass when the limiter itself fails.
func RateLimitMiddleware(rl Limiter, perUser, perIP int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			checks := []budget{{"ip:" + ip, perIP}}
			if id := userFrom(ctx); id != nil {
				checks = append(checks, budget{"user:" + id.String(), perUser})
			}
			for _, c := range checks {
				if c.rate <= 0 {
					continue
				}
				ok, err := rl.Allow(ctx, c.key, c.rate, time.Minute)
				if err != nil {
					loggerFrom(ctx).WithError(err).Warn("rate limiter unavailable")
					break
				}
				if !ok {
					observability.RateLimitExceeded.Inc()
					w.Header().Set("Retry-After", "60")
					writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *recorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.body.Write(b)
	return rec.ResponseWriter.Write(b)
}

// idempotencyScope keeps one user's keys from replaying another's responses.
func idempotencyScope(ctx context.Context) string {
	if id := userFrom(ctx); id != nil {
		return "user:" + id.String()
	}
	return "guest"
}

// IdempotencyMiddleware requires an Idempotency-Key on the wrapped route and replays
// the first response recorded for it. Server errors are not recorded so the client
// can retry with the same key. With idemp nil only the key is enforced.
func IdempotencyMiddleware(idemp *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				writeError(w, http.StatusBadRequest, "invalid_input", "missing Idempotency-Key")
				return
			}
			if len(key) < minIdempotencyKey || len(key) > maxIdempotencyKey {
				writeError(w, http.StatusBadRequest, "invalid_input", "invalid Idempotency-Key")
				return
			}
			if idemp == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				writeDomainError(w, r, errors.Mark(err, domain.ErrInvalidInput))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fp := idempotency.Fingerprint(r.Method, r.URL.Path, body)
			key = idempotencyScope(ctx) + ":" + key

			prev, err := idemp.Begin(ctx, key, fp)
			switch {
			case errors.Is(err, idempotency.ErrInProgress), errors.Is(err, idempotency.ErrKeyMismatch):
				writeDomainError(w, r, err)
				return
			case err != nil:
				loggerFrom(ctx).WithError(err).Warn("idempotency store unavailable")
				next.ServeHTTP(w, r)
				return
			case prev != nil:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(prev.Status)
				_, _ = w.Write(prev.Result)
				return
			}

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status == 0 || rec.status >= http.StatusInternalServerError {
				if err := idemp.Abandon(context.WithoutCancel(ctx), key); err != nil {
					loggerFrom(ctx).WithError(err).Warn("failed to release idempotency key")
				}
				return
			}
			resp := idempotency.Response{Status: rec.status, Result: rec.body.Bytes()}
			if err := idemp.Set(context.WithoutCancel(ctx), key, fp, resp); err != nil {
				loggerFrom(ctx).WithError(err).Warn("failed to record idempotent response")
			}
		})
	}
}

// PaymentSignatureMiddleware only lets through callbacks signed with the shared
// provider secret.
func PaymentSignatureMiddleware(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				writeDomainError(w, r, errors.Mark(err, domain.ErrInvalidInput))
				return
			}
			if err := payments.Verify(secret, body, r.Header.Get(payments.SignatureHeader)); err != nil {
				loggerFrom(r.Context()).WithError(err).Warn("rejected payment callback")
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid payment signature")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
