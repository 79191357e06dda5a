package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/field-booking/internal/idempotency"
	"github.com/robertarktes/field-booking/internal/observability"
	"github.com/robertarktes/field-booking/internal/payments"
)

type RouterOptions struct {
	Logger        observability.Logger
	Auth          *Authenticator
	Limiter       Limiter
	Idempotency   *idempotency.Idempotency
	CORSOrigins   []string
	RateLimitUser int
	RateLimitIP   int
	PaymentSecret string
}

func SetupRouter(h *Handlers, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(opts.Logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", payments.SignatureHeader},
		ExposedHeaders: []string{"Retry-After", "Idempotent-Replayed"},
		MaxAge:         300,
	}))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(opts.Auth))
		r.Use(RateLimitMiddleware(opts.Limiter, opts.RateLimitUser, opts.RateLimitIP))

		r.Get("/v1/fields/{fieldID}/slots", h.GetSlots)
		r.Get("/v1/fields/{fieldID}/availability", h.CheckAvailability)
		r.Get("/v1/fields/{fieldID}/quote", h.Quote)

		r.With(IdempotencyMiddleware(opts.Idempotency)).Post("/v1/bookings", h.CreateBooking)
		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Post("/v1/bookings/{id}/cancel", h.CancelBooking)
		if h.history != nil {
			r.Get("/v1/bookings/{id}/history", h.BookingHistory)
		}
	})

	r.With(PaymentSignatureMiddleware(opts.PaymentSecret)).Post("/v1/payments/callback", h.PaymentCallback)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	return r
}
