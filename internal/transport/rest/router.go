package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	Handler *Handler

	RateLimitEnabled bool
	RateLimitMax     int
	RateLimitWindow  time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)

	r.Use(Metrics)

	if d.RateLimitEnabled {
		r.Use(httprate.LimitByIP(d.RateLimitMax, d.RateLimitWindow))
	}

	r.Route("/metadata", func(r chi.Router) {
		r.Post("/", d.Handler.SubmitMetadata)
		r.Get("/", d.Handler.GetMetadata)
	})

	r.Get("/health/live", d.Handler.Live)
	r.Get("/health/ready", d.Handler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
