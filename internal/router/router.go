package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fintrack/bank-sync/internal/handlers"
	"github.com/fintrack/bank-sync/internal/middleware"
)

func NewRouter(deps *handlers.Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.NewLoggerMiddleware(deps.Log).LoggerMiddleware)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))

	wh := handlers.NewWebhookHandlers(deps)
	lh := handlers.NewLinkHandlers(deps)

	// Webhooks sit behind the provider source allow-list; everything else is
	// fronted by the gateway that resolves user identity.
	r.Group(func(r chi.Router) {
		r.Use(deps.Allowlist.Middleware)
		r.Mount("/webhooks", wh.WebhookRoutes())
	})
	r.Mount("/", lh.LinkRoutes())

	return r
}
