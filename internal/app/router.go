package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kinbay/kinbay/internal/auth"
	"github.com/kinbay/kinbay/internal/observability"
	"github.com/kinbay/kinbay/internal/products"
	"github.com/kinbay/kinbay/internal/transactions"
	"github.com/kinbay/kinbay/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	AuthHandler         *auth.Handler
	ProductHandler      *products.Handler
	TransactionHandler  *transactions.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
	DisableAccessLogger bool
}

// NewRouter constructs the chi.Router with Kinbay defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if !params.DisableAccessLogger {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	r.Route("/products", func(r chi.Router) {
		if params.ProductHandler != nil {
			params.ProductHandler.MountRoutes(r)
		}
		if params.TransactionHandler != nil {
			params.TransactionHandler.MountAvailabilityRoutes(r)
		}
	})
	if params.ProductHandler != nil {
		r.Route("/categories", params.ProductHandler.MountCategoryRoutes)
	}
	if params.TransactionHandler != nil {
		r.Route("/transactions", params.TransactionHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
