package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketplace-backend/api/controllers"
	catalogcontrollers "github.com/angelmondragon/marketplace-backend/api/controllers/catalog"
	ordercontrollers "github.com/angelmondragon/marketplace-backend/api/controllers/orders"
	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/internal/catalog"
	"github.com/angelmondragon/marketplace-backend/internal/ledger"
	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
)

// Deps carries the services the HTTP surface is built from.
type Deps struct {
	DB       controllers.Pinger
	Redis    controllers.Pinger
	Ledger   ledger.Service
	Orders   orders.Service
	Catalog  *catalog.Ingestor
	Metrics  *metrics.PipelineMetrics
	Gatherer prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Tracing("marketplace-api"),
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.Metrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BusinessAuth(cfg.JWT, logg))

		r.Route("/orders/{orderId}/status", func(r chi.Router) {
			r.Post("/", ordercontrollers.AppendStatus(deps.Ledger, deps.Orders, logg))
			r.Get("/", ordercontrollers.GetStatus(deps.Ledger, deps.Orders, logg))
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Use(middleware.RequireRoles(logg, enums.ActorRoleMerchant, enums.ActorRoleAdmin))
			r.Post("/sync", catalogcontrollers.SyncStock(deps.Catalog, logg))
			r.Post("/items", catalogcontrollers.UpsertItems(deps.Catalog, logg))
		})
	})

	return r
}
