package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kislikjeka/festpay/internal/transport/httpapi/handler"
	"github.com/kislikjeka/festpay/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/festpay/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger         *logger.Logger
	AllowedOrigins []string
	DeviceHandler  *handler.DeviceHandler
	SyncHandler    *handler.SyncHandler
	WalletHandler  *handler.WalletHandler
	CatalogHandler *handler.CatalogHandler
	HealthHandler  *handler.HealthHandler
	JWTMiddleware  func(http.Handler) http.Handler
}

// NewRouter creates the ledger HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))

	// Health check endpoints (no authentication required)
	r.Get("/health", handler.GetHealth)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes, limited per IP
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit())
			if cfg.DeviceHandler != nil {
				r.Post("/auth/device", cfg.DeviceHandler.Authenticate)
			}
		})

		// Device routes, limited per device
		if cfg.JWTMiddleware != nil {
			r.Group(func(r chi.Router) {
				r.Use(cfg.JWTMiddleware)
				r.Use(middleware.RateLimit())

				if cfg.DeviceHandler != nil {
					r.Post("/devices/provision", cfg.DeviceHandler.Provision)
				}

				if cfg.SyncHandler != nil {
					r.Post("/sync/transactions", cfg.SyncHandler.SubmitTransaction)
					r.Post("/sync/items", cfg.SyncHandler.SubmitItem)
				}

				if cfg.WalletHandler != nil {
					r.Post("/wallets", cfg.WalletHandler.OpenWallet)
					r.Get("/wallets/{id}", cfg.WalletHandler.GetWallet)
				}

				if cfg.CatalogHandler != nil {
					r.Get("/catalog", cfg.CatalogHandler.GetCatalog)
				}
			})
		}
	})

	return r
}
