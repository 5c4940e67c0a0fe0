package deviceapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kislikjeka/festpay/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/festpay/pkg/ledgerapi"
	"github.com/kislikjeka/festpay/pkg/logger"
)

// NewRouter creates the device's local HTTP router
func NewRouter(h *Handler, log *logger.Logger, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	if len(allowedOrigins) > 0 {
		r.Use(middleware.CORS(allowedOrigins))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, ledgerapi.HealthResponse{Status: "ok"}, http.StatusOK)
	})

	r.Route("/wallets/{id}", func(r chi.Router) {
		r.Get("/balance", h.GetBalance)
		r.Post("/refresh", h.RefreshWallet)
	})

	r.Get("/pending", h.ListPending)
	r.Get("/pending/count", h.PendingCount)
	r.Get("/failed", h.ListFailed)
	r.Delete("/failed/{id}", h.DismissFailed)

	r.Post("/payments", h.CreatePayment)
	r.Post("/qr/validate", h.ValidateQR)
	r.Post("/items", h.QueueItem)

	r.Post("/sync", h.TriggerSync)
	r.Delete("/sync", h.CancelSync)
	r.Get("/sync/status", h.SyncStatus)

	r.Post("/provision", h.Provision)

	r.Get("/catalog", h.GetCatalog)
	r.Post("/catalog/refresh", h.RefreshCatalog)

	r.Get("/network", h.GetNetwork)
	r.Post("/network/link", h.ReportLink)

	return r
}
