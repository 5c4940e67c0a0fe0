package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kislikjeka/festpay/internal/platform/catalog"
	"github.com/kislikjeka/festpay/pkg/config"
	"github.com/kislikjeka/festpay/pkg/ledgerapi"
	"github.com/kislikjeka/festpay/pkg/money"
)

// CatalogHandler serves the festival catalog to devices
type CatalogHandler struct {
	response ledgerapi.CatalogResponse
}

// NewCatalogHandler builds the catalog response once from the catalog file
func NewCatalogHandler(file *config.CatalogFile) (*CatalogHandler, error) {
	stands := make([]catalog.Stand, 0, len(file.Stands))
	for _, s := range file.Stands {
		stands = append(stands, catalog.Stand{ID: s.ID, Name: s.Name})
	}

	products := make([]catalog.Product, 0, len(file.Products))
	for _, p := range file.Products {
		price, err := money.Parse(p.Price)
		if err != nil {
			return nil, fmt.Errorf("invalid price for product %s: %w", p.ID, err)
		}
		products = append(products, catalog.Product{ID: p.ID, StandID: p.StandID, Name: p.Name, Price: price})
	}

	snap, err := catalog.NewSnapshot(stands, products, time.Now())
	if err != nil {
		return nil, err
	}

	resp := ledgerapi.CatalogResponse{Digest: snap.Digest}
	for _, s := range snap.Stands {
		resp.Stands = append(resp.Stands, ledgerapi.Stand{ID: s.ID, Name: s.Name})
	}
	for _, p := range snap.Products {
		resp.Products = append(resp.Products, ledgerapi.Product{ID: p.ID, StandID: p.StandID, Name: p.Name, Price: p.Price})
	}
	return &CatalogHandler{response: resp}, nil
}

// GetCatalog handles GET /api/v1/catalog
func (h *CatalogHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", `"`+h.response.Digest+`"`)
	if r.Header.Get("If-None-Match") == `"`+h.response.Digest+`"` {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	respondJSON(w, h.response, http.StatusOK)
}
