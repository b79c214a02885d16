package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/RoseVZ/Instalily-casestudy/internal/catalog"
	"github.com/RoseVZ/Instalily-casestudy/internal/middleware"
	"github.com/RoseVZ/Instalily-casestudy/internal/model"
)

const defaultSearchLimit = 10

// PartCatalog is the catalog surface the product endpoints consume.
type PartCatalog interface {
	SearchByKeyword(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error)
	GetPart(ctx context.Context, partNumber string) (*model.Part, error)
	GetInstallationGuide(ctx context.Context, partNumber string) (*model.InstallationGuide, error)
}

// ProductsHandler handles the part catalog endpoints.
type ProductsHandler struct {
	catalog PartCatalog
}

// NewProductsHandler creates a new products handler.
func NewProductsHandler(cat PartCatalog) *ProductsHandler {
	return &ProductsHandler{catalog: cat}
}

// Search handles GET /api/v1/products/search
func (h *ProductsHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 50")
			return
		}
		limit = n
	}

	candidates, err := h.catalog.SearchByKeyword(r.Context(), query, r.URL.Query().Get("category"), limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "catalog search failed")
		return
	}

	parts := make([]model.Part, len(candidates))
	for i, c := range candidates {
		parts[i] = c.Part
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"results": parts,
	})
}

// Get handles GET /api/v1/products/{partNumber}
func (h *ProductsHandler) Get(w http.ResponseWriter, r *http.Request) {
	partNumber := strings.ToUpper(chi.URLParam(r, "partNumber"))
	if err := middleware.ValidatePartNumber(partNumber); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	part, err := h.catalog.GetPart(r.Context(), partNumber)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "part not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "catalog lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, part)
}

// Installation handles GET /api/v1/products/{partNumber}/installation
func (h *ProductsHandler) Installation(w http.ResponseWriter, r *http.Request) {
	partNumber := strings.ToUpper(chi.URLParam(r, "partNumber"))
	if err := middleware.ValidatePartNumber(partNumber); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	guide, err := h.catalog.GetInstallationGuide(r.Context(), partNumber)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no installation guide for this part")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "catalog lookup failed")
		return
	}
	if guide == nil {
		writeError(w, http.StatusNotFound, "no installation guide for this part")
		return
	}
	writeJSON(w, http.StatusOK, guide)
}
