package catalog

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Developersbbs/Rental-client-sub001/internal/common"
)

const maxInvalidate = 500

// Handler lets the catalog service drop cached products it has changed.
type Handler struct {
	Cache  *Cache
	Logger zerolog.Logger
}

type invalidateRequest struct {
	ProductIDs []string `json:"product_ids"`
}

// Register mounts POST /catalog/cache/invalidate on r.
func (h Handler) Register(r chi.Router) {
	r.Post("/catalog/cache/invalidate", h.Invalidate)
}

// Invalidate forgets the listed product ids, including remembered misses.
func (h Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	ids := make([]string, 0, len(req.ProductIDs))
	for _, id := range req.ProductIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 || len(ids) > maxInvalidate {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "product_ids must list 1 to 500 ids", nil)
		return
	}
	if err := h.Cache.Forget(r.Context(), ids...); err != nil {
		h.Logger.Error().Err(err).Int("count", len(ids)).Msg("catalog cache invalidation failed")
		common.JSONError(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "catalog cache unavailable", nil)
		return
	}
	h.Logger.Info().Strs("product_ids", ids).Msg("catalog cache invalidated")
	w.WriteHeader(http.StatusNoContent)
}
