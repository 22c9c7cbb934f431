package handlers

import (
	"net/http"

	apperrors "github.com/hweilin/ordersync/internal/errors"
	"github.com/hweilin/ordersync/internal/remote"
	"github.com/hweilin/ordersync/internal/validation"
)

// ValidationHandler serves address search, resolution and delivery
// zone validation. All three degrade to the offline cache.
type ValidationHandler struct {
	orchestrator *validation.Orchestrator
	cache        *validation.OfflineCache
}

// NewValidationHandler creates a ValidationHandler.
func NewValidationHandler(orchestrator *validation.Orchestrator, cache *validation.OfflineCache) *ValidationHandler {
	return &ValidationHandler{
		orchestrator: orchestrator,
		cache:        cache,
	}
}

// Suggest handles GET /api/validation/suggest?q=.
func (h *ValidationHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeFail(w, http.StatusBadRequest, apperrors.ErrInvalid, "query parameter q is required")
		return
	}

	suggestions, err := h.orchestrator.SearchSuggestions(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, map[string]interface{}{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

// resolveRequest is the wire shape for suggestion resolution.
type resolveRequest struct {
	ID          string  `json:"id"`
	AddressText string  `json:"address_text"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
}

// Resolve handles POST /api/validation/resolve.
func (h *ValidationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.AddressText == "" {
		writeFail(w, http.StatusBadRequest, apperrors.ErrInvalid, "address_text is required")
		return
	}

	resolved, err := h.orchestrator.ResolveDetails(r.Context(), remote.Suggestion{
		ID:          req.ID,
		AddressText: req.AddressText,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if resolved == nil {
		writeFail(w, http.StatusNotFound, apperrors.ErrNotFound, "address not found")
		return
	}

	writeOK(w, resolved)
}

// validateRequest is the wire shape for a delivery zone check.
type validateRequest struct {
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Validate handles POST /api/validation/validate. The result reports
// validity, its source and whether a manual override is required; it
// never fails the request for an unverifiable address.
func (h *ValidationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Address == "" {
		writeFail(w, http.StatusBadRequest, apperrors.ErrInvalid, "address is required")
		return
	}

	result := h.orchestrator.ValidateForDelivery(r.Context(), req.Address, req.Latitude, req.Longitude)
	writeOK(w, result)
}

// RefreshCache handles POST /api/validation/cache/refresh: a manual
// snapshot refresh. The cache's own lower bound still applies.
func (h *ValidationHandler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, map[string]interface{}{
		"last_refresh": h.cache.LastRefresh().Unix(),
	})
}
