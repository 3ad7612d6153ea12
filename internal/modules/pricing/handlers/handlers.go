// Package handlers provides the HTTP handler for risk price quotes.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/modules/pricing"
)

// Handler handles pricing HTTP requests.
type Handler struct {
	service *pricing.Service
	log     zerolog.Logger
}

// NewHandler creates a pricing handler.
func NewHandler(service *pricing.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "pricing").Logger(),
	}
}

// RegisterRoutes mounts the pricing routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/risk_price", h.HandleQuote)
}

// HandleQuote handles GET /api/v1/risk_price. Query parameters: h3_index,
// risk_type, start_time, end_time (RFC 3339).
func (h *Handler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	cell := q.Get("h3_index")
	if cell == "" {
		writeError(w, http.StatusBadRequest, "h3_index is required")
		return
	}

	riskType := pricing.RiskType(q.Get("risk_type"))
	if !pricing.ValidRiskType(riskType) {
		writeError(w, http.StatusBadRequest, "unknown risk_type")
		return
	}

	start, err := time.Parse(time.RFC3339, q.Get("start_time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_time must be RFC 3339")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end_time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_time must be RFC 3339")
		return
	}

	quote, err := h.service.QuoteRisk(r.Context(), cell, riskType, start, end)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
