// Package handlers provides HTTP handlers for settlement operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/modules/contracts"
	"github.com/atmx/atmx/internal/modules/settlement"
)

// Handler handles settlement HTTP requests.
type Handler struct {
	engine *settlement.Engine
	repo   *settlement.Repository
	log    zerolog.Logger
}

// NewHandler creates a settlement handler.
func NewHandler(engine *settlement.Engine, repo *settlement.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		engine: engine,
		repo:   repo,
		log:    log.With().Str("handler", "settlement").Logger(),
	}
}

// RegisterRoutes mounts the settlement routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/settlements/{contractID}", h.HandleSettle)
	r.Get("/settlements/{contractID}", h.HandleGetRecord)
	r.Get("/settlements", h.HandleListRecords)
	r.Get("/settlements/verify", h.HandleVerifyChain)
}

// HandleSettle handles POST /api/v1/settlements/{contractID}. Settlement is
// idempotent: retriggering a settled contract returns the stored record.
func (h *Handler) HandleSettle(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractID")

	record, err := h.engine.Settle(r.Context(), contractID, nil)
	if errors.Is(err, contracts.ErrNotFound) {
		writeError(w, http.StatusNotFound, "contract not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("contract_id", contractID).Msg("Manual settlement failed")
		writeError(w, http.StatusBadGateway, "settlement failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// HandleGetRecord handles GET /api/v1/settlements/{contractID}.
func (h *Handler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := h.repo.GetByContract(r.Context(), chi.URLParam(r, "contractID"))
	if errors.Is(err, settlement.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "no settlement record for contract")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load settlement record")
		writeError(w, http.StatusInternalServerError, "failed to load settlement record")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// HandleListRecords handles GET /api/v1/settlements. Records come back in
// chain order, oldest first.
func (h *Handler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.ListAll(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list settlement records")
		writeError(w, http.StatusInternalServerError, "failed to list settlement records")
		return
	}
	if records == nil {
		records = []settlement.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// HandleVerifyChain handles GET /api/v1/settlements/verify. Walks the full
// chain and reports every break rather than stopping at the first.
func (h *Handler) HandleVerifyChain(w http.ResponseWriter, r *http.Request) {
	report, err := h.repo.VerifyChain(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Chain verification failed to run")
		writeError(w, http.StatusInternalServerError, "chain verification failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
