// Package handlers provides HTTP handlers for contract operations.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/clients/market"
	"github.com/atmx/atmx/internal/modules/contracts"
)

// MarketCreator opens a market for a newly registered contract and lists
// existing ones. Market creation is best-effort and never fails contract
// creation.
type MarketCreator interface {
	CreateMarket(ctx context.Context, contractID string) (market.Market, error)
	ListMarkets(ctx context.Context) ([]market.Market, error)
}

// Handler handles contract HTTP requests.
type Handler struct {
	repo    *contracts.Repository
	markets MarketCreator
	log     zerolog.Logger
}

// NewHandler creates a contract handler. markets may be nil when no market
// engine is configured.
func NewHandler(repo *contracts.Repository, markets MarketCreator, log zerolog.Logger) *Handler {
	return &Handler{
		repo:    repo,
		markets: markets,
		log:     log.With().Str("handler", "contracts").Logger(),
	}
}

// RegisterRoutes mounts the contract routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/contracts", h.HandleCreate)
	r.Get("/contracts", h.HandleList)
	r.Get("/contracts/{id}", h.HandleGet)
	r.Get("/contracts/{id}/status", h.HandleStatus)
	r.Get("/markets", h.HandleListMarkets)
}

type createRequest struct {
	H3Cell      string  `json:"h3_cell"`
	Metric      string  `json:"metric"`
	Threshold   float64 `json:"threshold"`
	Unit        string  `json:"unit"`
	WindowHours int     `json:"window_hours"`
	ExpiryUTC   string  `json:"expiry_utc"`
	Description string  `json:"description"`
}

// HandleCreate handles POST /api/v1/contracts.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	expiry, err := time.Parse(time.RFC3339, req.ExpiryUTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "expiry_utc must be RFC 3339")
		return
	}

	contract, err := h.repo.Create(r.Context(), contracts.Spec{
		H3Cell:      req.H3Cell,
		Metric:      contracts.Metric(strings.ToLower(req.Metric)),
		Threshold:   req.Threshold,
		Unit:        req.Unit,
		WindowHours: req.WindowHours,
		ExpiryUTC:   expiry,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	response := map[string]interface{}{"contract": contract}

	if h.markets != nil {
		if m, err := h.markets.CreateMarket(r.Context(), contract.ID); err != nil {
			h.log.Warn().
				Err(err).
				Str("contract_id", contract.ID).
				Msg("Market creation failed, contract stands without a market")
		} else {
			response["market_id"] = m.ID
		}
	}

	writeJSON(w, http.StatusCreated, response)
}

// HandleList handles GET /api/v1/contracts.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list contracts")
		writeError(w, http.StatusInternalServerError, "failed to list contracts")
		return
	}
	if list == nil {
		list = []contracts.Contract{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contracts": list})
}

// HandleGet handles GET /api/v1/contracts/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	contract, err := h.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, contracts.ErrNotFound) {
		writeError(w, http.StatusNotFound, "contract not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load contract")
		writeError(w, http.StatusInternalServerError, "failed to load contract")
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

// HandleStatus handles GET /api/v1/contracts/{id}/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := h.repo.StatusOf(r.Context(), id)
	if errors.Is(err, contracts.ErrNotFound) {
		writeError(w, http.StatusNotFound, "contract not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to derive contract status")
		writeError(w, http.StatusInternalServerError, "failed to derive contract status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"contract_id": id, "status": string(status)})
}

// HandleListMarkets handles GET /api/v1/markets, proxied to the market
// engine.
func (h *Handler) HandleListMarkets(w http.ResponseWriter, r *http.Request) {
	if h.markets == nil {
		writeError(w, http.StatusServiceUnavailable, "no market engine configured")
		return
	}
	markets, err := h.markets.ListMarkets(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list markets")
		writeError(w, http.StatusBadGateway, "market engine unavailable")
		return
	}
	if markets == nil {
		markets = []market.Market{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": markets})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
