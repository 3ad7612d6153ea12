// Package handlers provides HTTP handlers for webhook registration.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/modules/webhooks"
)

// Handler handles webhook registration HTTP requests.
type Handler struct {
	store *webhooks.Store
	log   zerolog.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(store *webhooks.Store, log zerolog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log.With().Str("handler", "webhooks").Logger(),
	}
}

// RegisterRoutes mounts the webhook routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks", h.HandleRegister)
	r.Get("/webhooks", h.HandleList)
	r.Delete("/webhooks/{id}", h.HandleRemove)
}

type registerRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

// HandleRegister handles POST /api/v1/webhooks. The secret is stored
// separately and never echoed back.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	hook, err := h.store.Register(r.Context(), req.URL, req.Events, req.Secret)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, hook)
}

// HandleList handles GET /api/v1/webhooks.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.store.ListActive(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list webhooks")
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	if hooks == nil {
		hooks = []webhooks.Webhook{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": hooks})
}

// HandleRemove handles DELETE /api/v1/webhooks/{id}.
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	err := h.store.Remove(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, webhooks.ErrNotFound) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to remove webhook")
		writeError(w, http.StatusInternalServerError, "failed to remove webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
