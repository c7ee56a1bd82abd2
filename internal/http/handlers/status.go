package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/equilibriocl/agendabot/internal/store"
	"github.com/equilibriocl/agendabot/pkg/logging"
)

// StatusHandler serves the health check and the basic usage stats.
type StatusHandler struct {
	store   *store.MessageStore
	modelID string
	loc     *time.Location
	logger  *logging.Logger
}

func NewStatusHandler(messageStore *store.MessageStore, modelID string, loc *time.Location, logger *logging.Logger) *StatusHandler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StatusHandler{
		store:   messageStore,
		modelID: modelID,
		loc:     loc,
		logger:  logger,
	}
}

// Health implements GET /health.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "agendabot",
		"model":     h.modelID,
		"timestamp": time.Now().In(h.loc).Format(time.RFC3339),
	})
}

// Stats implements GET /stats.
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to load stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
