package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type Handler struct {
	log    *Log
	logger *slog.Logger
}

func NewHandler(l *Log, logger *slog.Logger) *Handler {
	return &Handler{log: l, logger: logger}
}

// Register mounts the delivery history endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/notification_deliveries/{handle}", h.ListDeliveries)
}

// ListDeliveries handles GET /api/v1/notification_deliveries/{handle}
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := uint64(defaultLimit)
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.ParseUint(s, 10, 64); err == nil && v > 0 {
			limit = min(v, maxLimit)
		}
	}

	entries, err := h.log.Recent(r.Context(), r.PathValue("handle"), limit)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		h.logger.Error("failed to list deliveries", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
		return
	}
	json.NewEncoder(w).Encode(entries)
}
