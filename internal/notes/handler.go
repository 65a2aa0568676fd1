package notes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"runningnotes/internal/middleware"
	"runningnotes/views/pages"
)

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Register mounts the running note endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/running_notes/{partition_id}", h.ListNotes)
	mux.HandleFunc("POST /api/v1/running_notes/{partition_id}", h.CreateNote)
	mux.HandleFunc("GET /api/v1/latest_sticky_run_note/{partition_id}", h.LatestStickyNote)
}

// CreateNote handles POST /api/v1/running_notes/{partition_id}
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	partitionID := r.PathValue("partition_id")

	id, ok := middleware.IdentityFrom(r.Context())
	if !ok || id.Email == "" {
		h.jsonError(w, "authenticated user required", http.StatusUnauthorized)
		return
	}

	var input CreateNoteInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if input.Note == "" {
		h.htmlError(r.Context(), w, "No project id or note parameters found", http.StatusBadRequest)
		return
	}

	note, err := h.svc.Create(r.Context(), partitionID, input, Author{Name: id.Name, Email: id.Email})
	switch {
	case errors.Is(err, ErrValidation):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		h.log.Error("failed to create running note", "partition_id", partitionID, "error", err)
		h.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, note, http.StatusCreated)
}

// ListNotes handles GET /api/v1/running_notes/{partition_id}
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	timeline, err := h.svc.List(r.Context(), r.PathValue("partition_id"))
	if err != nil {
		h.log.Error("failed to list running notes", "error", err)
		h.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, timeline, http.StatusOK)
}

// LatestStickyNote handles GET /api/v1/latest_sticky_run_note/{partition_id}
func (h *Handler) LatestStickyNote(w http.ResponseWriter, r *http.Request) {
	timeline, err := h.svc.LatestSticky(r.Context(), r.PathValue("partition_id"))
	if err != nil {
		h.log.Error("failed to get sticky note", "error", err)
		h.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, timeline, http.StatusOK)
}

// --- Helper methods ---

func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// htmlError keeps the legacy HTML error body of the create endpoint.
func (h *Handler) htmlError(ctx context.Context, w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ErrorPage(message).Render(ctx, w); err != nil {
		h.log.Warn("failed to render error page", "error", err)
	}
}
