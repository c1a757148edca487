package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/mudra/internal/store"
)

// TranscriptsHandler handles HTTP requests for stored translations.
type TranscriptsHandler struct {
	store *store.Store
}

// NewTranscriptsHandler creates a new TranscriptsHandler with the given store.
func NewTranscriptsHandler(s *store.Store) *TranscriptsHandler {
	return &TranscriptsHandler{store: s}
}

// ServeHTTP implements the http.Handler interface.
// Expected paths: /api/transcripts and /api/transcripts/{id}
func (h *TranscriptsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/transcripts"), "/")
	if strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	switch {
	case id == "" && r.Method == http.MethodGet:
		h.list(w, r)
	case id == "":
		methodNotAllowed(w)
	case r.Method == http.MethodGet:
		h.get(w, id)
	case r.Method == http.MethodDelete:
		h.delete(w, id)
	default:
		methodNotAllowed(w)
	}
}

type listTranscriptsResponse struct {
	Transcripts []store.Transcript `json:"transcripts"`
}

// list handles GET /api/transcripts?limit=N
func (h *TranscriptsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultTranscriptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	transcripts, err := h.store.Transcripts().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transcripts")
		return
	}
	if transcripts == nil {
		transcripts = []store.Transcript{}
	}
	writeJSON(w, http.StatusOK, listTranscriptsResponse{Transcripts: transcripts})
}

// get handles GET /api/transcripts/{id}
func (h *TranscriptsHandler) get(w http.ResponseWriter, id string) {
	t, err := h.store.Transcripts().Get(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Transcript not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transcript")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// delete handles DELETE /api/transcripts/{id}
func (h *TranscriptsHandler) delete(w http.ResponseWriter, id string) {
	if err := h.store.Transcripts().Delete(id); err != nil {
		writeError(w, statusFor(err), "Failed to delete transcript")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
