package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// PipelineHandler serves capture, sign and translation endpoints.
type PipelineHandler struct {
	pipeline Pipeline
	logger   *slog.Logger
}

// NewPipelineHandler creates a PipelineHandler for p.
func NewPipelineHandler(p Pipeline, logger *slog.Logger) *PipelineHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineHandler{pipeline: p, logger: logger.With(slog.String("component", "api"))}
}

// Register adds the pipeline routes to mux.
func (h *PipelineHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.status)
	mux.HandleFunc("/api/models/reload", h.reload)
	mux.HandleFunc("/api/capture/start", h.startCapture)
	mux.HandleFunc("/api/capture/stop", h.stopCapture)
	mux.HandleFunc("/api/signs", h.signs)
	mux.HandleFunc("/api/translate", h.translate)
	mux.HandleFunc("/api/speech/stop", h.stopSpeech)
}

// status handles GET /api/status
func (h *PipelineHandler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, h.pipeline.Status())
}

// reload handles POST /api/models/reload
func (h *PipelineHandler) reload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := h.pipeline.Load(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.pipeline.Status())
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

// startCapture handles POST /api/capture/start
func (h *PipelineHandler) startCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id, err := h.pipeline.StartCapture(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, startResponse{SessionID: id})
}

// stopCapture handles POST /api/capture/stop
func (h *PipelineHandler) stopCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := h.pipeline.StopCapture(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type signsResponse struct {
	Signs []string `json:"signs"`
	Count int      `json:"count"`
}

// signs handles GET and DELETE /api/signs
func (h *PipelineHandler) signs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		signs := h.pipeline.Signs()
		writeJSON(w, http.StatusOK, signsResponse{Signs: signs, Count: len(signs)})
	case http.MethodDelete:
		h.pipeline.Reset()
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type translateRequest struct {
	Instruction string `json:"instruction"`
	Speak       bool   `json:"speak"`
}

// translate handles POST /api/translate. An empty body uses the default
// instruction and does not speak.
func (h *PipelineHandler) translate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	res, err := h.pipeline.Translate(r.Context(), req.Instruction, req.Speak)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("translation failed", slog.String("error", err.Error()))
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// stopSpeech handles POST /api/speech/stop
func (h *PipelineHandler) stopSpeech(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	h.pipeline.StopSpeaking()
	w.WriteHeader(http.StatusNoContent)
}
