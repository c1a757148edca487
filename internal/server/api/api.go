// Package api implements the JSON handlers for the mudra HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/model"
	"github.com/ayusman/mudra/internal/store"
)

// Pipeline is the part of app.Pipeline the handlers drive.
type Pipeline interface {
	Status() app.Status
	Signs() []string
	Load(ctx context.Context) error
	StartCapture(ctx context.Context) (string, error)
	StopCapture() error
	Reset()
	Translate(ctx context.Context, instruction string, speak bool) (*app.Translation, error)
	StopSpeaking()
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps pipeline and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrSessionActive),
		errors.Is(err, app.ErrNotCapturing),
		errors.Is(err, app.ErrTranslationBusy):
		return http.StatusConflict
	case errors.Is(err, app.ErrCaptureDenied):
		return http.StatusForbidden
	case errors.Is(err, app.ErrAssetsLoading),
		errors.Is(err, app.ErrAssetLoad),
		errors.Is(err, model.ErrShapeAdaptation):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
