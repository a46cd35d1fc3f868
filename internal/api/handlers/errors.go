package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/pkg/textextract"
)

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// writeError maps err onto an HTTP status and writes {"error", "stage"}.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	var se *models.StageError
	if errors.As(err, &se) {
		resp.Stage = se.Stage
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "stage", resp.Stage, "error", err)
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var pe *models.ProviderError
	switch {
	case models.IsClientError(err), errors.Is(err, textextract.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrConfiguration):
		return http.StatusInternalServerError
	case errors.Is(err, models.ErrTransientProvider), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrIndexOperation), errors.As(err, &pe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
