package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/54b3r/agrofinder-go/internal/logging"
	"github.com/54b3r/agrofinder-go/internal/rag"
)

// writeJSON encodes v with the given status.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("response encode error", slog.Any("error", err))
	}
}

// writeError writes {"detail": msg}.
func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	writeJSON(ctx, w, status, errorResponse{Detail: msg})
}

// errorStatus maps the error taxonomy onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, rag.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrInvalidCategory):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrEmptyContent), errors.Is(err, rag.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail logs err and writes the mapped status. Client errors log at WARN.
func fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	status := errorStatus(err)
	log := logging.FromContext(ctx)
	if status >= 500 {
		log.Error(msg, slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Warn(msg, slog.Int("status", status), slog.Any("error", err))
	}
	writeError(ctx, w, status, msg+": "+err.Error())
}
