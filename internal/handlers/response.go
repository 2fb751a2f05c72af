package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/alignment-engine/internal/session"
	"github.com/jwebster45206/alignment-engine/pkg/storage"
)

// maxBodyBytes caps request bodies; the largest legal body is a guestbook
// message of chat.MaxMessageLength runes.
const maxBodyBytes = 64 << 10

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	writeJSON(w, logger, status, ErrorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// statusFor maps orchestrator and storage errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptyInput),
		errors.Is(err, session.ErrGuestbookInvalid):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrSessionEnded),
		errors.Is(err, session.ErrTurnInProgress),
		errors.Is(err, session.ErrNotEnded):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidRoll):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrModelCall):
		return http.StatusBadGateway
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides internal details behind 5xx responses that are not
// meant for the player.
func errorMessage(err error, status int) string {
	switch status {
	case http.StatusInternalServerError:
		return "Internal server error"
	case http.StatusServiceUnavailable:
		return "Storage is not available"
	}
	return err.Error()
}
