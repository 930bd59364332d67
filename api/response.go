package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/gameserver/lifecycle"
	"github.com/GoCodeAlone/gameserver/storage"
)

// errorEnvelope is the JSON body of every failed request.
type errorEnvelope struct {
	Error string `json:"error"`
}

// WriteJSON writes data as a JSON document with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: message})
}

// writeLifecycleError maps controller errors onto HTTP status codes.
// Internal details are logged, not returned.
func writeLifecycleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ve *lifecycle.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteError(w, http.StatusUnprocessableEntity, ve.Error())
	case errors.Is(err, lifecycle.ErrOutputNotFound):
		WriteError(w, http.StatusNotFound, "Error retrieving server ip address.")
	case errors.Is(err, lifecycle.ErrMalformedExecutionInput):
		logger.Error("Workflow execution input is unreadable", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal server error")
	case errors.Is(err, lifecycle.ErrCollaboratorUnavailable):
		logger.Error("Collaborator call failed", "error", err)
		WriteError(w, http.StatusBadGateway, "upstream service unavailable")
	default:
		logger.Error("Lifecycle operation failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeStorageError maps file manager errors onto HTTP status codes.
func writeStorageError(w http.ResponseWriter, logger *slog.Logger, path string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		WriteError(w, http.StatusNotFound, "Could not find file: "+path)
	case errors.Is(err, storage.ErrInvalidPath):
		WriteError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("File operation failed", "path", path, "error", err)
		WriteError(w, http.StatusBadGateway, "file storage unavailable")
	}
}
