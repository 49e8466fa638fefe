package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/montabano1/RyanScraper/internal/poll"
	"github.com/montabano1/RyanScraper/internal/store"
)

type APIError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var e APIError
	e.Error.Code = code
	e.Error.Message = message
	e.Error.RequestID = RequestIDFrom(r.Context())
	WriteJSON(w, status, e)
}

// writeStoreError maps engine errors onto the APIError envelope.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, poll.ErrUnknownSource):
		WriteError(w, r, http.StatusNotFound, "unknown_source", err.Error())
	case errors.Is(err, store.ErrInvalidSource):
		WriteError(w, r, http.StatusBadRequest, "invalid_source", err.Error())
	case errors.Is(err, store.ErrTransient):
		WriteError(w, r, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	default:
		WriteError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
