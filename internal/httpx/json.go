package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"git.sr.ht/~jakintosh/orden/internal/domain"
)

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]any{
		"success": false,
		"message": message,
	})
}

// StatusFor maps a domain error to the HTTP status it is reported with.
func StatusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// WriteDomainError writes err using the success=false envelope.
func WriteDomainError(w http.ResponseWriter, err error) {
	WriteError(w, StatusFor(err), err.Error())
}

// Envelope is the decoded form of every JSON response.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrorFor rebuilds a domain error from a failed response, so callers on the
// other side of the API can use the same error predicates.
func ErrorFor(status int, message string) error {
	switch status {
	case http.StatusBadRequest:
		return &domain.ValidationError{Message: strings.TrimPrefix(message, "validation: ")}
	case http.StatusNotFound:
		return domain.ErrNotFound
	default:
		return domain.Persistence("remote", errors.New(message))
	}
}
