package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/onero/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteDomainError maps a domain error to an HTTP status and writes it. The
// error kind carries the classification; unknown kinds surface as 500.
func WriteDomainError(w http.ResponseWriter, err error) error {
	return WriteError(w, statusForKind(models.KindOf(err)), err.Error())
}

func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrKindValidationFailed, models.ErrKindUnknownJobClass,
		models.ErrKindUnknownAlgorithm, models.ErrKindInsufficientClients,
		models.ErrKindCapacityExceeded:
		return http.StatusBadRequest
	case models.ErrKindJobNotFound, models.ErrKindClientNotFound:
		return http.StatusNotFound
	case models.ErrKindDuplicateClient, models.ErrKindIllegalState,
		models.ErrKindRequestedClientUnavailable, models.ErrKindManagerBusy:
		return http.StatusConflict
	case models.ErrKindShutdownInProgress, models.ErrKindManagerUnreachable:
		return http.StatusServiceUnavailable
	case models.ErrKindStorageFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// DecodeBody decodes a JSON request body into v, rejecting unknown fields.
func DecodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
