package util

import (
	"encoding/json"
	"net/http"
)

// =============================================================================
// HTTP Response Helpers
// =============================================================================

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// =============================================================================
// HTTP Error Helpers
// =============================================================================

// RespondBadRequest sends a 400 Bad Request error response.
func RespondBadRequest(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusBadRequest)
}

// RespondNotFound sends a 404 Not Found error response.
func RespondNotFound(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusNotFound)
}

// RespondMethodNotAllowed sends a 405 Method Not Allowed error response.
func RespondMethodNotAllowed(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusMethodNotAllowed)
}

// RespondInternalError sends a 500 Internal Server Error response.
func RespondInternalError(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusInternalServerError)
}

// RespondServiceUnavailable sends a 503 Service Unavailable error response.
func RespondServiceUnavailable(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusServiceUnavailable)
}
