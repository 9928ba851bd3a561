package utils

import (
	"encoding/json"
	"net/http"

	"canteenhub/apperr"
)

type M map[string]any

// Sends a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func RespondWithError(w http.ResponseWriter, code int, msg string) {
	RespondWithJSON(w, code, M{"success": false, "message": msg})
}

// RespondWithAppError maps err onto its HTTP status and the structured error body
// {"success": false, "error": {"kind", "message"}}.
func RespondWithAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	RespondWithJSON(w, apperr.HTTPStatus(kind), M{
		"success": false,
		"error":   M{"kind": kind, "message": apperr.Message(err)},
	})
}

// RespondOK wraps data under key in a success envelope, e.g. {"success": true, "order": ...}.
func RespondOK(w http.ResponseWriter, code int, key string, data any) {
	RespondWithJSON(w, code, M{"success": true, key: data})
}

// DecodeJSON reads a JSON request body into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return apperr.New(apperr.InvalidInput, "request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.InvalidInput, err, "invalid JSON body")
	}
	return nil
}
