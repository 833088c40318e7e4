package middleware

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, message, suggestion string) {
	body := ErrorBody{Error: message, Suggestion: suggestion}
	if r != nil {
		body.RequestID = RequestID(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("Content-Length")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
