package middleware

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the envelope of every error answered by the bridge API.
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// WriteError answers status with an ErrorBody carrying msg.
func WriteError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorBody{Error: msg})
}
