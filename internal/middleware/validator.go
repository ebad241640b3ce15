package middleware

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Input validation and sanitization utilities

const sessionKey contextKey = "session_id"

type contextKey string

// ValidateSessionID parses a session id, which must be a UUID
func ValidateSessionID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("session ID cannot be empty")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session ID format")
	}
	return id, nil
}

// SessionID validates the {param} URL parameter and stores the parsed id in the context
func SessionID(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := ValidateSessionID(chi.URLParam(r, param))
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, id)))
		})
	}
}

// SessionFromContext returns the id stored by SessionID
func SessionFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(sessionKey).(uuid.UUID)
	return id, ok
}

// SanitizeFilename keeps the base name of an uploaded file without control characters
func SanitizeFilename(name string) string {
	name = SanitizeString(strings.ReplaceAll(name, "\\", "/"))
	name = filepath.Base(name)
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}
