package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// errorEnvelope matches the render service's failure shape (spec §6:
// {code, message}), used by middleware that must short-circuit the
// request before it ever reaches the Handler (Recovery, APIKey).
type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeErrorEnvelope(w http.ResponseWriter, log zerolog.Logger, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(errorEnvelope{Code: code, Message: message}); err != nil {
		log.Error().Err(err).Str("message", message).Msg("failed to encode middleware error response")
	}
}
