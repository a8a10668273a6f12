package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
)

// sanitizeStackTrace strips full file paths from a recovered panic's stack
// trace before logging, keeping only the filename:line — teacher's
// sanitizeStackTrace (internal/middleware/recovery.go) verbatim in
// approach.
func sanitizeStackTrace(stack []byte) string {
	lines := strings.Split(string(stack), "\n")
	sanitized := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.Contains(line, "/") && strings.Contains(line, ".go:") {
			parts := strings.Split(line, "/")
			lastPart := parts[len(parts)-1]
			indent := ""
			for _, c := range line {
				if c == '\t' || c == ' ' {
					indent += string(c)
					continue
				}
				break
			}
			sanitized = append(sanitized, indent+lastPart)
			continue
		}
		sanitized = append(sanitized, line)
	}
	return strings.Join(sanitized, "\n")
}

type headerChecker interface {
	Written() bool
}

// Recovery returns middleware that recovers from panics, logs a
// sanitized stack trace, and writes a 500 failure envelope if headers
// have not already been sent.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					stack := debug.Stack()
					log.Error().
						Interface("error", err).
						Str("stack", sanitizeStackTrace(stack)).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Msg("panic recovered")

					if hc, ok := w.(headerChecker); ok && hc.Written() {
						log.Warn().Msg("cannot write error response - headers already sent")
						return
					}
					writeErrorEnvelope(w, log, http.StatusInternalServerError, "unknown", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
