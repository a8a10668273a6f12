package middleware

import (
	"net/http"

	"github.com/rs/zerolog"
)

// CORSConfig controls which origins may make cross-origin requests. An
// empty AllowedOrigins rejects all cross-origin requests — secure default,
// teacher's Fix #17 posture (internal/middleware/cors.go) carried over
// verbatim.
type CORSConfig struct {
	AllowedOrigins []string
}

// CORS returns middleware adding CORS headers, echoing back the specific
// allowed origin (never a wildcard) so credentialed requests work.
func CORS(cfg CORSConfig, log zerolog.Logger) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = struct{}{}
	}
	if len(allowed) == 0 {
		log.Warn().Msg("no CORS allowed origins configured - all cross-origin requests will be rejected")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			var allowOrigin string
			if len(allowed) == 0 {
				if origin != "" {
					log.Debug().Str("origin", origin).Msg("CORS request rejected, no allowed origins configured")
				}
			} else if origin != "" {
				if _, ok := allowed[origin]; ok {
					allowOrigin = origin
				} else {
					log.Debug().Str("origin", origin).Msg("CORS request from non-allowed origin")
				}
			}

			if allowOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("X-Content-Type-Options", "nosniff")
				w.Header().Set("Cache-Control", "no-store, max-age=0")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders adds baseline response hardening headers — teacher's
// SecurityHeaders (internal/middleware/cors.go) verbatim.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}
