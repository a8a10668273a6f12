package middleware

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/renderd/renderd/internal/metrics"
)

// sensitiveQueryParams are redacted from logged URLs — teacher's
// sensitiveParams list (internal/middleware/logging.go) verbatim.
var sensitiveQueryParams = []string{
	"key", "token", "api_key", "apikey", "password", "secret", "auth",
	"access_token", "refresh_token", "bearer", "credential", "private_key",
}

func sanitizeURLForLogging(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}
	if parsed.RawQuery == "" {
		return rawURL
	}
	query := parsed.Query()
	redacted := false
	for _, param := range sensitiveQueryParams {
		for key := range query {
			if strings.EqualFold(key, param) {
				query.Set(key, "[REDACTED]")
				redacted = true
			}
		}
	}
	if !redacted {
		return rawURL
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// maskIP masks the low bits of a remote address for privacy in logs —
// teacher's maskIP (internal/middleware/logging.go) verbatim.
func maskIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "[redacted]"
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return ip.Mask(net.CIDRMask(48, 128)).String() + "/48"
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// whether headers have already been written, so Recovery can tell whether
// it is still safe to write an error body.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.written = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Written() bool { return rw.written }

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Logging returns middleware that logs method/path/status/duration per
// request, masking IPs and redacting sensitive query parameters —
// teacher's Logging (internal/middleware/logging.go) verbatim in shape.
func Logging(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			metrics.RecordRequest(r.URL.Path, strconv.Itoa(wrapped.statusCode), duration)

			log.Info().
				Str("method", r.Method).
				Str("path", sanitizeURLForLogging(r.URL.String())).
				Str("remote_addr", maskIP(r.RemoteAddr)).
				Int("status", wrapped.statusCode).
				Dur("duration", duration).
				Msg("request completed")
		})
	}
}
