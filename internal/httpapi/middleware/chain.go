// Package middleware provides the HTTP middleware chain wrapping the
// render service's router: Recovery, Logging, CORS, SecurityHeaders, and
// an optional APIKey gate. Grounded on the teacher's internal/middleware
// package near-verbatim in shape (Chain/Recovery/Logging/CORS/APIKey),
// rewritten to carry this service's config and response envelope.
package middleware

import "net/http"

// Chain composes middleware so Chain(A, B, C)(final) executes as
// A(B(C(final))) — identical to teacher's internal/middleware/chain.go.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
