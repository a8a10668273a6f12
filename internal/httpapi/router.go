package httpapi

import (
	"net/http"

	"github.com/renderd/renderd/internal/metrics"
)

// NewRouter builds the route table: POST /render, GET /health,
// GET /openapi.yaml, POST /debug/recycle, GET /debug/stats, GET /debug/ws
// (only if h.debugHub is non-nil), GET /metrics.
// Grounded on teacher's router.go command-table dispatch, generalized
// from command routing to path routing via http.ServeMux since this
// service has a handful of fixed paths rather than a multi-command API.
func NewRouter(h *Handler, mw func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/render", h.handleRender)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/openapi.yaml", h.handleOpenAPI)
	mux.HandleFunc("/debug/recycle", h.handleRecycle)
	mux.HandleFunc("/debug/stats", h.handleDomainStats)
	mux.Handle("/metrics", metrics.Handler())
	if h.debugHub != nil {
		mux.HandleFunc("/debug/ws", h.debugHub.ServeHTTP)
	}

	if mw == nil {
		return mux
	}
	return mw(mux)
}
