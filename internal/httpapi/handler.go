package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/renderd/renderd/internal/rendercoord"
	"github.com/renderd/renderd/internal/security"
)

// Handler is the HTTP entry point for the render service: one Render
// Manager behind POST /render, plus the ambient /health, /openapi.yaml,
// and /debug/ws surfaces. Grounded on teacher's Handler (internal/handlers
// /handlers.go) — same acquire/decode/validate/route/respond shape,
// rewritten around the render-service request/response envelope.
type Handler struct {
	manager   *rendercoord.Manager
	log       zerolog.Logger
	startedAt time.Time
	healthFn  func() HealthReport
	debugHub  *DebugHub
}

// HealthReport is the payload of GET /health (spec §6 expansion).
type HealthReport struct {
	Status         string            `json:"status"`
	StartTimestamp int64             `json:"startTimestamp"`
	Provider       ProviderHealth    `json:"provider"`
	Supervisor     *SupervisorHealth `json:"supervisor,omitempty"`
}

// ProviderHealth summarizes which Browser Provider backs the service.
type ProviderHealth struct {
	Kind    string `json:"kind"`
	Running bool   `json:"running"`
}

// SupervisorHealth reports main/standby role+status when the provider is
// the supervised internal one; nil when running against an external CDP
// endpoint, which has no main/standby concept.
type SupervisorHealth struct {
	Main    InstanceHealth `json:"main"`
	Standby InstanceHealth `json:"standby"`
}

// InstanceHealth is one Browser Instance's role/status pair.
type InstanceHealth struct {
	Role   string `json:"role"`
	Status string `json:"status"`
}

// NewHandler builds a Handler. healthFn supplies the live provider/
// supervisor snapshot; debugHub may be nil to disable the websocket
// endpoint entirely.
func NewHandler(manager *rendercoord.Manager, log zerolog.Logger, healthFn func() HealthReport, debugHub *DebugHub) *Handler {
	return &Handler{
		manager:   manager,
		log:       log,
		startedAt: time.Now(),
		healthFn:  healthFn,
		debugHub:  debugHub,
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	report := HealthReport{Status: "ok", StartTimestamp: h.startedAt.UnixMilli()}
	if h.healthFn != nil {
		report = h.healthFn()
		report.StartTimestamp = h.startedAt.UnixMilli()
	}
	writeJSON(w, h.log, http.StatusOK, report)
}

func (h *Handler) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeValidationFailure(w, h.log, "method not allowed, use POST")
		return
	}

	req, err := decodeRenderRequest(r)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to decode render request")
		writeValidationFailure(w, h.log, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		h.log.Warn().Err(err).Msg("render request failed validation")
		writeValidationFailure(w, h.log, err.Error())
		return
	}

	h.log.Info().Str("url", security.RedactURL(req.URL)).Msg("render request received")

	result, err := h.manager.Render(r.Context(), req.toOverrides())
	if err != nil {
		h.log.Warn().Err(err).Str("url", security.RedactURL(req.URL)).Msg("render failed")
		writeRenderFailure(w, h.log, err)
		return
	}
	writeRenderSuccess(w, h.log, result)
}

func (h *Handler) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write([]byte(openAPISpec))
}

// handleDomainStats reports the tracked request/success/error/rate-limit
// history for a single domain, keyed by the "url" query parameter (any URL
// on that host — only the hostname is used for lookup).
func (h *Handler) handleDomainStats(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeValidationFailure(w, h.log, "url query parameter is required")
		return
	}
	data, ok := h.manager.DomainStats(target)
	if !ok {
		writeJSON(w, h.log, http.StatusNotFound, recycleResponse{Result: "no stats tracked for that domain"})
		return
	}
	writeJSON(w, h.log, http.StatusOK, data)
}

// recycleResponse is the payload of POST /debug/recycle.
type recycleResponse struct {
	Result string `json:"result"`
}

// handleRecycle triggers a manual Supervisor recycle, per SPEC_FULL.md's
// `renderctl recycle`/`renderctl takeover` operator subcommands — both map
// onto this single control-plane action, since the Supervisor exposes
// exactly one manual orderly-swap primitive.
func (h *Handler) handleRecycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeValidationFailure(w, h.log, "method not allowed, use POST")
		return
	}
	result, err := h.manager.Recycle(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("recycle failed")
		writeRenderFailure(w, h.log, err)
		return
	}
	if h.debugHub != nil {
		h.debugHub.Publish("recycle", result)
	}
	writeJSON(w, h.log, http.StatusOK, recycleResponse{Result: result})
}
