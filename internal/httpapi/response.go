package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/renderd/renderd/internal/metrics"
	"github.com/renderd/renderd/internal/ratelimit"
	"github.com/renderd/renderd/internal/rendercoord"
	"github.com/renderd/renderd/internal/rendererr"
)

// renderSuccess is the success envelope of POST /render (spec §6):
// {status, html, headers, completed}, completed = (completion != PageLoadTimeout).
// blockDetected is an additive diagnostic: the render itself succeeded, but
// the response content matches a known rate-limit/access-denial/CAPTCHA
// pattern from the target site, which a caller may want to retry or flag
// rather than treat as good content.
type renderSuccess struct {
	Status        int64             `json:"status"`
	HTML          string            `json:"html"`
	Headers       map[string]string `json:"headers"`
	Completed     bool              `json:"completed"`
	BlockDetected *blockDetection   `json:"blockDetected,omitempty"`
}

type blockDetection struct {
	Category       string `json:"category"`
	ErrorCode      string `json:"errorCode"`
	Description    string `json:"description"`
	SuggestedDelay int    `json:"suggestedDelayMillis"`
}

func toBlockDetection(signal *ratelimit.Signal) *blockDetection {
	if signal == nil {
		return nil
	}
	return &blockDetection{
		Category:       string(signal.Category),
		ErrorCode:      signal.Code,
		Description:    signal.Description,
		SuggestedDelay: signal.SuggestedDelay,
	}
}

// renderFailure is the failure envelope of POST /render (spec §6):
// {code, message}, code taken from the error kind taxonomy.
type renderFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// responseBufPool reduces GC pressure on the hot path, the same pooled
// buffer idiom as teacher's getResponseBuffer/putResponseBuffer.
var responseBufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

func getResponseBuffer() *bytes.Buffer {
	return responseBufPool.Get().(*bytes.Buffer)
}

func putResponseBuffer(buf *bytes.Buffer) {
	buf.Reset()
	responseBufPool.Put(buf)
}

// writeJSON buffers the JSON encoding before writing to the response so an
// encoding failure never results in a partially-written body — teacher's
// writeJSONResponse pattern (internal/handlers/handlers.go) exactly.
func writeJSON(w http.ResponseWriter, log zerolog.Logger, statusCode int, v interface{}) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"unknown","message":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

func writeRenderSuccess(w http.ResponseWriter, log zerolog.Logger, result *rendercoord.Result) {
	if result.BlockSignal != nil {
		metrics.RecordBlockDetection(string(result.BlockSignal.Category))
	}
	writeJSON(w, log, http.StatusOK, renderSuccess{
		Status:        result.Status,
		HTML:          result.HTML,
		Headers:       result.Headers,
		Completed:     result.Completion != rendercoord.CompletionPageLoadTimeout,
		BlockDetected: toBlockDetection(result.BlockSignal),
	})
}

// writeRenderFailure maps a render error to the failure envelope. Any
// error that is not a *rendererr.RenderError is reported as KindUnknown
// with HTTP 500, per spec §6's single failure status code. Request
// validation failures do not come here: writeValidationFailure reports
// them with 400 since they never reach the render pipeline.
func writeRenderFailure(w http.ResponseWriter, log zerolog.Logger, err error) {
	var rerr *rendererr.RenderError
	if errors.As(err, &rerr) {
		writeJSON(w, log, http.StatusInternalServerError, renderFailure{
			Code:    string(rerr.Kind),
			Message: rerr.Message,
		})
		return
	}
	writeJSON(w, log, http.StatusInternalServerError, renderFailure{
		Code:    string(rendererr.KindUnknown),
		Message: err.Error(),
	})
}

func writeValidationFailure(w http.ResponseWriter, log zerolog.Logger, message string) {
	writeJSON(w, log, http.StatusBadRequest, renderFailure{
		Code:    "invalid_request",
		Message: message,
	})
}
