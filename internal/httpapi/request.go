// Package httpapi is the HTTP surface of the render service: request
// decoding/validation, response writing, the route table, and the debug
// websocket stream.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/renderd/renderd/internal/dialogjs"
	"github.com/renderd/renderd/internal/rendercoord"
	"github.com/renderd/renderd/internal/security"
)

// maxRequestBodyBytes bounds the POST /render body.
const maxRequestBodyBytes = 1 << 20

// completionTriggerRequest is the wire shape of the completionTrigger
// discriminated union (spec §6 / §4.I). Missing optional fields fall back
// to the configured service defaults, never to a hardcoded value here.
type completionTriggerRequest struct {
	Type                       string `json:"type"`
	WaitAfterLastRequestMillis *int64 `json:"waitAfterLastRequestMillis,omitempty"`
	VariableName               string `json:"variableName,omitempty"`
	Target                     string `json:"target,omitempty"`
	EventName                  string `json:"eventName,omitempty"`
}

// renderRequest is the decoded body of POST /render.
type renderRequest struct {
	URL                           string                     `json:"url"`
	PageLoadTimeoutMillis         *int64                     `json:"pageLoadTimeoutMillis,omitempty"`
	BrowserWidth                  *int                       `json:"browserWidth,omitempty"`
	BrowserHeight                 *int                       `json:"browserHeight,omitempty"`
	AllowPartialLoad              *bool                      `json:"allowPartialLoad,omitempty"`
	FreshBrowserContext           *bool                      `json:"freshBrowserContext,omitempty"`
	ScriptToEvaluateOnNewDocument *string                    `json:"scriptToEvaluateOnNewDocument,omitempty"`
	ExpectedStatusCodes           []int64                    `json:"expectedStatusCodes,omitempty"`
	CompletionTrigger             *completionTriggerRequest  `json:"completionTrigger,omitempty"`
}

// decodeRenderRequest reads and JSON-decodes the request body, bounded to
// maxRequestBodyBytes, the way teacher's HandleAPI reads via io.Copy into a
// pooled buffer before unmarshalling.
func decodeRenderRequest(r *http.Request) (*renderRequest, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	var req renderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON request: %w", err)
	}
	return &req, nil
}

// validate checks the bounds the spec states explicitly (§6: viewport
// dimensions ≥ 160, url required, trigger union well-formed), mirroring
// teacher's types.Request.Validate centralized-validation idiom.
func (req *renderRequest) validate() error {
	if req.URL == "" {
		return fmt.Errorf("url is required")
	}
	if err := security.ValidateURL(req.URL); err != nil {
		return fmt.Errorf("url is not allowed: %w", err)
	}
	if req.BrowserWidth != nil && *req.BrowserWidth < 160 {
		return fmt.Errorf("browserWidth must be >= 160")
	}
	if req.BrowserHeight != nil && *req.BrowserHeight < 160 {
		return fmt.Errorf("browserHeight must be >= 160")
	}
	if req.PageLoadTimeoutMillis != nil && *req.PageLoadTimeoutMillis < 0 {
		return fmt.Errorf("pageLoadTimeoutMillis must be >= 0")
	}

	if ct := req.CompletionTrigger; ct != nil {
		switch ct.Type {
		case "", "requests", "event", "variable", "always", "never":
		default:
			return fmt.Errorf("completionTrigger.type must be one of requests, event, variable, always, never")
		}
		if ct.Type == "variable" && ct.VariableName == "" {
			return fmt.Errorf("completionTrigger.variableName is required for type=variable")
		}
		// Event's target is spliced directly into an injected script
		// (dialogjs.EventTriggerScript); reject anything that is not a
		// bare identifier/property-access chain before it ever reaches
		// the page, the same check the Event trigger itself re-applies
		// as defense in depth.
		if ct.Type == "event" && ct.Target != "" && !dialogjs.IsValidTargetExpr(ct.Target) {
			return fmt.Errorf("completionTrigger.target is not a valid target expression")
		}
	}
	return nil
}

// toOverrides converts the validated wire request into rendercoord
// Overrides, leaving every field the client omitted as nil/zero so
// mergeOptions falls back to the service-configured default.
func (req *renderRequest) toOverrides() rendercoord.Overrides {
	url := req.URL
	o := rendercoord.Overrides{
		URL:                           &url,
		Width:                         req.BrowserWidth,
		Height:                        req.BrowserHeight,
		PageLoadTimeoutMillis:         req.PageLoadTimeoutMillis,
		AllowPartialLoad:              req.AllowPartialLoad,
		FreshBrowserContext:           req.FreshBrowserContext,
		ScriptToEvaluateOnNewDocument: req.ScriptToEvaluateOnNewDocument,
		ExpectedStatusCodes:           req.ExpectedStatusCodes,
	}
	if ct := req.CompletionTrigger; ct != nil {
		trig := &rendercoord.TriggerOverride{
			Kind:         ct.Type,
			VariableName: ct.VariableName,
			EventTarget:  ct.Target,
			EventName:    ct.EventName,
		}
		if ct.WaitAfterLastRequestMillis != nil {
			trig.WaitAfterLastRequestMillis = *ct.WaitAfterLastRequestMillis
		}
		o.Trigger = trig
	}
	return o
}
