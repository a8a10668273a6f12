// Package rendererr provides the error taxonomy shared across the render
// service: sentinel errors for errors.Is checks, a typed LogicError for
// state-machine precondition violations, and a typed RenderError carrying
// the client-facing error kind described in the render API contract.
package rendererr

import "errors"

// Sentinel errors for consistent error handling with errors.Is.
var (
	// Process / supervisor errors.
	ErrProcessNotRunning  = errors.New("browser process is not running")
	ErrProcessFaulted     = errors.New("browser process faulted")
	ErrStandbyUnavailable = errors.New("standby instance is not available")
	ErrSupervisorClosed   = errors.New("supervisor provider is closed")
	ErrProviderClosed     = errors.New("provider is closed")

	// Handle / tab errors.
	ErrHandleClosed     = errors.New("handle is closed")
	ErrTabAlreadyRender = errors.New("tab renderer has already rendered once")

	// CDP client errors.
	ErrClientClosed = errors.New("cdp client is closed")
)

// Kind enumerates the client-facing error taxonomy from the render API
// contract. The zero value KindUnknown is the catch-all bucket for any
// unclassified internal error propagated from the HTTP surface.
type Kind string

const (
	KindTabCreationFailed   Kind = "tab_creation_failed"
	KindInitialRequestFail  Kind = "initial_request_failed"
	KindInitialReqStatus    Kind = "initial_request_status"
	KindTimeout             Kind = "timeout"
	KindBrowserUnavailable  Kind = "browser_unavailable"
	KindUnknown             Kind = "unknown"
)

// RenderError is the typed error returned by a failed render. It carries
// enough information for the HTTP surface to populate the Failure response
// shape of the render API (§6): code, message, and, when the initial
// request reached at least Response, the status/headers observed.
type RenderError struct {
	Kind       Kind
	Message    string
	HTTPStatus int               // 0 if unknown
	Headers    map[string]string // nil if unknown
	Err        error             // underlying error, for unwrapping
}

func (e *RenderError) Error() string {
	return e.Message
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// HasResponse reports whether the initial request reached at least the
// Response stage, i.e. whether HTTPStatus/Headers are meaningful.
func (e *RenderError) HasResponse() bool {
	return e.HTTPStatus != 0
}

// NewRenderError builds a RenderError with no known response metadata.
func NewRenderError(kind Kind, message string, err error) *RenderError {
	return &RenderError{Kind: kind, Message: message, Err: err}
}

// NewRenderErrorWithResponse builds a RenderError where the initial request
// reached Response before failing (e.g. initial_request_status, or a
// timeout after a response was already observed).
func NewRenderErrorWithResponse(kind Kind, message string, status int, headers map[string]string, err error) *RenderError {
	return &RenderError{Kind: kind, Message: message, HTTPStatus: status, Headers: headers, Err: err}
}

// LogicError marks a violated state-machine precondition: a programmer bug,
// never a condition a client request can trigger on its own (e.g. starting
// an already-Running process, recycling a non-Running supervisor, re-using
// a Tab Renderer). Mirrors the teacher's ChallengeError/PoolError shape:
// a typed struct with Error()/Unwrap(), constructed via named helpers.
type LogicError struct {
	Op      string // the operation that was attempted
	Message string
	Err     error
}

func (e *LogicError) Error() string {
	if e.Message != "" {
		return e.Op + ": " + e.Message
	}
	return e.Op + ": logic error"
}

func (e *LogicError) Unwrap() error {
	return e.Err
}

// NewLogicError constructs a LogicError for the named operation.
func NewLogicError(op, message string) *LogicError {
	return &LogicError{Op: op, Message: message}
}
