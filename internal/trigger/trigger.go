// Package trigger implements the Completion Triggers of design §4.I: the
// five ways a render can decide the page is "done" before its render
// timeout expires — Requests (network quiet period), Variable and Event
// (magic-dialog rendezvous with synchronous DOM capture), Always
// (immediate), and Never (exercises the timeout path only).
//
// All five share one lifecycle, grounded on the shape of the teacher's
// own wait-for-condition helpers (internal/browser/stealth.go's
// apply-before-navigate ordering; internal/humanize's page.Eval-driven
// synchronous reads): Init installs any hooks the trigger needs before
// navigation starts, Wait blocks until the trigger fires or ctx is
// done, and Close releases the trigger's resources. No trigger filters by
// frame: Requests counts every request reported on the page's session,
// iframes included, and the Variable and Event scripts are installed with
// EvalOnNewDocument without a top-level-frame check.
package trigger

import (
	"context"

	"github.com/go-rod/rod"
)

// Kind identifies which completion trigger a render request selected.
type Kind string

const (
	KindRequests Kind = "requests"
	KindVariable Kind = "variable"
	KindEvent    Kind = "event"
	KindAlways   Kind = "always"
	KindNever    Kind = "never"
)

// Trigger is satisfied by all five completion trigger implementations.
type Trigger interface {
	Kind() Kind

	// Init installs whatever hooks the trigger needs. It must be called
	// before the page navigates, since Variable and Event triggers rely
	// on addScriptToEvaluateOnNewDocument to win the race against the
	// page's own scripts.
	Init(page *rod.Page) error

	// Wait blocks until the trigger fires or ctx is done, whichever
	// comes first.
	Wait(ctx context.Context) error

	// CapturedHTML returns the document captured at the instant the
	// trigger fired, for triggers that latch it synchronously (Variable,
	// Event). Other triggers return ok=false, telling the Tab Renderer
	// to take its own snapshot after Wait returns.
	CapturedHTML() (html string, ok bool)

	// Close releases resources. Idempotent.
	Close()
}

// EvalArg wraps a bare JS expression as a zero-argument arrow function,
// the shape rod's Page.Eval expects.
func EvalArg(expr string) string {
	return "() => (" + expr + ")"
}
