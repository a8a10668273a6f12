package trigger

import (
	"fmt"
	"time"

	"github.com/renderd/renderd/internal/dialogjs"
	"github.com/renderd/renderd/internal/rendererr"
)

// Spec is the parsed completionTrigger request field (design §4.I / §6).
// Exactly the fields relevant to Kind are consulted; the rest are ignored.
type Spec struct {
	Kind Kind

	WaitAfterLastRequestMillis int64

	VariableName string

	EventTarget string
	EventName   string
}

// Build constructs the Trigger named by spec.Kind. dialogs is required for
// Variable and Event; it may be nil for Requests, Always, and Never.
func Build(spec Spec, dialogs *dialogjs.Handler) (Trigger, error) {
	switch spec.Kind {
	case KindRequests:
		wait := time.Duration(spec.WaitAfterLastRequestMillis) * time.Millisecond
		if wait <= 0 {
			wait = 500 * time.Millisecond
		}
		return NewRequests(wait), nil
	case KindVariable:
		if dialogs == nil {
			return nil, rendererr.NewLogicError("trigger.Build", "variable trigger requires a dialog handler")
		}
		return NewVariable(spec.VariableName, dialogs), nil
	case KindEvent:
		if dialogs == nil {
			return nil, rendererr.NewLogicError("trigger.Build", "event trigger requires a dialog handler")
		}
		return NewEvent(spec.EventTarget, spec.EventName, dialogs), nil
	case KindAlways:
		return NewAlways(), nil
	case KindNever:
		return NewNever(), nil
	default:
		return nil, rendererr.NewLogicError("trigger.Build", fmt.Sprintf("unknown completion trigger kind %q", spec.Kind))
	}
}
