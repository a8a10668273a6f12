package trigger

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"

	"github.com/renderd/renderd/internal/dialogjs"
	"github.com/renderd/renderd/internal/rendererr"
)

// Event is the magic-dialog completion trigger keyed off an
// addEventListener callback firing on target. Defaults, per design's
// open-question resolution, are target="window" and
// eventName="prerender_done" when the request omits them.
type Event struct {
	target    string
	eventName string
	dialogs   *dialogjs.Handler

	page       *rod.Page
	contextKey string
	token      string
	signal     <-chan struct{}

	mu     sync.Mutex
	closed bool
}

const (
	DefaultEventTarget = "window"
	DefaultEventName   = "prerender_done"
)

// NewEvent builds an Event trigger. Empty target/eventName fall back to
// the documented defaults.
func NewEvent(target, eventName string, dialogs *dialogjs.Handler) *Event {
	if target == "" {
		target = DefaultEventTarget
	}
	if eventName == "" {
		eventName = DefaultEventName
	}
	return &Event{target: target, eventName: eventName, dialogs: dialogs}
}

func (t *Event) Kind() Kind { return KindEvent }

func (t *Event) Init(page *rod.Page) error {
	if err := validateNonEmpty("Event.Init", "eventName", t.eventName); err != nil {
		return err
	}
	// Request validation is expected to have already rejected anything
	// but a dotted identifier chain; this is a second, cheap line of
	// defense since target is spliced into the generated script
	// unescaped.
	if !dialogjs.IsValidTargetExpr(t.target) {
		return rendererr.NewLogicError("Event.Init", fmt.Sprintf("invalid event target expression %q", t.target))
	}

	t.page = page
	t.contextKey = dialogjs.RandomContextKey()
	t.token, t.signal = t.dialogs.RegisterMagic()

	script := dialogjs.ContextInitScript(t.contextKey) + "\n" +
		dialogjs.EventTriggerScript(t.contextKey, capturedSlot, t.target, t.eventName, t.token)

	if _, err := page.EvalOnNewDocument(script); err != nil {
		return fmt.Errorf("event trigger: install script: %w", err)
	}
	return nil
}

func (t *Event) Wait(ctx context.Context) error {
	select {
	case <-t.signal:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Event) CapturedHTML() (string, bool) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed || t.page == nil {
		return "", false
	}
	res, err := t.page.Eval(EvalArg(dialogjs.ReadSlotExpr(t.contextKey, capturedSlot)))
	if err != nil || res == nil {
		return "", false
	}
	html := res.Value.Str()
	if html == "" {
		return "", false
	}
	return html, true
}

func (t *Event) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	if t.dialogs != nil && t.token != "" {
		t.dialogs.CancelMagic(t.token)
	}
}
