package trigger

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"

	"github.com/renderd/renderd/internal/dialogjs"
	"github.com/renderd/renderd/internal/rendererr"
)

const capturedSlot = "captured"

// Variable is the magic-dialog completion trigger keyed off an assignment
// of `true` to a named global variable. It captures the document the
// instant the assignment happens, before the magic dialog that signals
// Wait is even accepted, per the synchronous-capture-then-signal pattern
// in internal/dialogjs.
type Variable struct {
	varName string
	dialogs *dialogjs.Handler

	page       *rod.Page
	contextKey string
	token      string
	signal     <-chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewVariable builds a Variable trigger for the named window property.
// dialogs must be the page's shared Dialog Handler, installed by the Tab
// Renderer before any trigger is initialized.
func NewVariable(varName string, dialogs *dialogjs.Handler) *Variable {
	return &Variable{varName: varName, dialogs: dialogs}
}

func (t *Variable) Kind() Kind { return KindVariable }

func (t *Variable) Init(page *rod.Page) error {
	if err := validateNonEmpty("Variable.Init", "varName", t.varName); err != nil {
		return err
	}
	t.page = page
	t.contextKey = dialogjs.RandomContextKey()
	t.token, t.signal = t.dialogs.RegisterMagic()

	script := dialogjs.ContextInitScript(t.contextKey) + "\n" +
		dialogjs.VariableTriggerScript(t.contextKey, capturedSlot, t.varName, t.token)

	if _, err := page.EvalOnNewDocument(script); err != nil {
		return fmt.Errorf("variable trigger: install script: %w", err)
	}
	return nil
}

func (t *Variable) Wait(ctx context.Context) error {
	select {
	case <-t.signal:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Variable) CapturedHTML() (string, bool) {
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

func (t *Variable) Close() {
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

// ensure Variable never silently no-ops on a blank varName; this is a
// defense-in-depth check mirroring the request-validation layer's
// responsibility, not a substitute for it.
func validateNonEmpty(op, field, value string) error {
	if value == "" {
		return rendererr.NewLogicError(op, field+" must not be empty")
	}
	return nil
}
