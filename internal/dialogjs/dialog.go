// Package dialogjs implements the Dialog Handler and Browser-JS helper of
// design §4.H: auto-accepting JavaScript dialogs, a "magic dialog" token
// rendezvous used as a one-shot signal from page code into the service,
// and small JS fragment generators for the per-page context object and
// deterministic document serialization.
//
// JS-fragment-as-Go-string generation is grounded on the teacher's
// internal/captcha/injection.go (fmt.Sprintf-built JS snippets evaluated
// via rod). Token generation uses google/uuid, grounded on
// tomasbasham-har-capture's use of the same library for capture run ids.
package dialogjs

import (
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

// Handler subscribes to Page.javascriptDialogOpening for one page and
// auto-accepts every dialog, echoing back the dialog's own default prompt
// text as the answer. Magic dialogs registered via RegisterMagic resolve
// their rendezvous the moment a dialog's default prompt matches the
// registered token.
type Handler struct {
	page *rod.Page

	mu     sync.Mutex
	magics map[string]chan struct{}

	cancel func()
}

// New installs the dialog handler on page.
func New(page *rod.Page) *Handler {
	h := &Handler{page: page, magics: make(map[string]chan struct{})}

	go page.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		h.onDialog(e)
	})()

	return h
}

func (h *Handler) onDialog(e *proto.PageJavascriptDialogOpening) {
	answer := e.DefaultPrompt

	h.mu.Lock()
	ch, isMagic := h.magics[answer]
	if isMagic {
		delete(h.magics, answer)
	}
	h.mu.Unlock()

	if isMagic {
		close(ch)
	}

	_ = proto.PageHandleJavaScriptDialog{Accept: true, PromptText: answer}.Call(h.page)
}

// RegisterMagic allocates a fresh random token and returns it along with a
// channel that closes the moment a dialog carrying that token (as its
// default prompt) is observed and auto-accepted.
func (h *Handler) RegisterMagic() (token string, done <-chan struct{}) {
	token = uuid.NewString()
	ch := make(chan struct{})
	h.mu.Lock()
	h.magics[token] = ch
	h.mu.Unlock()
	return token, ch
}

// CancelMagic removes a registered-but-unfired magic token, used when a
// completion trigger is torn down before its signal ever arrived.
func (h *Handler) CancelMagic(token string) {
	h.mu.Lock()
	delete(h.magics, token)
	h.mu.Unlock()
}

// Close forgets every registered magic token, so a later dialog no longer
// resolves any of them; their channels never close, and the caller
// (typically a completion trigger) treats them as "never fired" on its own
// timeout path. Close does not detach the dialog subscription: the
// EachEvent goroutine started by New keeps auto-accepting dialogs, and
// RegisterMagic keeps working after Close.
func (h *Handler) Close() {
	h.mu.Lock()
	h.magics = make(map[string]chan struct{})
	h.mu.Unlock()
}
