package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Requests is the network-quiet-period completion trigger: it fires once
// the top-level frame's DOMContentLoaded event has fired AND no request
// has been in flight for waitAfterLastRequest. Any request that starts
// before the quiet timer elapses restarts the wait. Grounded on the same
// requestWillBeSent/loadingFinished/loadingFailed event set as
// internal/requestwatcher, subscribed independently here since the two
// components serve different purposes (one measures, the other gates).
type Requests struct {
	waitAfterLastRequest time.Duration

	mu        sync.Mutex
	inFlight  int
	domLoaded bool
	timer     *time.Timer
	fired     bool

	done       chan struct{}
	doneOnce   sync.Once
	cancelSubs context.CancelFunc
	closeOnce  sync.Once
}

// NewRequests builds a Requests trigger. waitAfterLastRequest is the
// quiet-period duration (design's waitAfterLastRequestMillis).
func NewRequests(waitAfterLastRequest time.Duration) *Requests {
	return &Requests{
		waitAfterLastRequest: waitAfterLastRequest,
		done:                 make(chan struct{}),
	}
}

func (t *Requests) Kind() Kind { return KindRequests }

func (t *Requests) Init(page *rod.Page) error {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelSubs = cancel

	go func() {
		wait := page.Context(ctx).EachEvent(
			func(e *proto.NetworkRequestWillBeSent) {
				if e.RedirectResponse != nil {
					return
				}
				t.onRequestStart()
			},
			func(e *proto.NetworkLoadingFinished) {
				t.onRequestEnd()
			},
			func(e *proto.NetworkLoadingFailed) {
				t.onRequestEnd()
			},
			func(e *proto.PageDomContentEventFired) {
				t.onDomContentLoaded()
			},
		)
		wait()
	}()

	return nil
}

func (t *Requests) onRequestStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Requests) onRequestEnd() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight > 0 {
		t.inFlight--
	}
	if t.inFlight == 0 {
		t.armQuietTimerLocked()
	}
}

func (t *Requests) onDomContentLoaded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.domLoaded = true
	if t.inFlight == 0 {
		// A quiet timer armed before DOMContentLoaded may already have
		// run out without firing; start a fresh quiet period from here.
		t.armQuietTimerLocked()
	}
}

// armQuietTimerLocked must be called with t.mu held.
func (t *Requests) armQuietTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.waitAfterLastRequest, t.onQuietTimerFired)
}

func (t *Requests) onQuietTimerFired() {
	t.mu.Lock()
	stillQuiet := t.inFlight == 0 && t.domLoaded && !t.fired
	if stillQuiet {
		t.fired = true
	}
	t.mu.Unlock()

	if stillQuiet {
		t.doneOnce.Do(func() { close(t.done) })
	}
}

func (t *Requests) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Requests) CapturedHTML() (string, bool) { return "", false }

func (t *Requests) Close() {
	t.closeOnce.Do(func() {
		if t.cancelSubs != nil {
			t.cancelSubs()
		}
		t.mu.Lock()
		if t.timer != nil {
			t.timer.Stop()
		}
		t.mu.Unlock()
	})
}
