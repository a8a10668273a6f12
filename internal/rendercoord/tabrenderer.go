// Package rendercoord implements the Tab Renderer and Render Manager of
// design §4.J/§4.K: per-request tab creation, navigation, completion-wait,
// HTML extraction, and always-fault-tolerant teardown, wrapped by a thin
// acquire/invoke/release layer over a Provider.
//
// Grounded on the teacher's solver.Solve per-request orchestration shape
// (internal/solver/solver.go: acquire → create page → navigate → wait →
// extract → defer page.Close()), generalized from challenge-solving to the
// render design's explicit five-step algorithm.
package rendercoord

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"

	"github.com/renderd/renderd/internal/cdpclient"
	"github.com/renderd/renderd/internal/dialogjs"
	"github.com/renderd/renderd/internal/ratelimit"
	"github.com/renderd/renderd/internal/rendererr"
	"github.com/renderd/renderd/internal/requestwatcher"
	"github.com/renderd/renderd/internal/trigger"
)

// Completion reports whether a render reached its completion trigger
// normally or was cut short by the page-load timeout with partial-load
// permitted.
type Completion string

const (
	CompletionNormal          Completion = "normal"
	CompletionPageLoadTimeout Completion = "pageLoadTimeout"
)

// Options configures a single render. Per-request fields merged over
// service defaults are the Render Manager's responsibility (manager.go);
// by the time Options reaches a TabRenderer every field is already final.
type Options struct {
	URL string

	Width, Height int

	PageLoadTimeout time.Duration

	AllowPartialLoad              bool
	FreshBrowserContext           bool
	ScriptToEvaluateOnNewDocument string
	ExpectedStatusCodes           []int64

	Trigger trigger.Spec

	// UserAgent, if set, overrides the browser-level user agent for this
	// tab only.
	UserAgent string

	// Debug enables the Request Watcher's full-history mode and Console
	// message recording, instead of only-initial mode.
	Debug bool

	// OnInitialRequest is an optional hook invoked once the initial
	// request's record is known, after status validation.
	OnInitialRequest func(*requestwatcher.Record)
}

// Result is the outcome of a successful render.
type Result struct {
	ResolvedURL string
	Status      int64
	Headers     map[string]string
	HTML        string
	Completion  Completion

	// BlockSignal is non-nil when the resolved status/HTML matches a known
	// rate-limit, access-denial, geo-block, or CAPTCHA pattern, even though
	// the render itself completed successfully — the page rendered, but its
	// content says the target site rejected the request.
	BlockSignal *ratelimit.Signal
}

// detectBlock classifies a completed render's status/HTML against known
// rejection patterns. A render can succeed (reach its completion trigger,
// return HTML) while the target site served a rate-limit or challenge page
// instead of real content; BlockSignal surfaces that distinction to the
// caller without turning it into a render error.
func detectBlock(status int64, html string) *ratelimit.Signal {
	signal := ratelimit.Detect(status, html)
	if !signal.Detected {
		return nil
	}
	return &signal
}

// TabRenderer drives exactly one render over one CDP client. It is
// single-use: a second Render call rejects with a LogicError.
type TabRenderer struct {
	client *cdpclient.Client
	opts   Options
	log    zerolog.Logger

	rendered atomic.Bool
}

// New builds a TabRenderer bound to client. client is not closed by the
// TabRenderer; it is owned by whoever produced the Handle.
func New(client *cdpclient.Client, opts Options, log zerolog.Logger) *TabRenderer {
	return &TabRenderer{client: client, opts: opts, log: log}
}

// Render executes the five-step per-render algorithm of design §4.J.
func (t *TabRenderer) Render(ctx context.Context) (*Result, error) {
	if !t.rendered.CompareAndSwap(false, true) {
		return nil, rendererr.NewLogicError("TabRenderer.Render", "render may only be invoked once per instance")
	}

	timeout := t.opts.PageLoadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	renderCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	td := newTeardown(t.log)
	defer td.run()

	page, domLoaded, trig, watcher, err := t.createTab(renderCtx, td)
	if err != nil {
		return nil, err
	}

	return t.loadPage(renderCtx, page, domLoaded, trig, watcher)
}

// createTab implements step 1: tab creation, domain enablement, handler
// installation, and script injection in the exact order the design
// specifies (context-init before the completion trigger, the user's
// script last). Any failure anywhere in this step is TabCreationFailed.
func (t *TabRenderer) createTab(ctx context.Context, td *teardown) (*rod.Page, *atomic.Bool, trigger.Trigger, *requestwatcher.Watcher, error) {
	fail := func(err error) (*rod.Page, *atomic.Bool, trigger.Trigger, *requestwatcher.Watcher, error) {
		return nil, nil, nil, nil, rendererr.NewRenderError(rendererr.KindTabCreationFailed, err.Error(), err)
	}

	var bctxID proto.BrowserContextID
	if t.opts.FreshBrowserContext {
		res, err := proto.TargetCreateBrowserContext{}.Call(t.client.Browser())
		if err != nil {
			return fail(fmt.Errorf("create browser context: %w", err))
		}
		bctxID = res.BrowserContextID
		td.add("browser_context", func() error {
			return proto.TargetDisposeBrowserContext{BrowserContextID: bctxID}.Call(t.client.Browser())
		})
	}

	page, err := t.client.Browser().Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank", BrowserContextID: bctxID})
	if err != nil {
		return fail(fmt.Errorf("create page target: %w", err))
	}
	td.add("target", func() error { return page.Close() })

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return fail(fmt.Errorf("enable network domain: %w", err))
	}
	if err := (proto.PageEnable{}).Call(page); err != nil {
		return fail(fmt.Errorf("enable page domain: %w", err))
	}

	// Stealth is the default scriptToEvaluateOnNewDocument base layer,
	// installed before any trigger or user script so those always run
	// against the already-patched environment.
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return fail(fmt.Errorf("install stealth script: %w", err))
	}

	if t.opts.UserAgent != "" {
		if err := (proto.NetworkSetUserAgentOverride{UserAgent: t.opts.UserAgent}).Call(page); err != nil {
			return fail(fmt.Errorf("set user agent: %w", err))
		}
	}

	dialogs := dialogjs.New(page)
	td.add("dialog_handler", func() error { dialogs.Close(); return nil })

	domLoaded := &atomic.Bool{}
	domCtx, cancelDom := context.WithCancel(context.Background())
	td.add("dom_watch", func() error { cancelDom(); return nil })
	go func() {
		wait := page.Context(domCtx).EachEvent(func(*proto.PageDomContentEventFired) {
			domLoaded.Store(true)
		})
		wait()
	}()

	contextKey := dialogjs.RandomContextKey()
	if _, err := page.EvalOnNewDocument(dialogjs.ContextInitScript(contextKey)); err != nil {
		return fail(fmt.Errorf("install context-init script: %w", err))
	}

	trig, err := trigger.Build(t.opts.Trigger, dialogs)
	if err != nil {
		return fail(fmt.Errorf("build completion trigger: %w", err))
	}
	if err := trig.Init(page); err != nil {
		return fail(fmt.Errorf("init completion trigger: %w", err))
	}
	td.add("completion_trigger", func() error { trig.Close(); return nil })

	watcher := requestwatcher.New(page, t.opts.Debug)
	td.add("request_watcher", func() error { watcher.Close(); return nil })

	if t.opts.ScriptToEvaluateOnNewDocument != "" {
		if _, err := page.EvalOnNewDocument(t.opts.ScriptToEvaluateOnNewDocument); err != nil {
			return fail(fmt.Errorf("install user script: %w", err))
		}
	}

	return page, domLoaded, trig, watcher, nil
}

// loadPage implements steps 2-4: navigate, await the initial request and
// completion trigger, then read the result HTML. Teardown (step 5) is the
// caller's responsibility via the deferred teardown.run().
func (t *TabRenderer) loadPage(ctx context.Context, page *rod.Page, domLoaded *atomic.Bool, trig trigger.Trigger, watcher *requestwatcher.Watcher) (*Result, error) {
	width, height := t.opts.Width, t.opts.Height
	if width <= 0 {
		width = 1920
	}
	if height <= 0 {
		height = 1080
	}
	metrics := proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		ScreenWidth:       width,
		ScreenHeight:      height,
		DeviceScaleFactor: 0,
		Mobile:            false,
	}
	if err := metrics.Call(page); err != nil {
		return nil, rendererr.NewRenderError(rendererr.KindUnknown, fmt.Sprintf("set device metrics: %v", err), err)
	}

	if err := page.Context(ctx).Navigate(t.opts.URL); err != nil {
		return nil, rendererr.NewRenderError(rendererr.KindUnknown, fmt.Sprintf("navigate: %v", err), err)
	}

	rec, err := watcher.InitialRequestPromise(ctx)
	if err != nil {
		return t.timeoutResult(domLoaded.Load(), "", 0, nil)
	}

	if rec.ReadyState == requestwatcher.Failed {
		return nil, rendererr.NewRenderErrorWithResponse(
			rendererr.KindInitialRequestFail, rec.ErrorText, int(rec.HTTPStatus), rec.Headers, nil)
	}
	if len(t.opts.ExpectedStatusCodes) > 0 && !statusExpected(rec.HTTPStatus, t.opts.ExpectedStatusCodes) {
		return nil, rendererr.NewRenderErrorWithResponse(
			rendererr.KindInitialReqStatus,
			fmt.Sprintf("initial response status %d not in expected set", rec.HTTPStatus),
			int(rec.HTTPStatus), rec.Headers, nil)
	}

	if t.opts.OnInitialRequest != nil {
		t.opts.OnInitialRequest(rec)
	}

	completion := CompletionNormal
	if err := trig.Wait(ctx); err != nil {
		res, timeoutErr := t.timeoutResult(domLoaded.Load(), rec.URL, rec.HTTPStatus, rec.Headers)
		if timeoutErr != nil {
			return nil, timeoutErr
		}
		completion = CompletionPageLoadTimeout
		res.ResolvedURL = rec.URL
		res.Status = rec.HTTPStatus
		res.Headers = rec.Headers
		res.HTML = t.readHTML(page, trig)
		res.BlockSignal = detectBlock(res.Status, res.HTML)
		return res, nil
	}

	html := t.readHTML(page, trig)
	return &Result{
		ResolvedURL: rec.URL,
		Status:      rec.HTTPStatus,
		Headers:     rec.Headers,
		HTML:        html,
		Completion:  completion,
		BlockSignal: detectBlock(rec.HTTPStatus, html),
	}, nil
}

// timeoutResult implements step 3: if DOMContentLoaded never fired or
// partial loads are disallowed, the timeout is a hard error; otherwise it
// is reported back as a successful PageLoadTimeout completion (the caller
// fills in HTML/resolvedUrl since this helper runs before those are known
// in the initial-request-timeout case).
func (t *TabRenderer) timeoutResult(domLoaded bool, resolvedURL string, status int64, headers map[string]string) (*Result, error) {
	if !domLoaded || !t.opts.AllowPartialLoad {
		return nil, rendererr.NewRenderErrorWithResponse(rendererr.KindTimeout, "page load timeout exceeded", int(status), headers, nil)
	}
	return &Result{ResolvedURL: resolvedURL, Status: status, Headers: headers, Completion: CompletionPageLoadTimeout}, nil
}

// readHTML prefers the completion trigger's synchronously-latched capture
// and falls back to a live serialization otherwise.
func (t *TabRenderer) readHTML(page *rod.Page, trig trigger.Trigger) string {
	if html, ok := trig.CapturedHTML(); ok {
		return html
	}
	res, err := page.Eval(trigger.EvalArg(dialogjs.SerializeDocumentExpr))
	if err != nil || res == nil {
		return ""
	}
	return res.Value.Str()
}

func statusExpected(status int64, expected []int64) bool {
	for _, s := range expected {
		if s == status {
			return true
		}
	}
	return false
}
