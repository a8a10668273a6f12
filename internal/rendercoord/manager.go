package rendercoord

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renderd/renderd/internal/browserproc"
	"github.com/renderd/renderd/internal/providers"
	"github.com/renderd/renderd/internal/rendererr"
	"github.com/renderd/renderd/internal/stats"
	"github.com/renderd/renderd/internal/trigger"
)

// Provider is the narrow interface the Render Manager needs from either
// the Supervisor Provider or the External Provider: start, stop, and
// handle acquisition.
type Provider interface {
	Start(ctx context.Context) error
	Close(ctx context.Context) error
	CreateHandle() *browserproc.Handle
}

// ProviderFactory constructs the Provider the Manager will own. Injected
// so the Manager never needs to know whether it is driving a Supervisor
// or an External provider (design §4.K: "constructed by an injected factory").
type ProviderFactory func() (Provider, error)

// Manager is the Render Manager of design §4.K: owns exactly one Provider,
// and turns (Handle acquisition + Tab Renderer invocation + Handle release)
// into a single render call.
type Manager struct {
	factory ProviderFactory
	log     zerolog.Logger

	mu       sync.Mutex
	defaults Options
	provider Provider

	domainStats *stats.Manager
}

// NewManager builds a Manager. defaults supplies the service-wide render
// configuration that per-request Options are merged over.
func NewManager(factory ProviderFactory, defaults Options, log zerolog.Logger) *Manager {
	return &Manager{factory: factory, defaults: defaults, log: log, domainStats: stats.NewManager()}
}

// DomainStats returns the tracked request/success/error/rate-limit history
// for rawURL's host, for the GET /debug/stats admin endpoint. ok is false
// if the host has never been rendered.
func (m *Manager) DomainStats(rawURL string) (stats.DomainStatsJSON, bool) {
	domain := stats.ExtractDomain(rawURL)
	if domain == "" {
		return stats.DomainStatsJSON{}, false
	}
	d := m.domainStats.Get(domain)
	if d == nil {
		return stats.DomainStatsJSON{}, false
	}
	return d.ToJSON(m.domainStats.DefaultMinDelayMs, m.domainStats.DefaultMaxDelayMs), true
}

// Start constructs the Provider via the injected factory and starts it.
func (m *Manager) Start(ctx context.Context) error {
	provider, err := m.factory()
	if err != nil {
		return err
	}
	if err := provider.Start(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.provider = provider
	m.mu.Unlock()
	return nil
}

// Provider returns the currently owned Provider, or nil before Start. Used
// by the service entrypoint to build a health report that can distinguish
// a Supervisor Provider (reporting Main/Standby roles) from an External
// one (reporting only the connection state).
func (m *Manager) Provider() Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provider
}

// recycler is implemented by Provider kinds that support a manual orderly
// Main/Standby swap — currently only the Supervisor Provider. An External
// provider does not implement it, so Recycle reports KindUnknown rather
// than attempting a type assertion the caller cannot recover from.
type recycler interface {
	RecycleMain(ctx context.Context) (providers.RecycleResult, error)
}

// Recycle triggers a manual orderly recycle of the owned Provider, if it
// supports one. Used by the operator CLI's `recycle`/`takeover`
// subcommands — the Supervisor exposes exactly one manual control-plane
// action (RecycleMain), so both map onto it.
func (m *Manager) Recycle(ctx context.Context) (string, error) {
	m.mu.Lock()
	provider := m.provider
	m.mu.Unlock()
	if provider == nil {
		return "", rendererr.NewRenderError(rendererr.KindBrowserUnavailable, "render manager is not started", nil)
	}
	r, ok := provider.(recycler)
	if !ok {
		return "", rendererr.NewLogicError("Manager.Recycle", "the configured provider does not support manual recycle")
	}
	result, err := r.RecycleMain(ctx)
	if err != nil {
		return "", err
	}
	return result.String(), nil
}

// Stop closes the owned Provider.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	provider := m.provider
	m.mu.Unlock()
	m.domainStats.Close()
	if provider == nil {
		return nil
	}
	return provider.Close(ctx)
}

// Render acquires a Handle from the Provider, merges overrides over the
// service defaults, invokes a fresh TabRenderer, and releases the Handle
// on every exit path.
func (m *Manager) Render(ctx context.Context, overrides Overrides) (*Result, error) {
	m.mu.Lock()
	provider := m.provider
	defaults := m.defaults
	m.mu.Unlock()
	if provider == nil {
		return nil, rendererr.NewRenderError(rendererr.KindBrowserUnavailable, "render manager is not started", nil)
	}

	handle := provider.CreateHandle()
	if handle == nil {
		return nil, rendererr.NewRenderError(rendererr.KindBrowserUnavailable, "no browser handle available", nil)
	}
	defer handle.Close()

	opts := mergeOptions(defaults, overrides)
	domain := stats.ExtractDomain(opts.URL)

	start := time.Now()
	renderer := New(handle.Client(), opts, m.log)
	result, err := renderer.Render(ctx)
	latencyMs := time.Since(start).Milliseconds()

	rateLimited := err == nil && result.BlockSignal != nil
	m.domainStats.RecordRequest(domain, latencyMs, err == nil, rateLimited)

	return result, err
}

// UpdateRenderDefaults replaces the render-related fields of the service
// defaults (page load timeout, partial-load/fresh-context policy, expected
// status codes, completion trigger) without disturbing the browser-level
// defaults (viewport, user agent) set at construction time. This is the
// hook the config hot-reload watcher calls on every render-section change,
// since app/browser settings are process-lifetime fixed but render policy
// is not.
func (m *Manager) UpdateRenderDefaults(render RenderDefaults) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults.PageLoadTimeout = render.PageLoadTimeout
	m.defaults.AllowPartialLoad = render.AllowPartialLoad
	m.defaults.FreshBrowserContext = render.FreshBrowserContext
	m.defaults.ExpectedStatusCodes = render.ExpectedStatusCodes
	m.defaults.Trigger = render.Trigger
}

// RenderDefaults is the subset of Options that config hot-reload may
// replace at runtime.
type RenderDefaults struct {
	PageLoadTimeout     time.Duration
	AllowPartialLoad    bool
	FreshBrowserContext bool
	ExpectedStatusCodes []int64
	Trigger             trigger.Spec
}

// Overrides is the subset of Options a single render request may supply,
// distinct from Options itself so the zero value of each field
// unambiguously means "use the configured default" rather than "set to
// zero/empty".
type Overrides struct {
	URL *string

	Width, Height *int

	PageLoadTimeoutMillis *int64

	AllowPartialLoad              *bool
	FreshBrowserContext           *bool
	ScriptToEvaluateOnNewDocument *string
	ExpectedStatusCodes           []int64

	Trigger *TriggerOverride

	UserAgent *string
	Debug     *bool
}

// TriggerOverride mirrors trigger.Spec as an overlay; a nil TriggerOverride
// means "use the configured default completion trigger".
type TriggerOverride struct {
	Kind                       string
	WaitAfterLastRequestMillis int64
	VariableName               string
	EventTarget                string
	EventName                  string
}

func mergeOptions(defaults Options, o Overrides) Options {
	merged := defaults

	if o.URL != nil {
		merged.URL = *o.URL
	}
	if o.Width != nil {
		merged.Width = *o.Width
	}
	if o.Height != nil {
		merged.Height = *o.Height
	}
	if o.PageLoadTimeoutMillis != nil {
		merged.PageLoadTimeout = millisToDuration(*o.PageLoadTimeoutMillis)
	}
	if o.AllowPartialLoad != nil {
		merged.AllowPartialLoad = *o.AllowPartialLoad
	}
	if o.FreshBrowserContext != nil {
		merged.FreshBrowserContext = *o.FreshBrowserContext
	}
	if o.ScriptToEvaluateOnNewDocument != nil {
		merged.ScriptToEvaluateOnNewDocument = *o.ScriptToEvaluateOnNewDocument
	}
	if o.ExpectedStatusCodes != nil {
		merged.ExpectedStatusCodes = o.ExpectedStatusCodes
	}
	if o.Trigger != nil {
		merged.Trigger.Kind = triggerKind(o.Trigger.Kind)
		merged.Trigger.WaitAfterLastRequestMillis = o.Trigger.WaitAfterLastRequestMillis
		merged.Trigger.VariableName = o.Trigger.VariableName
		merged.Trigger.EventTarget = o.Trigger.EventTarget
		merged.Trigger.EventName = o.Trigger.EventName
	}
	if o.UserAgent != nil {
		merged.UserAgent = *o.UserAgent
	}
	if o.Debug != nil {
		merged.Debug = *o.Debug
	}

	return merged
}
