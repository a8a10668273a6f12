// Package browserproc implements the Browser Process state machine
// (component C) and the Browser Instance that wraps it with a role and
// uptime accounting (component D). Grounded on the teacher's
// internal/browser/pool.go: createLauncher()/spawnBrowser() for process
// startup, recycleBrowser()/closeBrowserWithTimeout() for the bounded
// stop-then-kill sequence, and isHealthy() for liveness detection (lifted
// into internal/cdpclient). The state machine itself, the ABA-safe version
// counters, and the event-driven fault/restart policy are new logic
// required by the design's explicit §3/§4.C contract, which the teacher
// (a fixed-size pool with no per-process state machine) does not model.
package browserproc

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renderd/renderd/internal/backoff"
	"github.com/renderd/renderd/internal/cdpclient"
	"github.com/renderd/renderd/internal/events"
	"github.com/renderd/renderd/internal/rendererr"
)

// Status is a Browser Process lifecycle state.
type Status int

const (
	Initial Status = iota
	Starting
	Running
	Stopping
	Stopped
	Faulted
)

func (s Status) String() string {
	switch s {
	case Initial:
		return "initial"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// StopReason records why a process stopped.
type StopReason int

const (
	StopReasonNone StopReason = iota
	StopReasonRequested
	StopReasonFaulted
)

// StartReason records why a start was invoked, for observability only.
type StartReason int

const (
	StartReasonRequested StartReason = iota
	StartReasonAutoRestart
)

// BrowserInfo caches metadata reported by the browser once connected.
type BrowserInfo struct {
	DefaultUserAgent string
	WebSocketURL     string
	VersionString    string
}

// versionPollDelays lists fixed backoff delays for polling the browser's
// HTTP Version endpoint during start. Start does not read it: launchBrowser
// waits on the launcher's own readiness check and then queries the Version
// endpoint once, without these delays.
var versionPollDelays = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
}

// Options configures a Process.
type Options struct {
	Launch LaunchOptions

	// HealthCheckInterval controls how often the underlying cdpclient
	// probes liveness. Zero disables the probe.
	HealthCheckInterval time.Duration

	// StartupRetryBackoff governs the delay before retrying Start after a
	// failure while Starting. AutoRestartBackoff governs the delay before
	// restarting after a fault while Running. Both default to a flat 1s
	// policy if nil.
	StartupRetryBackoff backoff.Policy
	AutoRestartBackoff  backoff.Policy

	// ProcessExitPollInterval controls how often the OS process-alive
	// watcher polls. Defaults to 500ms if zero.
	ProcessExitPollInterval time.Duration

	Logger zerolog.Logger
}

// Process is one headless-browser OS process paired with a CDP client,
// modeled as the state machine of design §4.C.
type Process struct {
	opts Options
	log  zerolog.Logger

	mu         sync.Mutex
	status     Status
	stopReason StopReason
	startCount int
	version    int64
	pid        int
	client     *cdpclient.Client
	info       BrowserInfo

	stopWatchCancel context.CancelFunc

	startingEmitter events.Emitter[struct{}]
	startEmitter    events.Emitter[struct{}]
	faultEmitter    events.Emitter[struct{}]
	stoppingEmitter events.Emitter[struct{}]
	stopEmitter     events.Emitter[StopReason]
}

// New creates a Process in the Initial state. It does not start anything.
func New(opts Options) *Process {
	if opts.StartupRetryBackoff == nil {
		opts.StartupRetryBackoff = backoff.NewFlat(1000)
	}
	if opts.AutoRestartBackoff == nil {
		opts.AutoRestartBackoff = backoff.NewFlat(1000)
	}
	if opts.ProcessExitPollInterval == 0 {
		opts.ProcessExitPollInterval = 500 * time.Millisecond
	}
	return &Process{opts: opts, log: opts.Logger, status: Initial}
}

// Status returns the current status.
func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// StartCount returns the number of times this Process has entered Starting.
func (p *Process) StartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startCount
}

// Info returns the cached browser metadata. Zero value until Running.
func (p *Process) Info() BrowserInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Client returns the current CDP client, or nil unless Running.
func (p *Process) Client() *cdpclient.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// PID returns the OS process id, 0 before a successful spawn.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// OnStarting/OnStart/OnFault/OnStopping/OnStop subscribe to the named
// transition, emitted in event order from a single logical dispatcher.
func (p *Process) OnStarting(fn func()) events.Subscription {
	return p.startingEmitter.Subscribe(func(struct{}) { fn() })
}
func (p *Process) OnStart(fn func()) events.Subscription {
	return p.startEmitter.Subscribe(func(struct{}) { fn() })
}
func (p *Process) OnFault(fn func()) events.Subscription {
	return p.faultEmitter.Subscribe(func(struct{}) { fn() })
}
func (p *Process) OnStopping(fn func()) events.Subscription {
	return p.stoppingEmitter.Subscribe(func(struct{}) { fn() })
}
func (p *Process) OnStop(fn func(StopReason)) events.Subscription {
	return p.stopEmitter.Subscribe(fn)
}

// UnsubscribeStart / UnsubscribeFault / UnsubscribeStop detach a listener
// previously registered via the corresponding On* method.
func (p *Process) UnsubscribeStart(sub events.Subscription) { p.startEmitter.Unsubscribe(sub) }
func (p *Process) UnsubscribeFault(sub events.Subscription) { p.faultEmitter.Unsubscribe(sub) }
func (p *Process) UnsubscribeStop(sub events.Subscription)  { p.stopEmitter.Unsubscribe(sub) }

// Start transitions Initial|Stopped -> Starting -> Running|Faulted. It
// returns (nil) silently if already Running, and a LogicError if the
// current status is neither Initial, Stopped, nor Running.
func (p *Process) Start(ctx context.Context, reason StartReason) error {
	p.mu.Lock()
	switch p.status {
	case Running:
		p.mu.Unlock()
		return nil
	case Initial, Stopped:
		// proceed
	default:
		p.mu.Unlock()
		return rendererr.NewLogicError("Process.Start", "cannot start from status "+p.status.String())
	}

	p.status = Starting
	p.stopReason = StopReasonNone
	p.version++
	myVersion := p.version
	p.startCount++
	p.mu.Unlock()

	p.startingEmitter.Emit(struct{}{})

	res, err := launchBrowser(ctx, p.opts.Launch)
	if err != nil {
		p.fault(myVersion, true)
		return err
	}

	if p.superseded(myVersion) {
		return nil
	}

	client, err := cdpclient.Dial(res.controlURL, p.opts.HealthCheckInterval)
	if err != nil {
		p.fault(myVersion, true)
		return err
	}

	if p.superseded(myVersion) {
		_ = client.Close()
		return nil
	}

	watchCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.pid = res.pid
	p.client = client
	p.info = BrowserInfo{DefaultUserAgent: res.userAgent, WebSocketURL: res.controlURL, VersionString: res.version}
	p.stopWatchCancel = cancel
	p.status = Running
	p.mu.Unlock()

	go waitProcessExit(watchCtx, res.pid, p.opts.ProcessExitPollInterval, func() {
		if !p.superseded(myVersion) {
			p.fault(myVersion, false)
		}
	})

	go func() {
		select {
		case <-client.Disconnected():
			if !p.superseded(myVersion) {
				p.fault(myVersion, false)
			}
		case <-watchCtx.Done():
		}
	}()

	p.startEmitter.Emit(struct{}{})
	return nil
}

// superseded reports whether a later start or a stop has advanced the
// version counter past myVersion, in which case an in-flight async step
// must abort silently (ABA protection).
func (p *Process) superseded(myVersion int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version != myVersion
}

// fault transitions to Faulted (unless superseded), emits fault, performs
// an internal Stop, and — if the version is still unchanged after the
// synchronous fault listeners ran — applies the configured restart policy.
func (p *Process) fault(myVersion int64, wasStarting bool) {
	p.mu.Lock()
	if p.version != myVersion {
		p.mu.Unlock()
		return
	}
	p.status = Faulted
	p.mu.Unlock()

	p.faultEmitter.Emit(struct{}{})

	p.stopInternal(StopReasonFaulted)

	if p.superseded(myVersion) {
		return
	}

	var policy backoff.Policy
	if wasStarting {
		policy = p.opts.StartupRetryBackoff
	} else {
		policy = p.opts.AutoRestartBackoff
	}
	delay := time.Duration(policy.NextTry()) * time.Millisecond

	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		<-t.C
		if p.superseded(myVersion) {
			return
		}
		if err := p.Start(context.Background(), StartReasonAutoRestart); err != nil {
			p.log.Warn().Err(err).Msg("auto-restart failed")
		}
	}()
}

// Stop is the public stop entry point (reason = Requested). It returns at
// once if the process is already Stopped. Concurrent callers are not
// coalesced: each call that finds the process not yet Stopped runs the
// whole stop sequence itself and emits its own stopping and stop events.
func (p *Process) Stop(ctx context.Context) error {
	p.stopInternal(StopReasonRequested)
	return nil
}

func (p *Process) stopInternal(reason StopReason) {
	p.mu.Lock()
	if p.status == Stopped {
		p.mu.Unlock()
		return
	}
	p.status = Stopping
	p.stopReason = reason
	p.version++
	client := p.client
	pid := p.pid
	cancel := p.stopWatchCancel
	p.client = nil
	p.stopWatchCancel = nil
	p.mu.Unlock()

	p.stoppingEmitter.Emit(struct{}{})

	if cancel != nil {
		cancel()
	}
	if client != nil {
		if err := client.Close(); err != nil {
			p.log.Debug().Err(err).Msg("error closing cdp client during stop")
		}
	}
	if pid != 0 {
		killProcess(pid, p.log)
	}

	p.mu.Lock()
	p.status = Stopped
	p.mu.Unlock()

	p.stopEmitter.Emit(reason)
}
