package browserproc

import (
	"sync"
	"time"

	"github.com/renderd/renderd/internal/cdpclient"
	"github.com/renderd/renderd/internal/events"
)

// Role is a Browser Instance's position within a Supervisor.
type Role int

const (
	RoleStandby Role = iota
	RoleMain
)

func (r Role) String() string {
	if r == RoleMain {
		return "main"
	}
	return "standby"
}

// Handle is an opaque token over a Process's CDP client. It auto-closes
// when the underlying client disconnects, closing is idempotent, and
// closing a Handle never closes the underlying client (many Handles may
// share one Process).
type Handle struct {
	client *cdpclient.Client
	mu     sync.Mutex
	closed bool
	onClose func()
}

// NewHandle constructs a Handle directly over a CDP client, for providers
// (such as the External Provider) that are not backed by an Instance.
func NewHandle(client *cdpclient.Client, onClose func()) *Handle {
	return newHandle(client, onClose)
}

func newHandle(client *cdpclient.Client, onClose func()) *Handle {
	h := &Handle{client: client, onClose: onClose}
	go func() {
		select {
		case <-client.Disconnected():
			h.Close()
		case <-client.Closed():
			h.Close()
		}
	}()
	return h
}

// Client returns the underlying CDP client for domain-qualified calls.
func (h *Handle) Client() *cdpclient.Client {
	return h.client
}

// Closed reports whether this Handle has been closed.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close is idempotent and never closes the underlying CDP client.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	if h.onClose != nil {
		h.onClose()
	}
}

// Instance wraps a Process with a role, an open-handle set, and a
// main-uptime stopwatch. Instance owns Process (parent-owns-child): the
// Process's lifetime is bounded by the Instance's, so no weak
// back-reference is needed for the Instance<->Process event coupling of
// design §9.
type Instance struct {
	process *Process

	mu      sync.Mutex
	role    Role
	handles map[*Handle]struct{}

	uptimeMu      sync.Mutex
	uptimeRunning bool
	uptimeStart   time.Time
	uptimeAccum   time.Duration

	startEmitter       events.Emitter[struct{}]
	stopEmitter        events.Emitter[struct{}]
	mainEmitter        events.Emitter[struct{}]
	standbyEmitter     events.Emitter[struct{}]
	idleEmitter        events.Emitter[struct{}]
	mainOnlineEmitter  events.Emitter[struct{}]
	mainOfflineEmitter events.Emitter[struct{}]

	procStartSub events.Subscription
	procStopSub  events.Subscription
	procFaultSub events.Subscription
}

// NewInstance wraps process with the given initial role and wires the
// uptime-accounting listeners onto the process's own events.
func NewInstance(process *Process, role Role) *Instance {
	inst := &Instance{process: process, role: role, handles: make(map[*Handle]struct{})}
	inst.procStartSub = process.OnStart(func() {
		inst.startEmitter.Emit(struct{}{})
		inst.reevaluateUptime()
	})
	inst.procStopSub = process.OnStop(func(StopReason) {
		inst.stopEmitter.Emit(struct{}{})
		inst.reevaluateUptime()
	})
	inst.procFaultSub = process.OnFault(func() {
		inst.reevaluateUptime()
	})
	return inst
}

// Process returns the owned Process.
func (inst *Instance) Process() *Process {
	return inst.process
}

// Role returns the current role.
func (inst *Instance) Role() Role {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.role
}

// SetRole changes the role and re-evaluates the uptime stopwatch and
// main_online/main_offline edges.
func (inst *Instance) SetRole(role Role) {
	inst.mu.Lock()
	changed := inst.role != role
	inst.role = role
	inst.mu.Unlock()

	if !changed {
		return
	}
	if role == RoleMain {
		inst.mainEmitter.Emit(struct{}{})
	} else {
		inst.standbyEmitter.Emit(struct{}{})
	}
	inst.reevaluateUptime()
}

// AddHandle registers a new Handle over this instance's process client and
// attaches a one-shot listener that removes it on close, firing `idle` on
// the 1->0 transition.
func (inst *Instance) AddHandle() *Handle {
	client := inst.process.Client()
	if client == nil {
		return nil
	}
	var h *Handle
	h = newHandle(client, func() {
		inst.mu.Lock()
		delete(inst.handles, h)
		remaining := len(inst.handles)
		inst.mu.Unlock()
		if remaining == 0 {
			inst.idleEmitter.Emit(struct{}{})
		}
	})
	inst.mu.Lock()
	inst.handles[h] = struct{}{}
	inst.mu.Unlock()
	return h
}

// HandleCount returns the number of currently open handles.
func (inst *Instance) HandleCount() int {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return len(inst.handles)
}

// CloseAllHandles force-closes every open handle (used when abandoning
// handles after a drain timeout).
func (inst *Instance) CloseAllHandles() {
	inst.mu.Lock()
	handles := make([]*Handle, 0, len(inst.handles))
	for h := range inst.handles {
		handles = append(handles, h)
	}
	inst.mu.Unlock()
	for _, h := range handles {
		h.Close()
	}
}

// MainUptime returns the accumulated running time of the uptime stopwatch.
func (inst *Instance) MainUptime() time.Duration {
	inst.uptimeMu.Lock()
	defer inst.uptimeMu.Unlock()
	if inst.uptimeRunning {
		return inst.uptimeAccum + time.Since(inst.uptimeStart)
	}
	return inst.uptimeAccum
}

// ResetUptime zeroes the accumulated uptime, used when a fresh instance
// takes over the Main role after a recycle or takeover.
func (inst *Instance) ResetUptime() {
	inst.uptimeMu.Lock()
	defer inst.uptimeMu.Unlock()
	inst.uptimeAccum = 0
	if inst.uptimeRunning {
		inst.uptimeStart = time.Now()
	}
}

// OnMainOnline / OnMainOffline subscribe to the edges fired when the
// stopwatch starts/stops because role and process status now jointly
// satisfy (or cease to satisfy) role=Main ∧ status=Running.
func (inst *Instance) OnMainOnline(fn func()) events.Subscription {
	return inst.mainOnlineEmitter.Subscribe(func(struct{}) { fn() })
}
func (inst *Instance) OnMainOffline(fn func()) events.Subscription {
	return inst.mainOfflineEmitter.Subscribe(func(struct{}) { fn() })
}

// UnsubscribeMainOnline detaches a listener previously registered via
// OnMainOnline.
func (inst *Instance) UnsubscribeMainOnline(sub events.Subscription) {
	inst.mainOnlineEmitter.Unsubscribe(sub)
}
func (inst *Instance) OnIdle(fn func()) events.Subscription {
	return inst.idleEmitter.Subscribe(func(struct{}) { fn() })
}

// UnsubscribeIdle detaches a listener previously registered via OnIdle.
func (inst *Instance) UnsubscribeIdle(sub events.Subscription) {
	inst.idleEmitter.Unsubscribe(sub)
}
func (inst *Instance) OnMain(fn func()) events.Subscription {
	return inst.mainEmitter.Subscribe(func(struct{}) { fn() })
}
func (inst *Instance) OnStandby(fn func()) events.Subscription {
	return inst.standbyEmitter.Subscribe(func(struct{}) { fn() })
}
func (inst *Instance) OnStart(fn func()) events.Subscription {
	return inst.startEmitter.Subscribe(func(struct{}) { fn() })
}
func (inst *Instance) OnStop(fn func()) events.Subscription {
	return inst.stopEmitter.Subscribe(func(struct{}) { fn() })
}

// reevaluateUptime implements: running iff role=Main ∧ status=Running;
// paused iff role=Standby ∧ status=Running; stopped otherwise. Firing the
// main_online/main_offline edges exactly on the running<->not transitions.
func (inst *Instance) reevaluateUptime() {
	inst.mu.Lock()
	role := inst.role
	inst.mu.Unlock()

	status := inst.process.Status()
	shouldRun := role == RoleMain && status == Running
	isPaused := role == RoleStandby && status == Running

	inst.uptimeMu.Lock()
	wasRunning := inst.uptimeRunning
	switch {
	case shouldRun && !wasRunning:
		inst.uptimeRunning = true
		inst.uptimeStart = time.Now()
	case !shouldRun && wasRunning:
		inst.uptimeAccum += time.Since(inst.uptimeStart)
		inst.uptimeRunning = false
	case !shouldRun && !isPaused && !wasRunning:
		// Fully stopped (not Main-running, not Standby-paused): the
		// accumulated uptime resets only via explicit ResetUptime, per
		// design — a process that stops and restarts as Main again
		// without an intervening recycle/takeover keeps accruing.
	}
	inst.uptimeMu.Unlock()

	if shouldRun && !wasRunning {
		inst.mainOnlineEmitter.Emit(struct{}{})
	} else if !shouldRun && wasRunning {
		inst.mainOfflineEmitter.Emit(struct{}{})
	}
}

// Detach removes this Instance's subscriptions from its Process, used when
// the owning Supervisor closes.
func (inst *Instance) Detach() {
	inst.process.startEmitter.Unsubscribe(inst.procStartSub)
	inst.process.stopEmitter.Unsubscribe(inst.procStopSub)
	inst.process.faultEmitter.Unsubscribe(inst.procFaultSub)
}
