package providers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/renderd/renderd/internal/browserproc"
	"github.com/renderd/renderd/internal/events"
	"github.com/renderd/renderd/internal/once"
	"github.com/renderd/renderd/internal/rendererr"
)

// RecycleResult is the outcome of a recycleMain call.
type RecycleResult int

const (
	RecycleResultRecycled RecycleResult = iota
	RecycleResultCanceled
	RecycleResultStandbyUnavailable
)

func (r RecycleResult) String() string {
	switch r {
	case RecycleResultRecycled:
		return "recycled"
	case RecycleResultCanceled:
		return "canceled"
	case RecycleResultStandbyUnavailable:
		return "standby_unavailable"
	default:
		return "unknown"
	}
}

// TakeoverReason distinguishes an orderly recycle-driven takeover from a
// reactive fault-driven one.
type TakeoverReason int

const (
	TakeoverReasonRecycle TakeoverReason = iota
	TakeoverReasonFault
)

func (r TakeoverReason) String() string {
	if r == TakeoverReasonFault {
		return "fault"
	}
	return "recycle"
}

type supervisorStatus int

const (
	supervisorInitial supervisorStatus = iota
	supervisorStarting
	supervisorRunning
	supervisorClosed
)

// SupervisorOptions configures a Supervisor Provider.
type SupervisorOptions struct {
	// AutoRecycle enables the periodic precautionary restart of Main.
	AutoRecycle bool
	// AutoRecycleAfterUptimeMillis is the Main uptime budget before a
	// recycle is triggered.
	AutoRecycleAfterUptimeMillis int64
	// AutoRecycleRetryAfterMillis is the delay before retrying an
	// auto-recycle that returned StandbyUnavailable. Deliberately distinct
	// from (and much smaller than) AutoRecycleAfterUptimeMillis — see
	// DESIGN.md's open-question decision on this default.
	AutoRecycleRetryAfterMillis int64
	// RecycleDrainMillis bounds how long recycleMain waits for the
	// demoted instance's open handles to close before abandoning them.
	RecycleDrainMillis int64

	Logger zerolog.Logger
}

// DefaultSupervisorOptions returns sane defaults: a two-hour uptime budget,
// a five-second standby-unavailable retry, and a ten-second drain.
func DefaultSupervisorOptions() SupervisorOptions {
	return SupervisorOptions{
		AutoRecycle:                  true,
		AutoRecycleAfterUptimeMillis: 2 * 60 * 60 * 1000,
		AutoRecycleRetryAfterMillis:  5_000,
		RecycleDrainMillis:           10_000,
	}
}

// Supervisor is the Supervisor Provider of design §4.E: two
// browserproc.Instances in main/standby roles, with fault-driven takeover
// and orderly recycling of Main.
type Supervisor struct {
	opts SupervisorOptions
	log  zerolog.Logger

	mu         sync.Mutex
	status     supervisorStatus
	instances  [2]*browserproc.Instance // 0 = main, 1 = standby

	everMainOnline atomic.Bool

	recycleFlight once.Flight[RecycleResult]
	closeFlight   once.Flight[struct{}]

	recycleTimerMu sync.Mutex
	recycleTimer   *time.Timer

	takeoverEmitter events.Emitter[TakeoverReason]
	recycleEmitter  events.Emitter[RecycleResult]

	detachFns []func()
}

// NewSupervisor builds a Supervisor over two freshly constructed Instances,
// the first marked Main and the second Standby, per design §4.E.
func NewSupervisor(main, standby *browserproc.Process, opts SupervisorOptions) *Supervisor {
	s := &Supervisor{opts: opts, log: opts.Logger}
	s.instances[0] = browserproc.NewInstance(main, browserproc.RoleMain)
	s.instances[1] = browserproc.NewInstance(standby, browserproc.RoleStandby)
	return s
}

// OnTakeover / OnRecycle subscribe to the supervisor-level events.
func (s *Supervisor) OnTakeover(fn func(TakeoverReason)) events.Subscription {
	return s.takeoverEmitter.Subscribe(fn)
}
func (s *Supervisor) OnRecycle(fn func(RecycleResult)) events.Subscription {
	return s.recycleEmitter.Subscribe(fn)
}

// Main returns the current Main instance. Standby returns the current
// Standby instance. Both are stable snapshots at time of call; a
// concurrent takeover may swap them immediately after.
func (s *Supervisor) Main() *browserproc.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instances[0]
}
func (s *Supervisor) Standby() *browserproc.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instances[1]
}

// Start transitions Initial -> Starting -> Running, starting both
// instances' processes in parallel, wiring the takeover and auto-recycle
// listeners, then scheduling the first recycle.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != supervisorInitial {
		s.mu.Unlock()
		return rendererr.NewLogicError("Supervisor.Start", "supervisor already started")
	}
	s.status = supervisorStarting
	main, standby := s.instances[0], s.instances[1]
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return main.Process().Start(gctx, browserproc.StartReasonRequested) })
	g.Go(func() error { return standby.Process().Start(gctx, browserproc.StartReasonRequested) })
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	s.status = supervisorRunning
	s.mu.Unlock()

	mainOnlineSub1 := main.OnMainOnline(s.scheduleRecycle)
	mainOnlineSub2 := standby.OnMainOnline(s.scheduleRecycle)
	startSub1 := main.Process().OnStart(s.considerStandbyPromotion)
	faultSub1 := main.Process().OnFault(s.considerStandbyPromotion)
	startSub2 := standby.Process().OnStart(s.considerStandbyPromotion)
	faultSub2 := standby.Process().OnFault(s.considerStandbyPromotion)

	s.detachFns = append(s.detachFns,
		func() { main.UnsubscribeMainOnline(mainOnlineSub1) },
		func() { standby.UnsubscribeMainOnline(mainOnlineSub2) },
		func() { main.Process().UnsubscribeStart(startSub1) },
		func() { main.Process().UnsubscribeFault(faultSub1) },
		func() { standby.Process().UnsubscribeStart(startSub2) },
		func() { standby.Process().UnsubscribeFault(faultSub2) },
	)

	s.scheduleRecycle()
	return nil
}

// CreateHandle requires Running and a Running Main process; otherwise
// returns nil.
func (s *Supervisor) CreateHandle() *browserproc.Handle {
	s.mu.Lock()
	running := s.status == supervisorRunning
	main := s.instances[0]
	s.mu.Unlock()

	if !running || main.Process().Status() != browserproc.Running {
		return nil
	}
	return main.AddHandle()
}

// Close is reentrancy-guarded: detaches all listeners, cancels any pending
// recycle timer, stops both instances in parallel, and transitions Closed.
// Concurrent callers share one outcome and observe the close exactly once.
func (s *Supervisor) Close(ctx context.Context) error {
	_, err, _ := s.closeFlight.Do(func() (struct{}, error) {
		s.cancelRecycleTimer()

		s.mu.Lock()
		detachFns := s.detachFns
		main, standby := s.instances[0], s.instances[1]
		s.detachFns = nil
		s.mu.Unlock()

		for _, fn := range detachFns {
			fn()
		}
		main.Detach()
		standby.Detach()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return main.Process().Stop(gctx) })
		g.Go(func() error { return standby.Process().Stop(gctx) })
		_ = g.Wait()

		s.mu.Lock()
		s.status = supervisorClosed
		s.mu.Unlock()
		return struct{}{}, nil
	})
	return err
}

// considerStandbyPromotion runs on every Main/Standby process start/fault
// edge and promotes Standby iff (Main is not Running) ∧ (Standby is
// Running) ∧ NOT(we are still within the initial-startup grace window and
// Main has only ever started once) — the exception gives the very first
// Main a chance to finish starting before a concurrently-starting Standby
// is mistaken for a fault-worthy takeover.
func (s *Supervisor) considerStandbyPromotion() {
	s.mu.Lock()
	if s.status != supervisorRunning {
		s.mu.Unlock()
		return
	}
	main, standby := s.instances[0], s.instances[1]
	s.mu.Unlock()

	mainRunning := main.Process().Status() == browserproc.Running
	standbyRunning := standby.Process().Status() == browserproc.Running

	if mainRunning || !standbyRunning {
		return
	}

	if !s.everMainOnline.Load() && main.Process().StartCount() <= 1 {
		return
	}

	s.takeover(TakeoverReasonFault)
}

// takeover swaps the main/standby slots, re-marks roles, and emits
// takeover{reason} together with the role events on the two instances
// (fired internally by Instance.SetRole).
func (s *Supervisor) takeover(reason TakeoverReason) {
	s.mu.Lock()
	oldMain, oldStandby := s.instances[0], s.instances[1]
	s.instances[0], s.instances[1] = oldStandby, oldMain
	s.mu.Unlock()

	oldStandby.SetRole(browserproc.RoleMain)
	oldMain.SetRole(browserproc.RoleStandby)
	oldStandby.ResetUptime()

	s.takeoverEmitter.Emit(reason)
}

// scheduleRecycle (re)arms the auto-recycle timer based on the current
// Main's accrued uptime, canceling any previously pending timer. A no-op
// when auto-recycle is disabled or the supervisor is not Running.
func (s *Supervisor) scheduleRecycle() {
	if !s.everMainOnline.Load() {
		s.everMainOnline.Store(true)
	}
	if !s.opts.AutoRecycle {
		return
	}
	s.mu.Lock()
	running := s.status == supervisorRunning
	main := s.instances[0]
	s.mu.Unlock()
	if !running {
		return
	}

	delay := time.Duration(s.opts.AutoRecycleAfterUptimeMillis)*time.Millisecond - main.MainUptime()
	if delay < 0 {
		delay = 0
	}

	s.armRecycleTimer(delay, func() {
		result, err := s.RecycleMain(context.Background())
		if err != nil {
			return
		}
		if result == RecycleResultStandbyUnavailable {
			s.armRecycleTimer(time.Duration(s.opts.AutoRecycleRetryAfterMillis)*time.Millisecond, func() {
				s.scheduleRecycle()
			})
			return
		}
		s.scheduleRecycle()
	})
}

func (s *Supervisor) armRecycleTimer(delay time.Duration, fn func()) {
	s.cancelRecycleTimer()
	s.recycleTimerMu.Lock()
	s.recycleTimer = time.AfterFunc(delay, fn)
	s.recycleTimerMu.Unlock()
}

func (s *Supervisor) cancelRecycleTimer() {
	s.recycleTimerMu.Lock()
	if s.recycleTimer != nil {
		s.recycleTimer.Stop()
		s.recycleTimer = nil
	}
	s.recycleTimerMu.Unlock()
}

// RecycleMain is the orderly takeover path of design §4.E, single-flight
// via a once.Flight so two concurrent invocations resolve to the same
// result and emit exactly one recycle event.
func (s *Supervisor) RecycleMain(ctx context.Context) (RecycleResult, error) {
	result, err, first := s.recycleFlight.Do(func() (RecycleResult, error) {
		return s.doRecycle(ctx)
	})
	if first && err == nil {
		s.recycleEmitter.Emit(result)
	}
	return result, err
}

func (s *Supervisor) doRecycle(ctx context.Context) (RecycleResult, error) {
	s.mu.Lock()
	if s.status != supervisorRunning {
		s.mu.Unlock()
		return 0, rendererr.NewLogicError("Supervisor.RecycleMain", "supervisor is not running")
	}
	main, standby := s.instances[0], s.instances[1]
	s.mu.Unlock()

	if standby.Process().Status() != browserproc.Running {
		return RecycleResultStandbyUnavailable, nil
	}

	// Promote standby to main; the previous main is now demoted.
	s.takeover(TakeoverReasonRecycle)
	demoted := main // the instance that was main before this call

	// Drain: wait for the demoted instance's handles to close, or the
	// drain timer, whichever comes first.
	if demoted.HandleCount() > 0 {
		idleCh := make(chan struct{})
		var closeIdleOnce sync.Once
		sub := demoted.OnIdle(func() { closeIdleOnce.Do(func() { close(idleCh) }) })
		timer := time.NewTimer(time.Duration(s.opts.RecycleDrainMillis) * time.Millisecond)
		select {
		case <-idleCh:
		case <-timer.C:
		}
		timer.Stop()
		demoted.UnsubscribeIdle(sub)
		demoted.CloseAllHandles()
	}

	// Checkpoints after the drain boundary.
	s.mu.Lock()
	closed := s.status == supervisorClosed
	currentStandby := s.instances[1]
	s.mu.Unlock()

	if closed {
		return RecycleResultCanceled, nil
	}
	if currentStandby != demoted {
		// The demoted instance was re-promoted back to Main by a
		// concurrent fault takeover.
		return RecycleResultStandbyUnavailable, nil
	}
	if demoted.Process().Status() != browserproc.Running {
		return RecycleResultCanceled, nil
	}

	if err := demoted.Process().Stop(ctx); err != nil {
		return RecycleResultCanceled, nil
	}

	s.mu.Lock()
	closed = s.status == supervisorClosed
	s.mu.Unlock()
	if closed {
		return RecycleResultCanceled, nil
	}

	if err := demoted.Process().Start(ctx, browserproc.StartReasonRequested); err != nil {
		return RecycleResultCanceled, nil
	}

	return RecycleResultRecycled, nil
}
