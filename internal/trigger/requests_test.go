package trigger

import (
	"context"
	"testing"
	"time"
)

func TestRequestsFiresAfterQuietPeriodAndDomLoaded(t *testing.T) {
	r := NewRequests(20 * time.Millisecond)
	r.onRequestStart()
	r.onDomContentLoaded()
	r.onRequestEnd()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestRequestsRestartsQuietTimerOnNewRequest(t *testing.T) {
	r := NewRequests(30 * time.Millisecond)
	r.onDomContentLoaded()
	r.onRequestStart()
	r.onRequestEnd() // arms 30ms timer

	time.Sleep(15 * time.Millisecond)
	r.onRequestStart() // cancels the timer before it fires
	r.onRequestEnd()    // re-arms a fresh 30ms timer

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); err == nil {
		t.Fatal("expected Wait to still be pending after restart, got nil error")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := r.Wait(ctx2); err != nil {
		t.Fatalf("Wait after quiet period: %v", err)
	}
}

func TestRequestsWithoutDomLoadedNeverFires(t *testing.T) {
	r := NewRequests(10 * time.Millisecond)
	r.onRequestStart()
	r.onRequestEnd()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); err == nil {
		t.Fatal("expected timeout, got nil error")
	}
}

func TestAlwaysFiresImmediately(t *testing.T) {
	a := NewAlways()
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if err := a.Wait(ctx); err != nil {
		t.Fatalf("Always.Wait: %v", err)
	}
}

func TestNeverOnlyResolvesOnContextDone(t *testing.T) {
	n := NewNever()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := n.Wait(ctx); err == nil {
		t.Fatal("expected context deadline error, got nil")
	}
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	if _, err := Build(Spec{Kind: "bogus"}, nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestBuildVariableRequiresDialogHandler(t *testing.T) {
	if _, err := Build(Spec{Kind: KindVariable, VariableName: "done"}, nil); err == nil {
		t.Fatal("expected error when dialog handler is nil")
	}
}

func TestBuildRequestsDefaultsWaitWhenZero(t *testing.T) {
	trig, err := Build(Spec{Kind: KindRequests}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rt, ok := trig.(*Requests)
	if !ok {
		t.Fatalf("expected *Requests, got %T", trig)
	}
	if rt.waitAfterLastRequest != 500*time.Millisecond {
		t.Fatalf("expected default 500ms, got %v", rt.waitAfterLastRequest)
	}
}
