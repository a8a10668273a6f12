package trigger

import "testing"

func TestNewEventAppliesDefaults(t *testing.T) {
	e := NewEvent("", "", nil)
	if e.target != DefaultEventTarget {
		t.Errorf("target = %q, want default %q", e.target, DefaultEventTarget)
	}
	if e.eventName != DefaultEventName {
		t.Errorf("eventName = %q, want default %q", e.eventName, DefaultEventName)
	}
}

func TestEventInitRejectsInvalidTargetExpr(t *testing.T) {
	e := &Event{target: "window; alert(1)", eventName: "done"}
	if err := e.Init(nil); err == nil {
		t.Fatal("expected Init to reject an invalid target expression before touching the page")
	}
}
