package backoff

import "testing"

func TestFlat(t *testing.T) {
	f := NewFlat(250)
	for i := 0; i < 3; i++ {
		if got := f.NextTry(); got != 250 {
			t.Fatalf("NextTry() = %d, want 250", got)
		}
	}
	f.Reset()
	if got := f.GetMillis(); got != 250 {
		t.Fatalf("GetMillis() after reset = %d, want 250", got)
	}
}

func TestTieredEmptyFails(t *testing.T) {
	if _, err := NewTiered(nil); err == nil {
		t.Fatal("expected LogicError for empty tiers")
	}
}

func TestTieredAdvancesByThreshold(t *testing.T) {
	tr, err := NewTiered([]Tier{
		{TriesThreshold: 0, Millis: 100},
		{TriesThreshold: 3, Millis: 500},
		{TriesThreshold: 5, Millis: 2000},
	})
	if err != nil {
		t.Fatalf("NewTiered: %v", err)
	}
	got := []int64{}
	for i := 0; i < 6; i++ {
		got = append(got, tr.NextTry())
	}
	want := []int64{100, 100, 500, 500, 2000, 2000}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("try %d: got %d, want %d (full=%v)", i+1, got[i], want[i], got)
		}
	}
	tr.Reset()
	if got := tr.GetMillis(); got != 100 {
		t.Fatalf("GetMillis() after reset = %d, want 100", got)
	}
}

func TestTieredOutOfOrderInput(t *testing.T) {
	tr, err := NewTiered([]Tier{
		{TriesThreshold: 5, Millis: 2000},
		{TriesThreshold: 0, Millis: 100},
	})
	if err != nil {
		t.Fatalf("NewTiered: %v", err)
	}
	if got := tr.GetMillis(); got != 100 {
		t.Fatalf("GetMillis() = %d, want 100 (sorted input)", got)
	}
}
