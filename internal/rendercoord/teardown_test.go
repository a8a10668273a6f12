package rendercoord

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestTeardownRunsInLIFOOrder(t *testing.T) {
	td := newTeardown(zerolog.Nop())
	var order []string
	td.add("first", func() error { order = append(order, "first"); return nil })
	td.add("second", func() error { order = append(order, "second"); return nil })
	td.add("third", func() error { order = append(order, "third"); return nil })

	td.run()

	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestTeardownContinuesPastFailure(t *testing.T) {
	td := newTeardown(zerolog.Nop())
	ran := false
	td.add("earlier", func() error { ran = true; return nil }) // runs last (LIFO)
	td.add("failing", func() error { return errors.New("boom") })

	td.run()

	if !ran {
		t.Fatal("expected the step scheduled before a later-run failing step to still execute")
	}
}
