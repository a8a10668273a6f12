package rendercoord

import "github.com/rs/zerolog"

// teardown runs a list of named steps in LIFO order, logging and
// continuing past any individual failure. Grounded on design §4.J step 5
// ("each step is individually fault-tolerant: log and continue").
type teardown struct {
	log   zerolog.Logger
	steps []teardownStep
}

type teardownStep struct {
	name string
	fn   func() error
}

func newTeardown(log zerolog.Logger) *teardown {
	return &teardown{log: log}
}

func (t *teardown) add(name string, fn func() error) {
	t.steps = append(t.steps, teardownStep{name: name, fn: fn})
}

func (t *teardown) run() {
	for i := len(t.steps) - 1; i >= 0; i-- {
		step := t.steps[i]
		if err := step.fn(); err != nil {
			t.log.Debug().Err(err).Str("step", step.name).Msg("tab renderer teardown step failed, continuing")
		}
	}
}
