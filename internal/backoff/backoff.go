// Package backoff provides pluggable "next-delay" strategies used by the
// browser process supervisor and the external provider's reconnect loop.
// Expressing backoff as an interface rather than concrete timers lets tests
// inject a flat zero-delay policy instead of waiting out real backoffs.
package backoff

import (
	"sort"
	"sync/atomic"

	"github.com/renderd/renderd/internal/rendererr"
)

// Policy is a retry-delay strategy. NextTry advances internal state (e.g. a
// try counter) and returns the delay, in milliseconds, the caller should
// wait before its next attempt. GetMillis returns the current delay without
// advancing state. Reset returns the policy to its initial state, typically
// called after a successful attempt.
type Policy interface {
	NextTry() int64
	GetMillis() int64
	Reset()
}

// Flat is a constant-delay policy.
type Flat struct {
	millis int64
}

// NewFlat returns a Policy that always waits the given number of
// milliseconds.
func NewFlat(millis int64) *Flat {
	return &Flat{millis: millis}
}

func (f *Flat) NextTry() int64   { return f.millis }
func (f *Flat) GetMillis() int64 { return f.millis }
func (f *Flat) Reset()           {}

// Tier is one entry of a Tiered policy: once the accumulated try count
// crosses TriesThreshold, the delay advances to Millis.
type Tier struct {
	TriesThreshold int64
	Millis         int64
}

// Tiered advances through a sorted sequence of (triesThreshold, millis)
// entries, using the highest-threshold entry whose threshold the
// accumulated try count has reached or passed. Tries before the first
// entry's threshold use the first entry's delay.
type Tiered struct {
	tiers []Tier
	tries atomic.Int64
}

// NewTiered builds a Tiered policy from an arbitrary-order set of tiers,
// sorting them by TriesThreshold ascending. An empty tier set is a
// programmer bug: it fails with a LogicError rather than silently behaving
// like a zero-delay policy.
func NewTiered(tiers []Tier) (*Tiered, error) {
	if len(tiers) == 0 {
		return nil, rendererr.NewLogicError("backoff.NewTiered", "tiers must not be empty")
	}
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TriesThreshold < sorted[j].TriesThreshold
	})
	return &Tiered{tiers: sorted}, nil
}

// NextTry increments the accumulated try count and returns the delay for
// the resulting tier.
func (t *Tiered) NextTry() int64 {
	tries := t.tries.Add(1)
	return t.millisForTries(tries)
}

// GetMillis returns the delay for the current try count without advancing.
func (t *Tiered) GetMillis() int64 {
	return t.millisForTries(t.tries.Load())
}

func (t *Tiered) Reset() {
	t.tries.Store(0)
}

func (t *Tiered) millisForTries(tries int64) int64 {
	delay := t.tiers[0].Millis
	for _, tier := range t.tiers {
		if tries >= tier.TriesThreshold {
			delay = tier.Millis
		} else {
			break
		}
	}
	return delay
}
