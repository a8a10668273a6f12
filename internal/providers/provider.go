// Package providers implements the two interchangeable Browser Provider
// Abstraction implementations of design §4.E/§4.F: the Supervisor Provider,
// which owns a warm-standby main/standby pair of browserproc.Instances with
// automatic takeover and periodic recycling, and the External Provider,
// which connects to a single remote debugging endpoint with auto-reconnect.
//
// Grounded on the teacher's internal/browser/pool.go at the level of
// "acquire/release over a managed set of browsers", generalized from a
// fixed-size pool into the spec's two-role design; parallel instance
// start/stop is grounded on the teacher's Pool.Close() errgroup.SetLimit
// pattern.
package providers

import (
	"context"

	"github.com/renderd/renderd/internal/browserproc"
)

// Provider is the common contract the Render Manager depends on: start,
// close, and acquire a Handle. Both Supervisor and External satisfy it.
type Provider interface {
	Start(ctx context.Context) error
	Close(ctx context.Context) error
	CreateHandle() *browserproc.Handle
}
