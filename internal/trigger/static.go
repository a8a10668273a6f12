package trigger

import (
	"context"

	"github.com/go-rod/rod"
)

// Always fires the instant Wait is called, used for requests that want
// no completion gating beyond the initial navigation itself.
type Always struct{}

func NewAlways() *Always { return &Always{} }

func (Always) Kind() Kind                   { return KindAlways }
func (Always) Init(*rod.Page) error         { return nil }
func (Always) Wait(context.Context) error   { return nil }
func (Always) CapturedHTML() (string, bool) { return "", false }
func (Always) Close()                       {}

// Never never fires on its own; Wait only ever returns via ctx
// cancellation. It exists to exercise the render timeout / pageLoadTimeout
// path deliberately, per design's test-only trigger kind.
type Never struct{}

func NewNever() *Never { return &Never{} }

func (Never) Kind() Kind                   { return KindNever }
func (Never) Init(*rod.Page) error         { return nil }
func (Never) CapturedHTML() (string, bool) { return "", false }
func (Never) Close()                       {}

func (Never) Wait(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
