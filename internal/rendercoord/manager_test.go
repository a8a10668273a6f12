package rendercoord

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/renderd/renderd/internal/browserproc"
	"github.com/renderd/renderd/internal/rendererr"
	"github.com/renderd/renderd/internal/trigger"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

func TestMergeOptionsAppliesOverridesOnlyWhereSet(t *testing.T) {
	defaults := Options{
		URL:                 "https://default.example",
		Width:               800,
		Height:              600,
		AllowPartialLoad:    false,
		FreshBrowserContext: true,
		Trigger:             trigger.Spec{Kind: trigger.KindAlways},
	}

	merged := mergeOptions(defaults, Overrides{
		URL:    strPtr("https://override.example"),
		Width:  intPtr(1024),
		Debug:  boolPtr(true),
		Trigger: &TriggerOverride{Kind: string(trigger.KindRequests), WaitAfterLastRequestMillis: 750},
	})

	if merged.URL != "https://override.example" {
		t.Errorf("URL = %q, want override", merged.URL)
	}
	if merged.Width != 1024 {
		t.Errorf("Width = %d, want 1024", merged.Width)
	}
	if merged.Height != 600 {
		t.Errorf("Height = %d, want untouched default 600", merged.Height)
	}
	if !merged.FreshBrowserContext {
		t.Error("FreshBrowserContext should remain the default true, since no override was given")
	}
	if !merged.Debug {
		t.Error("Debug override was not applied")
	}
	if merged.Trigger.Kind != trigger.KindRequests {
		t.Errorf("Trigger.Kind = %q, want requests", merged.Trigger.Kind)
	}
	if merged.Trigger.WaitAfterLastRequestMillis != 750 {
		t.Errorf("Trigger.WaitAfterLastRequestMillis = %d, want 750", merged.Trigger.WaitAfterLastRequestMillis)
	}
}

func TestStatusExpected(t *testing.T) {
	if !statusExpected(200, []int64{200, 301}) {
		t.Error("expected 200 to be in the expected set")
	}
	if statusExpected(404, []int64{200, 301}) {
		t.Error("expected 404 to not be in the expected set")
	}
}

type fakeProvider struct {
	handle *browserproc.Handle
}

func (f *fakeProvider) Start(context.Context) error        { return nil }
func (f *fakeProvider) Close(context.Context) error        { return nil }
func (f *fakeProvider) CreateHandle() *browserproc.Handle  { return f.handle }

func TestManagerRenderWithoutHandleReturnsBrowserUnavailable(t *testing.T) {
	m := NewManager(func() (Provider, error) {
		return &fakeProvider{handle: nil}, nil
	}, Options{}, zerolog.Nop())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err := m.Render(context.Background(), Overrides{})
	var rerr *rendererr.RenderError
	if err == nil {
		t.Fatal("expected an error when no handle is available")
	}
	if !asRenderError(err, &rerr) || rerr.Kind != rendererr.KindBrowserUnavailable {
		t.Fatalf("expected KindBrowserUnavailable, got %v", err)
	}
}

func TestManagerRenderBeforeStartReturnsBrowserUnavailable(t *testing.T) {
	m := NewManager(func() (Provider, error) {
		return &fakeProvider{}, nil
	}, Options{}, zerolog.Nop())

	_, err := m.Render(context.Background(), Overrides{})
	var rerr *rendererr.RenderError
	if !asRenderError(err, &rerr) || rerr.Kind != rendererr.KindBrowserUnavailable {
		t.Fatalf("expected KindBrowserUnavailable before Start, got %v", err)
	}
}

func asRenderError(err error, target **rendererr.RenderError) bool {
	re, ok := err.(*rendererr.RenderError)
	if !ok {
		return false
	}
	*target = re
	return true
}
