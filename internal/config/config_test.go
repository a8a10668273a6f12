package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.App.Port != 8080 {
		t.Errorf("App.Port = %d, want 8080", cfg.App.Port)
	}
	if cfg.App.Host != "127.0.0.1" {
		t.Errorf("App.Host = %q, want 127.0.0.1", cfg.App.Host)
	}
	if cfg.App.LogLevel != "info" {
		t.Errorf("App.LogLevel = %q, want info", cfg.App.LogLevel)
	}
	if cfg.Browser.Width != 1920 || cfg.Browser.Height != 1080 {
		t.Errorf("Browser viewport = %dx%d, want 1920x1080", cfg.Browser.Width, cfg.Browser.Height)
	}
	if cfg.Browser.Provider.Type != ProviderInternal {
		t.Errorf("Browser.Provider.Type = %q, want internal", cfg.Browser.Provider.Type)
	}
	if cfg.Render.PageLoadTimeoutMillis != int64(30*time.Second/time.Millisecond) {
		t.Errorf("Render.PageLoadTimeoutMillis = %d, want 30000", cfg.Render.PageLoadTimeoutMillis)
	}
	if cfg.Render.CompletionTrigger.Type != "requests" {
		t.Errorf("Render.CompletionTrigger.Type = %q, want requests", cfg.Render.CompletionTrigger.Type)
	}
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	path := writeTempConfig(t, `
app:
  port: 9090
  host: 0.0.0.0
browser:
  width: 1280
  height: 720
render:
  allowPartialLoad: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Port != 9090 {
		t.Errorf("App.Port = %d, want 9090", cfg.App.Port)
	}
	if cfg.App.Host != "0.0.0.0" {
		t.Errorf("App.Host = %q, want 0.0.0.0", cfg.App.Host)
	}
	if cfg.App.LogLevel != "info" {
		t.Errorf("App.LogLevel = %q, want untouched default info", cfg.App.LogLevel)
	}
	if cfg.Browser.Width != 1280 || cfg.Browser.Height != 720 {
		t.Errorf("Browser viewport = %dx%d, want 1280x720", cfg.Browser.Width, cfg.Browser.Height)
	}
	if !cfg.Render.AllowPartialLoad {
		t.Error("Render.AllowPartialLoad = false, want true")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTempConfig(t, `
app:
  port: 9090
  typo: true
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject an unknown key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestValidateClampsPort(t *testing.T) {
	cfg := Defaults()
	cfg.App.Port = 70000
	cfg.Validate(zerolog.Nop())
	if cfg.App.Port != 8080 {
		t.Errorf("App.Port = %d, want clamped to 8080", cfg.App.Port)
	}
}

func TestValidateClampsViewport(t *testing.T) {
	cfg := Defaults()
	cfg.Browser.Width = 10
	cfg.Browser.Height = 100000
	cfg.Validate(zerolog.Nop())
	if cfg.Browser.Width != 1920 {
		t.Errorf("Browser.Width = %d, want fallback 1920", cfg.Browser.Width)
	}
	if cfg.Browser.Height != maxViewportDimension {
		t.Errorf("Browser.Height = %d, want capped to %d", cfg.Browser.Height, maxViewportDimension)
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.App.LogLevel = "verbose"
	cfg.Validate(zerolog.Nop())
	if cfg.App.LogLevel != "info" {
		t.Errorf("App.LogLevel = %q, want fallback info", cfg.App.LogLevel)
	}
}

func TestValidateRejectsUnknownProviderType(t *testing.T) {
	cfg := Defaults()
	cfg.Browser.Provider.Type = ProviderType("bogus")
	cfg.Validate(zerolog.Nop())
	if cfg.Browser.Provider.Type != ProviderInternal {
		t.Errorf("Provider.Type = %q, want fallback internal", cfg.Browser.Provider.Type)
	}
}

func TestValidateAppliesEventTriggerDefaults(t *testing.T) {
	cfg := Defaults()
	cfg.Render.CompletionTrigger = CompletionTriggerConfig{Type: "event"}
	cfg.Validate(zerolog.Nop())
	if cfg.Render.CompletionTrigger.Target != "window" {
		t.Errorf("CompletionTrigger.Target = %q, want window", cfg.Render.CompletionTrigger.Target)
	}
	if cfg.Render.CompletionTrigger.EventName != "prerender_done" {
		t.Errorf("CompletionTrigger.EventName = %q, want prerender_done", cfg.Render.CompletionTrigger.EventName)
	}
}

func TestValidateCapsPageLoadTimeout(t *testing.T) {
	cfg := Defaults()
	cfg.Render.PageLoadTimeoutMillis = int64(time.Hour / time.Millisecond)
	cfg.Validate(zerolog.Nop())
	if cfg.Render.PageLoadTimeoutMillis != int64(maxPageLoadTimeout/time.Millisecond) {
		t.Errorf("PageLoadTimeoutMillis = %d, want capped to max", cfg.Render.PageLoadTimeoutMillis)
	}
}

func TestHasExternalProvider(t *testing.T) {
	cfg := Defaults()
	if cfg.HasExternalProvider() {
		t.Error("expected internal provider to not be external")
	}
	cfg.Browser.Provider.Type = ProviderExternalHostPort
	if !cfg.HasExternalProvider() {
		t.Error("expected external_host_port to be external")
	}
}

func TestWatchRenderReloadsOnWrite(t *testing.T) {
	path := writeTempConfig(t, `
render:
  allowPartialLoad: false
`)

	reloaded := make(chan RenderConfig, 1)
	w, err := WatchRender(path, zerolog.Nop(), func(r RenderConfig) {
		reloaded <- r
	})
	if err != nil {
		t.Fatalf("WatchRender: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("render:\n  allowPartialLoad: true\n"), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case r := <-reloaded:
		if !r.AllowPartialLoad {
			t.Error("expected reloaded config to have AllowPartialLoad = true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}
