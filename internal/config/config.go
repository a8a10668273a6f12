// Package config loads and validates the render service's YAML
// configuration (spec §6): an `app` section (listener + logging), a
// `browser` section (viewport defaults, user agent, provider selection),
// and a `render` section (per-request defaults, the only section eligible
// for hot reload).
//
// Grounded on the teacher's internal/config/config.go Load()/Validate()
// clamping idiom (log a warning, correct to a sensible default, never
// fail startup over an out-of-range value), generalized from a flat set
// of environment variables to a nested YAML document via gopkg.in/yaml.v3,
// since the spec's configuration file is explicitly YAML with unknown
// keys rejected rather than an env-var surface.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Bounds enforced by Validate, mirroring the teacher's
// maxBrowserPoolSize/maxMaxMemoryMB-style constants.
const (
	minViewportDimension   = 160
	maxViewportDimension   = 7680 // 8K, a generous but finite upper bound
	maxPageLoadTimeout     = 10 * time.Minute
	defaultPageLoadTimeout = 30 * time.Second
	minPageLoadTimeout     = time.Second
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true,
	"error": true, "fatal": true, "silent": true,
}

var validTriggerTypes = map[string]bool{
	"requests": true, "event": true, "variable": true, "always": true, "never": true,
}

// ProviderType selects which Browser Provider backs the service.
type ProviderType string

const (
	ProviderInternal          ProviderType = "internal"
	ProviderExternalStaticURL ProviderType = "external_static_url"
	ProviderExternalHostPort  ProviderType = "external_host_port"
)

// ProviderConfig is the `browser.provider` section, tagged by Type.
type ProviderConfig struct {
	Type               ProviderType `yaml:"type"`
	StaticWebSocketURL string       `yaml:"staticWebSocketUrl,omitempty"`
	Host               string       `yaml:"host,omitempty"`
	Port               int          `yaml:"port,omitempty"`
	Secure             bool         `yaml:"secure,omitempty"`
}

// AppConfig is the `app` section: listener + logging. Fixed for the
// process lifetime — changing it requires a restart.
type AppConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	LogLevel string `yaml:"logLevel"`
}

// BrowserConfig is the `browser` section: viewport + provider selection.
// Fixed for the process lifetime, same reasoning as AppConfig.
type BrowserConfig struct {
	Width     int            `yaml:"width"`
	Height    int            `yaml:"height"`
	UserAgent string         `yaml:"userAgent,omitempty"`
	Provider  ProviderConfig `yaml:"provider"`
}

// CompletionTriggerConfig mirrors the completionTrigger discriminated
// union at the configuration layer, used as the service-wide default a
// per-request trigger spec overrides.
type CompletionTriggerConfig struct {
	Type                       string `yaml:"type"`
	WaitAfterLastRequestMillis int64  `yaml:"waitAfterLastRequestMillis,omitempty"`
	VariableName               string `yaml:"variableName,omitempty"`
	Target                     string `yaml:"target,omitempty"`
	EventName                  string `yaml:"eventName,omitempty"`
}

// RenderConfig is the `render` section: the only section eligible for
// fsnotify-driven hot reload, since a listening socket and a running
// browser process cannot be reconfigured without a restart but
// per-request defaults safely can.
type RenderConfig struct {
	PageLoadTimeoutMillis int64                   `yaml:"pageLoadTimeoutMillis"`
	AllowPartialLoad      bool                    `yaml:"allowPartialLoad"`
	FreshBrowserContext   bool                    `yaml:"freshBrowserContext"`
	ExpectedStatusCodes   []int64                 `yaml:"expectedStatusCodes,omitempty"`
	CompletionTrigger     CompletionTriggerConfig `yaml:"completionTrigger"`
}

// Clone returns a deep copy, used when handing a RenderConfig snapshot to
// a reload subscriber so it cannot mutate the live defaults.
func (r RenderConfig) Clone() RenderConfig {
	clone := r
	if r.ExpectedStatusCodes != nil {
		clone.ExpectedStatusCodes = append([]int64(nil), r.ExpectedStatusCodes...)
	}
	return clone
}

// Config is the top-level configuration document.
type Config struct {
	App     AppConfig     `yaml:"app"`
	Browser BrowserConfig `yaml:"browser"`
	Render  RenderConfig  `yaml:"render"`
}

// Defaults returns the built-in configuration used by `--no-config` and as
// the base a loaded file's fields overlay.
func Defaults() *Config {
	return &Config{
		App: AppConfig{
			Port:     8080,
			Host:     "127.0.0.1",
			LogLevel: "info",
		},
		Browser: BrowserConfig{
			Width:  1920,
			Height: 1080,
			Provider: ProviderConfig{
				Type: ProviderInternal,
			},
		},
		Render: RenderConfig{
			PageLoadTimeoutMillis: int64(defaultPageLoadTimeout / time.Millisecond),
			AllowPartialLoad:      false,
			FreshBrowserContext:   false,
			CompletionTrigger: CompletionTriggerConfig{
				Type:                       "requests",
				WaitAfterLastRequestMillis: 500,
			},
		},
	}
}

// Load reads and parses the YAML document at path, starting from Defaults
// so any section or field the file omits keeps its built-in value. Unknown
// keys are rejected, per spec §6.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg := Defaults()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// MaxPageLoadTimeout returns the upper bound Validate clamps
// render.pageLoadTimeoutMillis to, used by cmd/renderd to size the HTTP
// server's read/write timeouts generously enough for the slowest possible
// configured render.
func MaxPageLoadTimeout() time.Duration {
	return maxPageLoadTimeout
}

// HasExternalProvider reports whether the configured browser provider is
// one of the external kinds rather than the supervised internal one.
func (c *Config) HasExternalProvider() bool {
	return c.Browser.Provider.Type == ProviderExternalStaticURL || c.Browser.Provider.Type == ProviderExternalHostPort
}

// Validate clamps out-of-range values to sensible defaults, logging a
// warning for each correction, rather than failing startup. Mirrors the
// teacher's Validate() shape (warn + correct, never hard-fail).
func (c *Config) Validate(log zerolog.Logger) {
	if c.App.Port < 0 || c.App.Port > 65535 {
		log.Warn().Int("port", c.App.Port).Msg("invalid app.port, using default 8080")
		c.App.Port = 8080
	}
	if c.App.Host == "" {
		c.App.Host = "127.0.0.1"
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		log.Warn().Str("logLevel", c.App.LogLevel).Msg("invalid app.logLevel, using default info")
		c.App.LogLevel = "info"
	} else {
		c.App.LogLevel = strings.ToLower(c.App.LogLevel)
	}

	c.Browser.Width = clampDimension(log, "browser.width", c.Browser.Width, 1920)
	c.Browser.Height = clampDimension(log, "browser.height", c.Browser.Height, 1080)
	c.validateProvider(log)
	c.Render.validate(log)
}

func (c *Config) validateProvider(log zerolog.Logger) {
	switch c.Browser.Provider.Type {
	case ProviderInternal:
	case ProviderExternalStaticURL:
		if c.Browser.Provider.StaticWebSocketURL == "" {
			log.Error().Msg("browser.provider.type is external_static_url but staticWebSocketUrl is empty")
		}
	case ProviderExternalHostPort:
		if c.Browser.Provider.Host == "" {
			log.Error().Msg("browser.provider.type is external_host_port but host is empty")
		}
		if c.Browser.Provider.Port <= 0 || c.Browser.Provider.Port > 65535 {
			log.Warn().Int("port", c.Browser.Provider.Port).Msg("invalid browser.provider.port, using default 9222")
			c.Browser.Provider.Port = 9222
		}
	default:
		log.Warn().Str("type", string(c.Browser.Provider.Type)).Msg("invalid browser.provider.type, using internal")
		c.Browser.Provider.Type = ProviderInternal
	}
}

// validate clamps the render section. Split out so the fsnotify reload
// path (reload.go) can re-validate a freshly parsed RenderConfig on its
// own, without re-running the app/browser checks that never change after
// startup.
func (r *RenderConfig) validate(log zerolog.Logger) {
	if r.PageLoadTimeoutMillis <= 0 {
		log.Warn().Int64("pageLoadTimeoutMillis", r.PageLoadTimeoutMillis).
			Msg("invalid render.pageLoadTimeoutMillis, using default")
		r.PageLoadTimeoutMillis = int64(defaultPageLoadTimeout / time.Millisecond)
	} else if d := time.Duration(r.PageLoadTimeoutMillis) * time.Millisecond; d < minPageLoadTimeout {
		log.Warn().Int64("pageLoadTimeoutMillis", r.PageLoadTimeoutMillis).
			Msg("render.pageLoadTimeoutMillis too short, using minimum")
		r.PageLoadTimeoutMillis = int64(minPageLoadTimeout / time.Millisecond)
	} else if d > maxPageLoadTimeout {
		log.Warn().Int64("pageLoadTimeoutMillis", r.PageLoadTimeoutMillis).
			Msg("render.pageLoadTimeoutMillis too large, capping to maximum")
		r.PageLoadTimeoutMillis = int64(maxPageLoadTimeout / time.Millisecond)
	}

	t := strings.ToLower(r.CompletionTrigger.Type)
	switch {
	case t == "":
		r.CompletionTrigger.Type = "requests"
	case validTriggerTypes[t]:
		r.CompletionTrigger.Type = t
	default:
		log.Warn().Str("type", r.CompletionTrigger.Type).
			Msg("invalid render.completionTrigger.type, using requests")
		r.CompletionTrigger.Type = "requests"
	}
	if r.CompletionTrigger.Type == "requests" && r.CompletionTrigger.WaitAfterLastRequestMillis <= 0 {
		r.CompletionTrigger.WaitAfterLastRequestMillis = 500
	}
	if r.CompletionTrigger.Type == "event" {
		if r.CompletionTrigger.Target == "" {
			r.CompletionTrigger.Target = "window"
		}
		if r.CompletionTrigger.EventName == "" {
			r.CompletionTrigger.EventName = "prerender_done"
		}
	}
}

func clampDimension(log zerolog.Logger, field string, value, fallback int) int {
	if value < minViewportDimension {
		log.Warn().Str("field", field).Int("value", value).Int("min", minViewportDimension).
			Msg("dimension below minimum, using fallback")
		return fallback
	}
	if value > maxViewportDimension {
		log.Warn().Str("field", field).Int("value", value).Int("max", maxViewportDimension).
			Msg("dimension above maximum, capping")
		return maxViewportDimension
	}
	return value
}
