// Package main provides the renderd service entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/renderd/renderd/internal/browserproc"
	"github.com/renderd/renderd/internal/config"
	"github.com/renderd/renderd/internal/httpapi"
	"github.com/renderd/renderd/internal/httpapi/middleware"
	"github.com/renderd/renderd/internal/metrics"
	"github.com/renderd/renderd/internal/providers"
	"github.com/renderd/renderd/internal/rendercoord"
	"github.com/renderd/renderd/internal/trigger"
	"github.com/renderd/renderd/pkg/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	noConfig := flag.Bool("no-config", false, "Run with built-in defaults, ignoring -config")
	flag.Parse()

	if *showVersion {
		fmt.Printf("renderd %s\n", version.Full())
		return
	}

	cfg, err := loadConfig(*configPath, *noConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "renderd: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.App.LogLevel)
	cfg.Validate(log.Logger)
	printBanner()

	metrics.SetBuildInfo(version.Full(), version.GoVersion())
	memStopCh := make(chan struct{})
	go metrics.StartMemoryCollector(15*time.Second, memStopCh)
	defer close(memStopCh)

	manager := rendercoord.NewManager(providerFactory(cfg, log.Logger), serviceDefaults(cfg), log.Logger)

	ctx, cancelStart := context.WithTimeout(context.Background(), 60*time.Second)
	if err := manager.Start(ctx); err != nil {
		cancelStart()
		log.Fatal().Err(err).Msg("failed to start render provider")
	}
	cancelStart()

	debugHub := httpapi.NewDebugHub(log.Logger)

	var watcher *config.Watcher
	if !*noConfig {
		watcher, err = config.WatchRender(*configPath, log.Logger, func(render config.RenderConfig) {
			manager.UpdateRenderDefaults(renderDefaults(render))
			debugHub.Publish("config_reloaded", nil)
		})
		if err != nil {
			log.Warn().Err(err).Msg("config hot-reload disabled")
		}
	}

	handler := httpapi.NewHandler(manager, log.Logger, healthFn(cfg, manager), debugHub)

	chain := middleware.Chain(
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: nil}, log.Logger),
		middleware.SecurityHeaders,
		apiKeyMiddleware(cfg, log.Logger),
		middleware.Logging(log.Logger),
		middleware.Recovery(log.Logger),
	)

	router := httpapi.NewRouter(handler, chain)

	addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       config.MaxPageLoadTimeout() + 10*time.Second,
		WriteTimeout:      config.MaxPageLoadTimeout() + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("address", addr).Msg("renderd is ready to accept requests")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	signal.Stop(quit)

	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			log.Error().Err(err).Msg("config watcher close error")
		}
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("provider close error")
	}

	log.Info().Msg("shutdown complete")
}

func loadConfig(path string, noConfig bool) (*config.Config, error) {
	if noConfig {
		return config.Defaults(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func apiKeyMiddleware(cfg *config.Config, logger zerolog.Logger) func(http.Handler) http.Handler {
	apiKey := os.Getenv("RENDERD_API_KEY")
	return middleware.APIKey(middleware.APIKeyConfig{
		Enabled: apiKey != "",
		Key:     apiKey,
	}, logger)
}

// serviceDefaults builds the Render Manager's baseline Options from the
// full configuration: browser.width/height/userAgent are process-lifetime
// fixed, while the render.* fields are the initial value of the subset
// UpdateRenderDefaults later replaces on every hot reload.
func serviceDefaults(cfg *config.Config) rendercoord.Options {
	return rendercoord.Options{
		Width:     cfg.Browser.Width,
		Height:    cfg.Browser.Height,
		UserAgent: cfg.Browser.UserAgent,

		PageLoadTimeout:     time.Duration(cfg.Render.PageLoadTimeoutMillis) * time.Millisecond,
		AllowPartialLoad:    cfg.Render.AllowPartialLoad,
		FreshBrowserContext: cfg.Render.FreshBrowserContext,
		ExpectedStatusCodes: cfg.Render.ExpectedStatusCodes,
		Trigger:             triggerSpec(cfg.Render.CompletionTrigger),
	}
}

func renderDefaults(r config.RenderConfig) rendercoord.RenderDefaults {
	return rendercoord.RenderDefaults{
		PageLoadTimeout:     time.Duration(r.PageLoadTimeoutMillis) * time.Millisecond,
		AllowPartialLoad:    r.AllowPartialLoad,
		FreshBrowserContext: r.FreshBrowserContext,
		ExpectedStatusCodes: r.ExpectedStatusCodes,
		Trigger:             triggerSpec(r.CompletionTrigger),
	}
}

func triggerSpec(t config.CompletionTriggerConfig) trigger.Spec {
	return trigger.Spec{
		Kind:                       trigger.Kind(t.Type),
		WaitAfterLastRequestMillis: t.WaitAfterLastRequestMillis,
		VariableName:               t.VariableName,
		EventTarget:                t.Target,
		EventName:                  t.EventName,
	}
}

// providerFactory builds the injected rendercoord.ProviderFactory per the
// configured provider type: a Supervisor pair of browserproc.Process
// instances for the internal provider, or a single External connection for
// an externally managed browser.
func providerFactory(cfg *config.Config, logger zerolog.Logger) rendercoord.ProviderFactory {
	return func() (rendercoord.Provider, error) {
		switch cfg.Browser.Provider.Type {
		case config.ProviderExternalStaticURL:
			return providers.NewExternal(providers.ExternalOptions{
				Endpoint: providers.ExternalEndpoint{
					StaticWebSocketURL: cfg.Browser.Provider.StaticWebSocketURL,
				},
				Logger: logger,
			}), nil
		case config.ProviderExternalHostPort:
			return providers.NewExternal(providers.ExternalOptions{
				Endpoint: providers.ExternalEndpoint{
					Host:   cfg.Browser.Provider.Host,
					Port:   cfg.Browser.Provider.Port,
					Secure: cfg.Browser.Provider.Secure,
				},
				Logger: logger,
			}), nil
		default:
			launch := browserproc.LaunchOptions{
				ExtraFlags: []string{
					fmt.Sprintf("window-size=%d,%d", cfg.Browser.Width, cfg.Browser.Height),
				},
			}
			main := browserproc.New(browserproc.Options{Launch: launch, Logger: logger})
			standby := browserproc.New(browserproc.Options{Launch: launch, Logger: logger})
			supOpts := providers.DefaultSupervisorOptions()
			supOpts.Logger = logger
			sup := providers.NewSupervisor(main, standby, supOpts)
			wireSupervisorMetrics(sup)
			return sup, nil
		}
	}
}

// wireSupervisorMetrics subscribes the Prometheus gauges/counters to the
// Supervisor's recycle and process start/fault events, so renderd_browser
// _instance_up and renderd_supervisor_recycles_total stay current without
// the Supervisor itself needing to know about metrics.
func wireSupervisorMetrics(sup *providers.Supervisor) {
	sup.OnTakeover(func(reason providers.TakeoverReason) {
		metrics.RecordRecycle(reason.String())
	})

	updateInstance := func(inst *browserproc.Instance) func() {
		return func() {
			metrics.UpdateInstanceUp(inst.Role().String(), inst.Process().Status() == browserproc.Running)
		}
	}
	main, standby := sup.Main(), sup.Standby()
	main.Process().OnStart(updateInstance(main))
	main.Process().OnFault(updateInstance(main))
	standby.Process().OnStart(updateInstance(standby))
	standby.Process().OnFault(updateInstance(standby))
}

func healthFn(cfg *config.Config, manager *rendercoord.Manager) func() httpapi.HealthReport {
	startedAt := time.Now()
	return func() httpapi.HealthReport {
		provider := manager.Provider()
		report := httpapi.HealthReport{
			Status:         "ok",
			StartTimestamp: startedAt.Unix(),
			Provider: httpapi.ProviderHealth{
				Kind:    string(cfg.Browser.Provider.Type),
				Running: provider != nil,
			},
		}

		if sup, ok := provider.(*providers.Supervisor); ok {
			report.Supervisor = &httpapi.SupervisorHealth{
				Main:    httpapi.InstanceHealth{Role: sup.Main().Role().String(), Status: sup.Main().Process().Status().String()},
				Standby: httpapi.InstanceHealth{Role: sup.Standby().Role().String(), Status: sup.Standby().Process().Status().String()},
			}
		}

		return report
	}
}

// setupLogging configures zerolog based on the configured log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "silent":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
                       _              _
 _ __ ___ _ __   __| | ___ _ __ __| |
| '__/ _ \ '_ \ / _' |/ _ \ '__/ _' |
| | |  __/ | | | (_| |  __/ | | (_| |
|_|  \___|_| |_|\__,_|\___|_|  \__,_|
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("starting renderd")
}
