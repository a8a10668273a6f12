package browserproc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/rs/zerolog"
)

// defaultFlags are the browser subprocess flags spelled out by the external
// interface contract, before any per-deployment overrides or extras.
// Grounded in shape on the teacher's createLauncher() in
// internal/browser/pool.go, but the actual flag set here is the one the
// render contract requires rather than the teacher's anti-detection set.
var defaultFlags = []string{
	"headless",
	"mute-audio",
	"disable-gpu",
	"hide-scrollbars",
	"no-default-browser-check",
	"no-first-run",
	"metrics-recording-only",
	"password-store=basic",
	"use-mock-keychain",
	"disable-features=Translate,OptimizationHints,MediaRouter,InterestFeedContentSuggestions",
	"disable-extensions",
	"disable-component-extensions-with-background-pages",
	"disable-background-networking",
	"disable-component-update",
	"disable-client-side-phishing-detection",
	"disable-sync",
	"disable-default-apps",
	"disable-domain-reliability",
	"disable-backgrounding-occluded-windows",
	"disable-renderer-backgrounding",
	"disable-background-timer-throttling",
	"disable-ipc-flooding-protection",
}

// LaunchOptions configures how a browser subprocess is built and started.
type LaunchOptions struct {
	// BinaryPath overrides browser binary discovery; empty uses launcher's
	// default resolution.
	BinaryPath string
	// DebugPort is the --remote-debugging-port value. Zero lets the
	// launcher pick an ephemeral port.
	DebugPort int
	// OverrideFlags, if non-empty, wholesale replaces defaultFlags.
	OverrideFlags []string
	// ExtraFlags append to whichever flag set (default or override) is in effect.
	ExtraFlags []string
}

// flagSet resolves the effective flag list per LaunchOptions: overrides
// replace defaultFlags wholesale; extras always append. The final
// "about:blank" argument is appended by the caller via the launcher
// itself, not here.
func (o LaunchOptions) flagSet() []string {
	base := defaultFlags
	if len(o.OverrideFlags) > 0 {
		base = o.OverrideFlags
	}
	out := make([]string, 0, len(base)+len(o.ExtraFlags))
	out = append(out, base...)
	out = append(out, o.ExtraFlags...)
	return out
}

// launchResult carries what was produced by launching the subprocess: its
// control websocket URL, its OS PID, and a snapshot of its reported version.
type launchResult struct {
	controlURL string
	pid        int
	userAgent  string
	version    string
}

// launchBrowser spawns the browser binary with the composed flag set and
// waits for its CDP endpoint to come up. The launcher performs its own
// internal readiness polling (the library-level equivalent of the HTTP
// Version-endpoint poll described in the design); once it returns, this
// function performs one further GET against that endpoint purely to
// capture the reported user agent and version string for BrowserInfo.
func launchBrowser(ctx context.Context, opts LaunchOptions) (*launchResult, error) {
	l := launcher.New()
	if opts.BinaryPath != "" {
		l = l.Bin(opts.BinaryPath)
	}
	if opts.DebugPort != 0 {
		l = l.Set("remote-debugging-port", strconv.Itoa(opts.DebugPort))
	}
	l = l.Set("about:blank")

	for _, flag := range opts.flagSet() {
		name, value, hasValue := strings.Cut(flag, "=")
		if hasValue {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	pid := l.PID()

	info, verr := fetchVersionInfo(ctx, controlURL)
	if verr != nil {
		// Non-fatal: the connection itself will be validated by the CDP
		// dial that follows; a failure here only loses the cached
		// user-agent/version strings.
		return &launchResult{controlURL: controlURL, pid: pid}, nil
	}

	return &launchResult{
		controlURL: controlURL,
		pid:        pid,
		userAgent:  info.UserAgent,
		version:    info.Browser,
	}, nil
}

type versionInfo struct {
	Browser              string `json:"Browser"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// fetchVersionInfo queries the browser's HTTP Version endpoint, derived
// from the websocket control URL returned by the launcher.
func fetchVersionInfo(ctx context.Context, controlURL string) (*versionInfo, error) {
	httpURL, err := versionEndpoint(controlURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var v versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func versionEndpoint(controlURL string) (string, error) {
	u, err := url.Parse(controlURL)
	if err != nil {
		return "", err
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/json/version", scheme, u.Host), nil
}

// isProcessAlive reports whether the OS process with the given PID is
// still alive. On Linux it inspects /proc/<pid>/stat and treats state Z
// (zombie) or X (dead) as not-alive; on every other platform it falls back
// to a zero-signal probe.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "linux" {
		data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
		if err != nil {
			return false
		}
		idx := strings.LastIndexByte(string(data), ')')
		if idx < 0 || idx+2 >= len(data) {
			return true
		}
		state := data[idx+2]
		return state != 'Z' && state != 'X'
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// killProcess implements the stop sequence of design §4.C step 5: send
// interrupt, wait up to 5s for exit, then send kill, then spin until the
// process is truly dead.
func killProcess(pid int, log zerolog.Logger) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}

	if err := proc.Signal(syscall.SIGINT); err != nil {
		log.Debug().Err(err).Int("pid", pid).Msg("interrupt signal failed")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !isProcessAlive(pid) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := proc.Kill(); err != nil {
		log.Debug().Err(err).Int("pid", pid).Msg("kill signal failed")
	}

	for isProcessAlive(pid) {
		time.Sleep(50 * time.Millisecond)
	}
}

// waitProcessExit polls isProcessAlive until the process has exited or ctx
// is done, then invokes onExit at most once.
func waitProcessExit(ctx context.Context, pid int, interval time.Duration, onExit func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !isProcessAlive(pid) {
				onExit()
				return
			}
		}
	}
}
