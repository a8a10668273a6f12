package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renderd/renderd/internal/backoff"
	"github.com/renderd/renderd/internal/browserproc"
	"github.com/renderd/renderd/internal/cdpclient"
	"github.com/renderd/renderd/internal/once"
	"github.com/renderd/renderd/internal/rendererr"
)

type externalStatus int

const (
	externalInitial externalStatus = iota
	externalStarting
	externalRunning
	externalClosing
	externalClosed
)

// ExternalEndpoint resolves the remote debugging endpoint to connect to:
// either a static websocket URL, or a host/port/secure triple resolved via
// the browser's HTTP Version endpoint (mirroring how browserproc derives a
// control URL's /json/version during its own startup).
type ExternalEndpoint struct {
	StaticWebSocketURL string
	Host                string
	Port                int
	Secure              bool
}

func (e ExternalEndpoint) resolve(ctx context.Context) (string, error) {
	if e.StaticWebSocketURL != "" {
		return e.StaticWebSocketURL, nil
	}
	scheme := "http"
	if e.Secure {
		scheme = "https"
	}
	httpURL := fmt.Sprintf("%s://%s:%d/json/version", scheme, e.Host, e.Port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var v struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", err
	}
	if v.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("external provider: empty webSocketDebuggerUrl from %s", httpURL)
	}
	return v.WebSocketDebuggerURL, nil
}

// ExternalOptions configures an External Provider.
type ExternalOptions struct {
	Endpoint             ExternalEndpoint
	ReconnectBackoff     backoff.Policy
	HealthCheckInterval  time.Duration
	Logger               zerolog.Logger
}

// External is the External Provider of design §4.F: a single logical
// connection to a remote debugging endpoint with auto-reconnect and
// backoff. Grounded on the teacher's spawnBrowser()/isHealthy() connect
// shape (internal/browser/pool.go), adapted to connect to an externally
// managed browser rather than spawning one.
type External struct {
	opts ExternalOptions
	log  zerolog.Logger

	mu         sync.Mutex
	status     externalStatus
	client     *cdpclient.Client
	handles    map[*browserproc.Handle]struct{}

	closeFlight once.Flight[struct{}]
	stopWatch   context.CancelFunc
}

// NewExternal builds an External provider. ReconnectBackoff defaults to a
// flat 2s policy if nil.
func NewExternal(opts ExternalOptions) *External {
	if opts.ReconnectBackoff == nil {
		opts.ReconnectBackoff = backoff.NewFlat(2000)
	}
	return &External{opts: opts, log: opts.Logger, handles: make(map[*browserproc.Handle]struct{})}
}

// Start resolves the endpoint and connects. Failure here is returned to
// the caller; subsequent unexpected disconnects are handled internally by
// the reconnect loop rather than surfaced as Start errors.
func (e *External) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.status != externalInitial {
		e.mu.Unlock()
		return rendererr.NewLogicError("External.Start", "external provider already started")
	}
	e.status = externalStarting
	e.mu.Unlock()

	if err := e.connect(ctx); err != nil {
		e.mu.Lock()
		e.status = externalInitial
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	e.status = externalRunning
	e.mu.Unlock()
	return nil
}

func (e *External) connect(ctx context.Context) error {
	wsURL, err := e.opts.Endpoint.resolve(ctx)
	if err != nil {
		return err
	}
	client, err := cdpclient.Dial(wsURL, e.opts.HealthCheckInterval)
	if err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.client = client
	e.stopWatch = cancel
	e.mu.Unlock()

	go func() {
		select {
		case <-client.Disconnected():
			e.onDisconnect()
		case <-watchCtx.Done():
		}
	}()

	return nil
}

// onDisconnect closes the dead client's handles, clears state, and if
// still Running, schedules a reconnect with backoff (resetting the backoff
// on eventual success).
func (e *External) onDisconnect() {
	e.mu.Lock()
	if e.status != externalRunning {
		e.mu.Unlock()
		return
	}
	handles := make([]*browserproc.Handle, 0, len(e.handles))
	for h := range e.handles {
		handles = append(handles, h)
	}
	e.handles = make(map[*browserproc.Handle]struct{})
	e.client = nil
	e.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}

	e.scheduleReconnect()
}

func (e *External) scheduleReconnect() {
	delay := time.Duration(e.opts.ReconnectBackoff.NextTry()) * time.Millisecond
	go func() {
		time.Sleep(delay)
		e.mu.Lock()
		if e.status != externalRunning {
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		if err := e.connect(context.Background()); err != nil {
			e.log.Debug().Err(err).Msg("external provider reconnect failed")
			e.scheduleReconnect()
			return
		}
		e.opts.ReconnectBackoff.Reset()
	}()
}

// CreateHandle returns nil if not currently connected. Successful handles
// are auto-removed from the set on close; handles opened before a
// disconnect are auto-closed by the client's own disconnect propagation
// (see cdpclient.Client / browserproc.Handle).
func (e *External) CreateHandle() *browserproc.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != externalRunning || e.client == nil {
		return nil
	}
	var h *browserproc.Handle
	h = browserproc.NewHandle(e.client, func() {
		e.mu.Lock()
		delete(e.handles, h)
		e.mu.Unlock()
	})
	e.handles[h] = struct{}{}
	return h
}

// Close is reentrancy-guarded.
func (e *External) Close(ctx context.Context) error {
	_, err, _ := e.closeFlight.Do(func() (struct{}, error) {
		e.mu.Lock()
		e.status = externalClosing
		client := e.client
		cancel := e.stopWatch
		e.client = nil
		e.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		var closeErr error
		if client != nil {
			closeErr = client.Close()
		}

		e.mu.Lock()
		e.status = externalClosed
		e.mu.Unlock()
		return struct{}{}, closeErr
	})
	return err
}
