// Package cdpclient provides a thin lifecycle wrapper around a rod-managed
// CDP connection (component A of the render design): it dials a WebSocket
// debugger URL, exposes the underlying *rod.Browser for domain-qualified
// method calls and event subscriptions, and emits a close/disconnect signal
// exactly once regardless of how many callers ask for it or how the
// disconnect was triggered.
//
// rod's public Browser API does not expose a raw "socket dropped" event, so
// liveness is established the same way the teacher's pool does it
// (internal/browser/pool.go's isHealthy): periodically opening and
// navigating a throwaway page under a bounded context. The first failure is
// treated as a disconnect.
package cdpclient

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
)

// Client wraps a *rod.Browser connected to a single CDP endpoint. It is
// safe for concurrent use by many callers (one Client backs many Handles).
type Client struct {
	browser    *rod.Browser
	controlURL string

	healthInterval time.Duration

	teardownOnce   sync.Once
	closedCh       chan struct{}
	discOnce       sync.Once
	discCh         chan struct{}

	stopHealthOnce sync.Once
	stopHealth     chan struct{}
	healthDone     chan struct{}
}

// Dial connects to the given CDP WebSocket debugger URL and starts a
// background liveness probe. healthInterval controls how often the probe
// runs; a value of zero disables the probe (useful in tests).
func Dial(controlURL string, healthInterval time.Duration) (*Client, error) {
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, err
	}

	c := &Client{
		browser:        browser,
		controlURL:     controlURL,
		healthInterval: healthInterval,
		closedCh:       make(chan struct{}),
		discCh:         make(chan struct{}),
		stopHealth:     make(chan struct{}),
		healthDone:     make(chan struct{}),
	}

	if healthInterval > 0 {
		go c.healthLoop()
	} else {
		close(c.healthDone)
	}

	return c, nil
}

// Browser exposes the underlying rod.Browser for domain-qualified CDP
// calls (proto.*.Call(...)) and page/target creation.
func (c *Client) Browser() *rod.Browser {
	return c.browser
}

// NewPage opens a fresh tab with the stealth init script already installed
// as its scriptToEvaluateOnNewDocument base layer, so every tab the Tab
// Renderer drives carries the same anti-detection baseline regardless of
// which provider (Supervisor or External) produced this client. Grounded
// on the teacher's solver.go GET-request path (`stealth.Page(browserInstance)`).
func (c *Client) NewPage(ctx context.Context) (*rod.Page, error) {
	page, err := stealth.Page(c.browser.Context(ctx))
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Disconnected returns a channel that is closed exactly once, the moment an
// unexpected socket loss is detected (as opposed to a requested Close).
func (c *Client) Disconnected() <-chan struct{} {
	return c.discCh
}

// Closed returns a channel that is closed exactly once on Close, whether
// that close was requested directly or synthesized after a disconnect (so
// uniform consumers can select on Closed() alone).
func (c *Client) Closed() <-chan struct{} {
	return c.closedCh
}

// Close tears down the CDP connection. Idempotent: subsequent calls are a
// no-op and return nil. Safe to call from any goroutine except the health
// probe's own goroutine (see markDisconnected, which tears down directly
// instead of routing through here).
func (c *Client) Close() error {
	c.stopHealthOnce.Do(func() { close(c.stopHealth) })
	<-c.healthDone
	return c.teardown()
}

// teardown does the actual one-time work of closing the browser connection
// and signaling Closed(). It never waits on healthDone, so it is safe to
// call both from Close() (after healthLoop has already exited) and from
// markDisconnected (running on the healthLoop goroutine itself, just before
// healthLoop returns and closes healthDone).
func (c *Client) teardown() error {
	var err error
	c.teardownOnce.Do(func() {
		err = c.browser.Close()
		close(c.closedCh)
	})
	return err
}

func (c *Client) healthLoop() {
	defer close(c.healthDone)
	ticker := time.NewTicker(c.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopHealth:
			return
		case <-ticker.C:
			if !c.probe() {
				c.markDisconnected()
				return
			}
		}
	}
}

func (c *Client) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	page, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		log.Debug().Err(err).Str("control_url", c.controlURL).Msg("cdp client health probe failed: cannot create page")
		return false
	}
	defer page.Close()

	if err := page.Context(ctx).Navigate("about:blank"); err != nil {
		log.Debug().Err(err).Str("control_url", c.controlURL).Msg("cdp client health probe failed: cannot navigate")
		return false
	}
	return true
}

// markDisconnected fires the disconnect signal exactly once and then tears
// down directly (not via Close) so consumers watching only Closed() still
// observe it. Must not call Close itself: it runs on the healthLoop
// goroutine, and Close blocks until healthDone closes, which only happens
// once healthLoop returns — calling Close here would deadlock forever.
func (c *Client) markDisconnected() {
	c.discOnce.Do(func() {
		close(c.discCh)
	})
	_ = c.teardown()
}
