// Package stats tracks per-domain render outcomes — request volume, error
// rate, rate-limit hits — and turns that history into a suggested delay
// between requests to the same domain, the same throttle-from-feedback
// idea as AutoThrottle: domains that respond slowly or reject requests get
// backed off automatically, instead of every domain sharing one static
// delay.
package stats

import (
	"math"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/renderd/renderd/internal/ratelimit"
)

// maxDomains bounds memory: once the tracked domain count hits this, the
// least-recently-seen domains are evicted in a batch.
const maxDomains = 10000

// evictionBatch is how many domains are dropped per eviction pass, so a
// burst of new domains doesn't pay the eviction cost one domain at a time.
const evictionBatch = 100

// maxCounter caps the request/error/rate-limit counters well below
// int64's range; RecordRequest resets a domain's counters before any of
// them could actually overflow.
const maxCounter int64 = 1 << 62

// DomainStats tracks render outcomes for a single domain.
type DomainStats struct {
	mu sync.RWMutex

	RequestCount   int64
	SuccessCount   int64
	ErrorCount     int64
	RateLimitCount int64

	totalLatencyMs int64

	LastRequestTime time.Time
	LastSuccessTime time.Time
	LastRateLimited time.Time
	LastAccess      time.Time

	CrawlDelay    *int
	ManualDelayMs *int

	cachedDelay     int // -1 means no cached value
	lastCalculation time.Time
}

// DomainStatsJSON is the wire representation returned by Manager.AllStats
// and the stats inspection endpoint.
type DomainStatsJSON struct {
	RequestCount     int64     `json:"requestCount"`
	SuccessCount     int64     `json:"successCount"`
	ErrorCount       int64     `json:"errorCount"`
	RateLimitCount   int64     `json:"rateLimitCount"`
	AvgLatencyMs     int64     `json:"avgLatencyMs"`
	LastRequestTime  time.Time `json:"lastRequestTime,omitempty"`
	LastSuccessTime  time.Time `json:"lastSuccessTime,omitempty"`
	LastRateLimited  time.Time `json:"lastRateLimited,omitempty"`
	SuggestedDelayMs int       `json:"suggestedDelayMs"`
	CrawlDelay       *int      `json:"crawlDelay,omitempty"`
}

// ToJSON converts s to its wire form, clamping the suggested delay to
// [minDelay, maxDelay].
func (s *DomainStats) ToJSON(minDelay, maxDelay int) DomainStatsJSON {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var avgLatency int64
	if s.RequestCount > 0 {
		avgLatency = s.totalLatencyMs / s.RequestCount
	}

	return DomainStatsJSON{
		RequestCount:     s.RequestCount,
		SuccessCount:     s.SuccessCount,
		ErrorCount:       s.ErrorCount,
		RateLimitCount:   s.RateLimitCount,
		AvgLatencyMs:     avgLatency,
		LastRequestTime:  s.LastRequestTime,
		LastSuccessTime:  s.LastSuccessTime,
		LastRateLimited:  s.LastRateLimited,
		SuggestedDelayMs: s.suggestedDelayMs(minDelay, maxDelay),
		CrawlDelay:       s.CrawlDelay,
	}
}

// suggestedDelayMs computes the recommended inter-request delay for this
// domain. Caller must hold s.mu (read or write).
func (s *DomainStats) suggestedDelayMs(minDelay, maxDelay int) int {
	if s.RequestCount <= 0 {
		return minDelay
	}

	avgLatencyMs := safeRatio(float64(s.totalLatencyMs), float64(s.RequestCount))
	errorRate := safeRatio(float64(s.ErrorCount), float64(s.RequestCount))
	rateLimitRate := safeRatio(float64(s.RateLimitCount), float64(s.RequestCount))

	// Latency-based baseline targets roughly two requests in flight at
	// once, then the error/rate-limit history scales it up.
	const targetConcurrency = 2.0
	delay := avgLatencyMs / targetConcurrency
	delay *= 1.0 + errorRate*5.0
	if rateLimitRate > 0.05 {
		delay *= 2.0
	}

	if !s.LastRateLimited.IsZero() {
		if age := time.Since(s.LastRateLimited); age < 5*time.Minute {
			// Decays from a full 10s penalty at the moment of the hit to a
			// quarter of that by the 5-minute mark.
			penalty := 10000.0 * math.Pow(0.5, age.Minutes()/2.5)
			delay = math.Max(delay, penalty)
		}
	}

	if s.CrawlDelay != nil {
		delay = math.Max(delay, float64(*s.CrawlDelay*1000))
	}
	if s.ManualDelayMs != nil {
		delay = math.Max(delay, float64(*s.ManualDelayMs))
	}

	return ratelimit.AdjustDelay(int(delay), minDelay, maxDelay)
}

// safeRatio returns num/den, or 0 if den is zero or the result isn't finite.
func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	r := num / den
	if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
		return 0
	}
	return r
}

// SuggestedDelayMs returns the recommended delay for this domain, caching
// the result for 5 seconds so a burst of concurrent renders to the same
// domain doesn't recompute it on every call.
func (s *DomainStats) SuggestedDelayMs(minDelay, maxDelay int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachedDelay >= 0 && time.Since(s.lastCalculation) < 5*time.Second {
		return s.cachedDelay
	}

	delay := s.suggestedDelayMs(minDelay, maxDelay)
	s.cachedDelay = delay
	s.lastCalculation = time.Now()
	return delay
}

// ErrorRate returns the fraction of requests (0.0-1.0) that failed.
func (s *DomainStats) ErrorRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return safeRatio(float64(s.ErrorCount), float64(s.RequestCount))
}

// Manager owns per-domain stats for the whole service and runs a
// background sweep that evicts domains nothing has rendered recently.
type Manager struct {
	mu      sync.RWMutex
	domains map[string]*DomainStats

	DefaultMinDelayMs int
	DefaultMaxDelayMs int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a Manager with a 1s/30s default delay range and
// starts its background cleanup sweep. Call Close when done.
func NewManager() *Manager {
	m := &Manager{
		domains:           make(map[string]*DomainStats),
		DefaultMinDelayMs: 1000,
		DefaultMaxDelayMs: 30000,
		stopCh:            make(chan struct{}),
	}

	m.wg.Add(1)
	go m.cleanupLoop()

	return m
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictStale(30 * time.Minute)
		case <-m.stopCh:
			return
		}
	}
}

// evictStale drops every domain not accessed within maxAge.
func (m *Manager) evictStale(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for domain, ds := range m.domains {
		ds.mu.RLock()
		last := ds.LastAccess
		ds.mu.RUnlock()

		if now.Sub(last) > maxAge {
			delete(m.domains, domain)
			removed++
		}
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Int("remaining", len(m.domains)).Msg("evicted stale domain stats")
	}
}

// Close stops the background cleanup sweep.
func (m *Manager) Close() {
	close(m.stopCh)
	m.wg.Wait()
}

// ExtractDomain returns rawURL's hostname, or "" if rawURL doesn't parse.
func ExtractDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// getOrCreate returns domain's stats, creating them (and evicting a batch
// of the oldest domains first, if at capacity) if this is the first time
// domain has been seen.
func (m *Manager) getOrCreate(domain string) *DomainStats {
	m.mu.Lock()

	ds, exists := m.domains[domain]
	if exists {
		m.mu.Unlock()
		ds.mu.Lock()
		ds.LastAccess = time.Now()
		ds.mu.Unlock()
		return ds
	}

	if len(m.domains) >= maxDomains {
		m.evictOldestLocked(evictionBatch)
	}
	ds = &DomainStats{cachedDelay: -1, LastAccess: time.Now()}
	m.domains[domain] = ds
	m.mu.Unlock()
	return ds
}

// evictOldestLocked removes the count least-recently-accessed domains.
// m.mu must be held.
func (m *Manager) evictOldestLocked(count int) {
	if count <= 0 || len(m.domains) == 0 {
		return
	}
	if len(m.domains) <= count {
		m.domains = make(map[string]*DomainStats)
		return
	}

	type entry struct {
		domain string
		access time.Time
	}
	candidates := make([]entry, 0, len(m.domains))
	for domain, ds := range m.domains {
		ds.mu.RLock()
		access := ds.LastAccess
		ds.mu.RUnlock()
		candidates = append(candidates, entry{domain, access})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].access.Before(candidates[j].access)
	})
	for _, c := range candidates[:count] {
		delete(m.domains, c.domain)
	}
}

// Get returns domain's stats, or nil if domain hasn't been recorded.
func (m *Manager) Get(domain string) *DomainStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.domains[domain]
}

// RecordRequest folds one completed render's outcome into domain's
// running stats.
func (m *Manager) RecordRequest(domain string, latencyMs int64, success, rateLimited bool) {
	if domain == "" {
		return
	}

	ds := m.getOrCreate(domain)

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.RequestCount >= maxCounter {
		log.Warn().Str("domain", domain).Int64("request_count", ds.RequestCount).Msg("domain stats counter overflow guard triggered, resetting")
		ds.RequestCount, ds.SuccessCount, ds.ErrorCount, ds.RateLimitCount, ds.totalLatencyMs = 0, 0, 0, 0, 0
		ds.LastRequestTime, ds.LastSuccessTime, ds.LastRateLimited = time.Time{}, time.Time{}, time.Time{}
	}

	ds.RequestCount++
	if ds.totalLatencyMs < maxCounter-latencyMs {
		ds.totalLatencyMs += latencyMs
	}
	ds.LastRequestTime = time.Now()

	if success {
		ds.SuccessCount++
		ds.LastSuccessTime = time.Now()
	} else {
		ds.ErrorCount++
	}
	if rateLimited {
		ds.RateLimitCount++
		ds.LastRateLimited = time.Now()
	}

	ds.cachedDelay = -1
}

// SuggestedDelay returns the recommended delay for domain, or the
// manager's default minimum if domain hasn't been recorded yet.
func (m *Manager) SuggestedDelay(domain string) int {
	ds := m.Get(domain)
	if ds == nil {
		return m.DefaultMinDelayMs
	}
	return ds.SuggestedDelayMs(m.DefaultMinDelayMs, m.DefaultMaxDelayMs)
}

// ErrorRate returns domain's error rate, or 0 if it hasn't been recorded.
func (m *Manager) ErrorRate(domain string) float64 {
	ds := m.Get(domain)
	if ds == nil {
		return 0
	}
	return ds.ErrorRate()
}

// RequestCount returns domain's recorded request count, or 0.
func (m *Manager) RequestCount(domain string) int64 {
	ds := m.Get(domain)
	if ds == nil {
		return 0
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.RequestCount
}

// AllStats returns a snapshot of every tracked domain's stats.
func (m *Manager) AllStats() map[string]DomainStatsJSON {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]DomainStatsJSON, len(m.domains))
	for domain, ds := range m.domains {
		out[domain] = ds.ToJSON(m.DefaultMinDelayMs, m.DefaultMaxDelayMs)
	}
	return out
}

// SetManualDelay pins domain's suggested delay to delayMs, overriding the
// calculated value until ClearManualDelay is called.
func (m *Manager) SetManualDelay(domain string, delayMs int) {
	ds := m.getOrCreate(domain)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.ManualDelayMs = &delayMs
	ds.cachedDelay = -1
}

// ClearManualDelay removes domain's manual delay override.
func (m *Manager) ClearManualDelay(domain string) {
	ds := m.Get(domain)
	if ds == nil {
		return
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.ManualDelayMs = nil
	ds.cachedDelay = -1
}

// Reset discards domain's stats entirely.
func (m *Manager) Reset(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.domains, domain)
}

// ResetAll discards every tracked domain's stats.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains = make(map[string]*DomainStats)
}

// DomainCount returns the number of domains currently tracked.
func (m *Manager) DomainCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.domains)
}
