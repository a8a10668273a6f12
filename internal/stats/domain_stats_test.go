package stats

import (
	"strconv"
	"testing"
	"time"
)

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
		want   string
	}{
		{"simple url", "https://example.com/page", "example.com"},
		{"url with port", "https://example.com:8080/page", "example.com"},
		{"url with subdomain", "https://api.example.com/v1/data", "api.example.com"},
		{"url with www", "https://www.example.com/page", "www.example.com"},
		{"http url", "http://example.com/page", "example.com"},
		{"url with query params", "https://example.com/page?foo=bar", "example.com"},
		{"invalid url", "not-a-valid-url", ""},
		{"empty url", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractDomain(tt.rawURL); got != tt.want {
				t.Errorf("ExtractDomain(%q) = %q, want %q", tt.rawURL, got, tt.want)
			}
		})
	}
}

func TestManagerRecordRequest(t *testing.T) {
	m := NewManager()
	defer m.Close()

	m.RecordRequest("example.com", 100, true, false)
	m.RecordRequest("example.com", 200, true, false)
	m.RecordRequest("example.com", 150, false, true)

	ds := m.Get("example.com")
	if ds == nil {
		t.Fatal("expected stats for example.com")
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if ds.RequestCount != 3 {
		t.Errorf("RequestCount = %d, want 3", ds.RequestCount)
	}
	if ds.SuccessCount != 2 {
		t.Errorf("SuccessCount = %d, want 2", ds.SuccessCount)
	}
	if ds.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", ds.ErrorCount)
	}
	if ds.RateLimitCount != 1 {
		t.Errorf("RateLimitCount = %d, want 1", ds.RateLimitCount)
	}
	if ds.totalLatencyMs != 450 {
		t.Errorf("totalLatencyMs = %d, want 450", ds.totalLatencyMs)
	}
}

func TestManagerSuggestedDelay(t *testing.T) {
	m := NewManager()
	defer m.Close()

	if delay := m.SuggestedDelay("unknown.com"); delay != m.DefaultMinDelayMs {
		t.Errorf("SuggestedDelay for unknown domain = %d, want %d", delay, m.DefaultMinDelayMs)
	}

	for i := 0; i < 10; i++ {
		m.RecordRequest("fast.com", 50, true, false)
	}
	fastDelay := m.SuggestedDelay("fast.com")
	if fastDelay > 1000 {
		t.Errorf("SuggestedDelay for fast domain = %d, want <= 1000", fastDelay)
	}

	for i := 0; i < 5; i++ {
		m.RecordRequest("error.com", 1000, false, false)
	}
	for i := 0; i < 5; i++ {
		m.RecordRequest("error.com", 1000, true, false)
	}
	errorDelay := m.SuggestedDelay("error.com")
	if errorDelay <= fastDelay {
		t.Errorf("SuggestedDelay for error domain (%d) should exceed fast domain (%d)", errorDelay, fastDelay)
	}

	// Delay must never fall outside the manager's configured bounds,
	// regardless of how extreme the inputs are (this is ratelimit.AdjustDelay's job).
	for i := 0; i < 20; i++ {
		m.RecordRequest("extreme.com", 10_000_000, false, true)
	}
	if d := m.SuggestedDelay("extreme.com"); d > m.DefaultMaxDelayMs {
		t.Errorf("SuggestedDelay for extreme domain = %d, want <= %d", d, m.DefaultMaxDelayMs)
	}
}

func TestManagerErrorRate(t *testing.T) {
	m := NewManager()
	defer m.Close()

	if rate := m.ErrorRate("unknown.com"); rate != 0 {
		t.Errorf("ErrorRate for unknown domain = %f, want 0", rate)
	}

	m.RecordRequest("half.com", 100, true, false)
	m.RecordRequest("half.com", 100, false, false)

	if rate := m.ErrorRate("half.com"); rate < 0.49 || rate > 0.51 {
		t.Errorf("ErrorRate = %f, want ~0.5", rate)
	}
}

func TestManagerManualDelay(t *testing.T) {
	m := NewManager()
	defer m.Close()

	m.SetManualDelay("manual.com", 5000)
	for i := 0; i < 10; i++ {
		m.RecordRequest("manual.com", 50, true, false)
	}

	if delay := m.SuggestedDelay("manual.com"); delay < 5000 {
		t.Errorf("SuggestedDelay with manual override = %d, want >= 5000", delay)
	}

	m.ClearManualDelay("manual.com")
	if delay := m.SuggestedDelay("manual.com"); delay >= 5000 {
		t.Errorf("SuggestedDelay after clearing manual override = %d, want < 5000", delay)
	}
}

func TestManagerResetAndResetAll(t *testing.T) {
	m := NewManager()
	defer m.Close()

	m.RecordRequest("reset.com", 100, true, false)
	if m.DomainCount() != 1 {
		t.Errorf("DomainCount = %d, want 1", m.DomainCount())
	}
	m.Reset("reset.com")
	if m.DomainCount() != 0 {
		t.Errorf("DomainCount after Reset = %d, want 0", m.DomainCount())
	}
	if ds := m.Get("reset.com"); ds != nil {
		t.Error("expected nil stats after Reset")
	}

	m.RecordRequest("a.com", 100, true, false)
	m.RecordRequest("b.com", 100, true, false)
	m.RecordRequest("c.com", 100, true, false)
	if m.DomainCount() != 3 {
		t.Errorf("DomainCount = %d, want 3", m.DomainCount())
	}
	m.ResetAll()
	if m.DomainCount() != 0 {
		t.Errorf("DomainCount after ResetAll = %d, want 0", m.DomainCount())
	}
}

func TestManagerAllStats(t *testing.T) {
	m := NewManager()
	defer m.Close()

	m.RecordRequest("a.com", 100, true, false)
	m.RecordRequest("b.com", 200, false, true)

	all := m.AllStats()
	if len(all) != 2 {
		t.Errorf("AllStats length = %d, want 2", len(all))
	}

	a, ok := all["a.com"]
	if !ok {
		t.Fatal("expected a.com in AllStats")
	}
	if a.RequestCount != 1 || a.SuccessCount != 1 {
		t.Errorf("a.com stats = %+v, want RequestCount=1 SuccessCount=1", a)
	}

	b, ok := all["b.com"]
	if !ok {
		t.Fatal("expected b.com in AllStats")
	}
	if b.RateLimitCount != 1 {
		t.Errorf("b.com RateLimitCount = %d, want 1", b.RateLimitCount)
	}
}

func TestDomainStatsRecentRateLimitPenalty(t *testing.T) {
	m := NewManager()
	defer m.Close()

	m.RecordRequest("limited.com", 1000, false, true)

	ds := m.Get("limited.com")
	ds.mu.Lock()
	ds.LastRateLimited = time.Now()
	ds.mu.Unlock()

	if delay := m.SuggestedDelay("limited.com"); delay < 5000 {
		t.Errorf("SuggestedDelay immediately after rate limit = %d, want >= 5000", delay)
	}
}

func TestManagerEmptyDomainIgnored(t *testing.T) {
	m := NewManager()
	defer m.Close()

	m.RecordRequest("", 100, true, false)
	if m.DomainCount() != 0 {
		t.Errorf("DomainCount after recording empty domain = %d, want 0", m.DomainCount())
	}
}

func TestManagerRequestCount(t *testing.T) {
	m := NewManager()
	defer m.Close()

	if count := m.RequestCount("unknown.com"); count != 0 {
		t.Errorf("RequestCount for unknown domain = %d, want 0", count)
	}

	m.RecordRequest("count.com", 100, true, false)
	m.RecordRequest("count.com", 100, true, false)
	m.RecordRequest("count.com", 100, true, false)

	if count := m.RequestCount("count.com"); count != 3 {
		t.Errorf("RequestCount = %d, want 3", count)
	}
}

func TestDomainStatsCacheConcurrency(t *testing.T) {
	m := NewManager()
	defer m.Close()

	domain := "concurrent.com"
	m.RecordRequest(domain, 100, true, false)

	done := make(chan bool)
	const goroutines = 10
	const iterations = 100

	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < iterations; j++ {
				if delay := m.SuggestedDelay(domain); delay < 0 {
					t.Errorf("SuggestedDelay returned invalid value: %d", delay)
				}
			}
			done <- true
		}()
	}
	for i := 0; i < goroutines/2; i++ {
		go func() {
			for j := 0; j < iterations; j++ {
				m.RecordRequest(domain, int64(100+j), j%2 == 0, j%5 == 0)
			}
			done <- true
		}()
	}
	for i := 0; i < goroutines+goroutines/2; i++ {
		<-done
	}

	finalDelay := m.SuggestedDelay(domain)
	if finalDelay < m.DefaultMinDelayMs || finalDelay > m.DefaultMaxDelayMs {
		t.Errorf("final delay %d out of bounds [%d, %d]", finalDelay, m.DefaultMinDelayMs, m.DefaultMaxDelayMs)
	}
}

func TestManagerEvictsOldestAtCapacity(t *testing.T) {
	m := NewManager()
	defer m.Close()

	// getOrCreate evicts a batch once len(domains) reaches maxDomains, so
	// filling past the cap should never grow the tracked set beyond it.
	for i := 0; i < maxDomains+evictionBatch+1; i++ {
		m.RecordRequest(ExtractDomain("https://example.com/p"), 10, true, false)
		m.getOrCreate(randomDomain(i))
	}

	if count := m.DomainCount(); count > maxDomains {
		t.Errorf("DomainCount = %d, want <= %d", count, maxDomains)
	}
}

func randomDomain(i int) string {
	return "domain-" + strconv.Itoa(i) + ".test"
}
