package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Fatal("Handler() returned nil")
	}

	RecordRequest("/render", "ok", 1*time.Second)
	UpdateInstanceUp("main", true)
	RecordRecycle("manual")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	expectedMetrics := []string{
		"renderd_browser_instance_up",
		"renderd_supervisor_recycles_total",
		"renderd_requests_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected metric %q not found in output", metric)
		}
	}
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.0.0", "go1.22")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "renderd_build_info") {
		t.Error("Expected renderd_build_info metric")
	}
	if !strings.Contains(body, "version=\"1.0.0\"") {
		t.Error("Expected version label in build_info")
	}
	if !strings.Contains(body, "go_version=\"go1.22\"") {
		t.Error("Expected go_version label in build_info")
	}
}

func TestRecordRequest(t *testing.T) {
	RecordRequest("/render", "ok", 1*time.Second)
	RecordRequest("/render", "error", 500*time.Millisecond)
	RecordRequest("/health", "ok", 2*time.Second)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "renderd_requests_total") {
		t.Error("Expected renderd_requests_total metric")
	}
	if !strings.Contains(body, "renderd_request_duration_seconds") {
		t.Error("Expected renderd_request_duration_seconds metric")
	}
}

func TestRecordBlockDetection(t *testing.T) {
	RecordBlockDetection("rate_limit")
	RecordBlockDetection("captcha")
	RecordBlockDetection("rate_limit")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "renderd_block_detections_total") {
		t.Error("Expected renderd_block_detections_total metric")
	}
}

func TestRecordRecycle(t *testing.T) {
	RecordRecycle("takeover_crash")
	RecordRecycle("takeover_unhealthy")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "renderd_supervisor_recycles_total") {
		t.Error("Expected renderd_supervisor_recycles_total metric")
	}
}

func TestUpdateInstanceUp(t *testing.T) {
	UpdateInstanceUp("main", true)
	UpdateInstanceUp("standby", false)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `renderd_browser_instance_up{role="main"} 1`) {
		t.Error("Expected main instance up to be 1")
	}
	if !strings.Contains(body, `renderd_browser_instance_up{role="standby"} 0`) {
		t.Error("Expected standby instance up to be 0")
	}
}

func TestStartMemoryCollector(t *testing.T) {
	stopCh := make(chan struct{})

	go StartMemoryCollector(50*time.Millisecond, stopCh)

	time.Sleep(150 * time.Millisecond)

	close(stopCh)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "renderd_memory_usage_bytes") {
		t.Error("Expected renderd_memory_usage_bytes metric")
	}
	if !strings.Contains(body, "renderd_memory_sys_bytes") {
		t.Error("Expected renderd_memory_sys_bytes metric")
	}
	if !strings.Contains(body, "renderd_goroutines") {
		t.Error("Expected renderd_goroutines metric")
	}
}
