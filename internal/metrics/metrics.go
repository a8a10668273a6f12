// Package metrics provides Prometheus metrics for monitoring renderd.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests by route and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderd_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"route", "status"},
	)

	// RequestDuration tracks request duration by route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "renderd_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
		},
		[]string{"route"},
	)

	// InstanceUp reports 1/0 for whether a Browser Instance's process is
	// currently running, labeled by role (main/standby).
	InstanceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "renderd_browser_instance_up",
			Help: "Whether a Browser Instance's process is running (1) or not (0)",
		},
		[]string{"role"},
	)

	// SupervisorRecycles counts Supervisor Main/Standby takeovers by
	// takeover reason ("recycle" or "fault").
	SupervisorRecycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderd_supervisor_recycles_total",
			Help: "Total Supervisor Main/Standby recycles by reason",
		},
		[]string{"reason"},
	)

	// BlockDetections counts renders whose response content matched a
	// known rate-limit/access-denial/geo-block/CAPTCHA pattern, by category.
	BlockDetections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderd_block_detections_total",
			Help: "Total renders whose response matched a known block pattern, by category",
		},
		[]string{"category"},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "renderd_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows system memory obtained.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "renderd_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "renderd_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "renderd_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InstanceUp,
		SupervisorRecycles,
		BlockDetections,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates memory metrics.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

// updateMemoryMetrics updates memory-related metrics.
func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordRequest records metrics for a completed HTTP request.
func RecordRequest(route, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(route, status).Inc()
	RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordRecycle records a Supervisor Main/Standby takeover by reason
// (cmd/renderd passes the takeover reason: "recycle" or "fault").
func RecordRecycle(reason string) {
	SupervisorRecycles.WithLabelValues(reason).Inc()
}

// RecordBlockDetection records a render whose response content matched a
// known block pattern.
func RecordBlockDetection(category string) {
	BlockDetections.WithLabelValues(category).Inc()
}

// UpdateInstanceUp updates the running-state gauge for one Browser
// Instance role.
func UpdateInstanceUp(role string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	InstanceUp.WithLabelValues(role).Set(v)
}
