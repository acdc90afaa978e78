package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// latencyWindowSize bounds the sample window used for the running average.
const latencyWindowSize = 1000

// GatewayMetrics is a point-in-time snapshot of the gateway's counters.
type GatewayMetrics struct {
	TotalRequests         int64   `json:"total_requests"`
	SuccessfulRequests    int64   `json:"successful_requests"`
	FailedRequests        int64   `json:"failed_requests"`
	RateLimitedRequests   int64   `json:"rate_limited_requests"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
	UptimeSeconds         float64 `json:"uptime_seconds"`
	ActiveRoutes          int     `json:"active_routes"`
}

// Collector accumulates request counters and a bounded latency window.
type Collector struct {
	mu sync.Mutex

	totalRequests       int64
	successfulRequests  int64
	failedRequests      int64
	rateLimitedRequests int64

	// latencies is a fixed-capacity ring; next points at the slot the
	// next sample overwrites.
	latencies [latencyWindowSize]float64
	next      int
	filled    int

	startTime time.Time
}

// NewCollector creates a collector with a fresh uptime clock.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// RecordRequest counts an inbound request before any pipeline stage runs.
func (c *Collector) RecordRequest() {
	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()
}

// RecordResponse counts the outcome of a processed request and appends its
// latency to the sample window.
func (c *Collector) RecordResponse(success bool, responseTimeMs float64, rateLimited bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if success {
		c.successfulRequests++
	} else {
		c.failedRequests++
	}
	if rateLimited {
		c.rateLimitedRequests++
	}

	c.latencies[c.next] = responseTimeMs
	c.next = (c.next + 1) % latencyWindowSize
	if c.filled < latencyWindowSize {
		c.filled++
	}
}

// GetMetrics returns a snapshot. The active route count is supplied by the
// caller; the collector does not know about the route table.
func (c *Collector) GetMetrics(activeRoutes int) *GatewayMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	var avg float64
	if c.filled > 0 {
		var sum float64
		for i := 0; i < c.filled; i++ {
			sum += c.latencies[i]
		}
		avg = sum / float64(c.filled)
	}

	return &GatewayMetrics{
		TotalRequests:         c.totalRequests,
		SuccessfulRequests:    c.successfulRequests,
		FailedRequests:        c.failedRequests,
		RateLimitedRequests:   c.rateLimitedRequests,
		AverageResponseTimeMs: avg,
		UptimeSeconds:         time.Since(c.startTime).Seconds(),
		ActiveRoutes:          activeRoutes,
	}
}

// Reset zeroes all counters, clears the latency window, and restarts the
// uptime clock. Admin-triggered only.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests = 0
	c.successfulRequests = 0
	c.failedRequests = 0
	c.rateLimitedRequests = 0
	c.next = 0
	c.filled = 0
	c.startTime = time.Now()
}

// WritePrometheus writes metrics in Prometheus text exposition format
func (c *Collector) WritePrometheus(w http.ResponseWriter, activeRoutes int) {
	snap := c.GetMetrics(activeRoutes)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeHelp(w, "gateway_requests_total", "Total number of requests", "counter")
	writeMetric(w, "gateway_requests_total", snap.TotalRequests)

	writeHelp(w, "gateway_requests_successful_total", "Total number of successful requests", "counter")
	writeMetric(w, "gateway_requests_successful_total", snap.SuccessfulRequests)

	writeHelp(w, "gateway_requests_failed_total", "Total number of failed requests", "counter")
	writeMetric(w, "gateway_requests_failed_total", snap.FailedRequests)

	writeHelp(w, "gateway_requests_rate_limited_total", "Total number of rate limited requests", "counter")
	writeMetric(w, "gateway_requests_rate_limited_total", snap.RateLimitedRequests)

	writeHelp(w, "gateway_response_time_avg_ms", "Average response time over the sample window", "gauge")
	writeMetricFloat(w, "gateway_response_time_avg_ms", snap.AverageResponseTimeMs)

	writeHelp(w, "gateway_uptime_seconds", "Gateway uptime in seconds", "gauge")
	writeMetricFloat(w, "gateway_uptime_seconds", snap.UptimeSeconds)

	writeHelp(w, "gateway_active_routes", "Number of active routes", "gauge")
	writeMetric(w, "gateway_active_routes", int64(snap.ActiveRoutes))
}

func writeHelp(w http.ResponseWriter, name, help, metricType string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
}

func writeMetric(w http.ResponseWriter, name string, value int64) {
	w.Write([]byte(name + " " + strconv.FormatInt(value, 10) + "\n"))
}

func writeMetricFloat(w http.ResponseWriter, name string, value float64) {
	w.Write([]byte(name + " " + strconv.FormatFloat(value, 'f', -1, 64) + "\n"))
}
