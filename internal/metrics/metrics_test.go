package metrics

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestCountersConsistent(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 10; i++ {
		c.RecordRequest()
		c.RecordResponse(i%3 != 0, float64(10+i), false)
	}
	c.RecordRequest()
	c.RecordResponse(false, 5, true)

	m := c.GetMetrics(2)
	if m.TotalRequests != 11 {
		t.Errorf("total = %d, want 11", m.TotalRequests)
	}
	if m.TotalRequests != m.SuccessfulRequests+m.FailedRequests {
		t.Errorf("total %d != success %d + failed %d",
			m.TotalRequests, m.SuccessfulRequests, m.FailedRequests)
	}
	if m.RateLimitedRequests > m.FailedRequests {
		t.Errorf("rate_limited %d > failed %d", m.RateLimitedRequests, m.FailedRequests)
	}
	if m.ActiveRoutes != 2 {
		t.Errorf("active_routes = %d", m.ActiveRoutes)
	}
	if m.UptimeSeconds < 0 {
		t.Errorf("uptime = %v", m.UptimeSeconds)
	}
}

func TestAverageLatency(t *testing.T) {
	c := NewCollector()
	c.RecordResponse(true, 10, false)
	c.RecordResponse(true, 20, false)
	c.RecordResponse(true, 30, false)

	if avg := c.GetMetrics(0).AverageResponseTimeMs; avg != 20 {
		t.Errorf("avg = %v, want 20", avg)
	}
}

func TestLatencyWindowBounded(t *testing.T) {
	c := NewCollector()

	// Fill well past capacity with a known tail.
	for i := 0; i < latencyWindowSize; i++ {
		c.RecordResponse(true, 100, false)
	}
	for i := 0; i < latencyWindowSize; i++ {
		c.RecordResponse(true, 50, false)
	}

	// Every old sample has been overwritten.
	if avg := c.GetMetrics(0).AverageResponseTimeMs; avg != 50 {
		t.Errorf("avg = %v, want 50 after window turnover", avg)
	}
}

func TestReset(t *testing.T) {
	c := NewCollector()
	c.RecordRequest()
	c.RecordResponse(true, 42, false)

	c.Reset()

	m := c.GetMetrics(0)
	if m.TotalRequests != 0 || m.SuccessfulRequests != 0 || m.FailedRequests != 0 {
		t.Errorf("counters not zeroed: %+v", m)
	}
	if m.AverageResponseTimeMs != 0 {
		t.Errorf("avg = %v, want 0 after reset", m.AverageResponseTimeMs)
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := NewCollector()

	const goroutines = 8
	const perGoroutine = 500

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				c.RecordRequest()
				c.RecordResponse(j%2 == 0, float64(j), j%10 == 0)
			}
		}()
	}
	wg.Wait()

	m := c.GetMetrics(0)
	want := int64(goroutines * perGoroutine)
	if m.TotalRequests != want {
		t.Errorf("total = %d, want %d", m.TotalRequests, want)
	}
	if m.TotalRequests != m.SuccessfulRequests+m.FailedRequests {
		t.Error("counter invariant violated under concurrency")
	}
}

func TestWritePrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordRequest()
	c.RecordResponse(true, 12.5, false)

	rec := httptest.NewRecorder()
	c.WritePrometheus(rec, 3)

	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE gateway_requests_total counter",
		"gateway_requests_total 1",
		"gateway_requests_successful_total 1",
		"gateway_active_routes 3",
		"gateway_response_time_avg_ms 12.5",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content-type = %q", ct)
	}
}
