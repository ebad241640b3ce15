package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	domain "github.com/bryanwahyu/weapon-detect/internal/domain/detection"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64

	DetectionsSubmitted uint64
	DetectionsSucceeded uint64
	DetectionsFailed    uint64
	DetectionAttempts   uint64
	DetectionRetries    uint64
	DetectionsTimedOut  uint64
	DetectionsStale     uint64
	StartTime           time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

// IncrementRequests increments total request counter
func IncrementRequests() {
	atomic.AddUint64(&globalMetrics.RequestsTotal, 1)
}

// IncrementInProgress increments in-progress request counter
func IncrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, 1)
}

// DecrementInProgress decrements in-progress request counter
func DecrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0))
}

// IncrementSuccess increments successful request counter
func IncrementSuccess() {
	atomic.AddUint64(&globalMetrics.RequestsSuccess, 1)
}

// IncrementFailed increments failed request counter
func IncrementFailed() {
	atomic.AddUint64(&globalMetrics.RequestsFailed, 1)
}

// DetectionMetrics feeds orchestrator events into the global counters.
type DetectionMetrics struct{}

func (DetectionMetrics) Submitted(domain.MediaKind) {
	atomic.AddUint64(&globalMetrics.DetectionsSubmitted, 1)
}

func (DetectionMetrics) Attempted(domain.MediaKind) {
	atomic.AddUint64(&globalMetrics.DetectionAttempts, 1)
}

func (DetectionMetrics) Retried(domain.MediaKind) {
	atomic.AddUint64(&globalMetrics.DetectionRetries, 1)
}

func (DetectionMetrics) Succeeded(domain.MediaKind) {
	atomic.AddUint64(&globalMetrics.DetectionsSucceeded, 1)
}

func (DetectionMetrics) Failed(_ domain.MediaKind, kind domain.ErrorKind) {
	atomic.AddUint64(&globalMetrics.DetectionsFailed, 1)
	if kind == domain.KindTimeout {
		atomic.AddUint64(&globalMetrics.DetectionsTimedOut, 1)
	}
}

func (DetectionMetrics) Discarded() {
	atomic.AddUint64(&globalMetrics.DetectionsStale, 1)
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"requests_total":       atomic.LoadUint64(&globalMetrics.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&globalMetrics.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&globalMetrics.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&globalMetrics.RequestsFailed),
		"detections": map[string]interface{}{
			"submitted": atomic.LoadUint64(&globalMetrics.DetectionsSubmitted),
			"succeeded": atomic.LoadUint64(&globalMetrics.DetectionsSucceeded),
			"failed":    atomic.LoadUint64(&globalMetrics.DetectionsFailed),
			"attempts":  atomic.LoadUint64(&globalMetrics.DetectionAttempts),
			"retries":   atomic.LoadUint64(&globalMetrics.DetectionRetries),
			"timed_out": atomic.LoadUint64(&globalMetrics.DetectionsTimedOut),
			"stale":     atomic.LoadUint64(&globalMetrics.DetectionsStale),
		},
		"uptime_seconds": time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			IncrementSuccess()
		} else {
			IncrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetMetrics())
}
