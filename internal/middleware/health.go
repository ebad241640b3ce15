package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthChecker defines interface for health checking
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// DefaultCheckTimeout bounds each check when HealthHandler is given no timeout.
const DefaultCheckTimeout = 2 * time.Second

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

type CheckStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthHandler runs every checker concurrently, each under its own timeout, and answers 503
// when any of them fails. A slow checker only costs its own timeout.
func HealthHandler(checkers map[string]HealthChecker, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		health := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now(),
			Checks:    make(map[string]CheckStatus, len(checkers)),
		}
		for name, checker := range checkers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				st := runCheck(r.Context(), checker, timeout)
				mu.Lock()
				defer mu.Unlock()
				health.Checks[name] = st
				if st.Status != "healthy" {
					health.Status = "unhealthy"
				}
			}()
		}
		wg.Wait()

		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(health)
	}
}

// runCheck returns once the check finishes or its timeout passes, whichever is first. A check
// that ignores its context is left to finish on its own.
func runCheck(parent context.Context, checker HealthChecker, timeout time.Duration) CheckStatus {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- checker.Check(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("check timed out after %s", timeout)
	}
	st := CheckStatus{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		st.Status = "unhealthy"
		st.Message = err.Error()
	}
	return st
}

// ReadinessHandler creates a readiness check handler (simpler than health)
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessHandler creates a liveness check handler (simplest check)
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
