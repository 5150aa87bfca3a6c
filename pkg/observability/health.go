package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the health status of the service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single health check. Critical checks take the
// whole service unhealthy when they fail; non-critical ones only degrade it.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// HealthChecker runs registered health checks on demand.
type HealthChecker struct {
	checks map[string]*HealthCheck
	start  time.Time
	mu     sync.RWMutex
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    time.Duration          `json:"uptime"`
	Checks    map[string]CheckStatus `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckStatus represents the status of a health check
type CheckStatus struct {
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration,omitempty"`
}

// SystemInfo represents system information
type SystemInfo struct {
	NumGoroutines int    `json:"num_goroutines"`
	NumCPU        int    `json:"num_cpu"`
	MemAlloc      uint64 `json:"mem_alloc_mb"`
	MemSys        uint64 `json:"mem_sys_mb"`
}

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]*HealthCheck),
		start:  time.Now(),
	}
}

// RegisterCheck registers a new health check
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name] = check
}

// Check performs all health checks
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	checks := make(map[string]*HealthCheck, len(hc.checks))
	for k, v := range hc.checks {
		checks[k] = v
	}
	hc.mu.RUnlock()

	checkResults := make(map[string]CheckStatus)
	overallStatus := HealthStatusHealthy

	for name, check := range checks {
		status := performCheck(ctx, check)
		checkResults[name] = status

		if status.Status == HealthStatusUnhealthy && check.Critical {
			overallStatus = HealthStatusUnhealthy
		} else if status.Status != HealthStatusHealthy && overallStatus == HealthStatusHealthy {
			overallStatus = HealthStatusDegraded
		}
	}

	return HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(hc.start),
		Checks:    checkResults,
		System:    getSystemInfo(),
	}
}

func performCheck(ctx context.Context, check *HealthCheck) CheckStatus {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- check.CheckFunc(checkCtx)
	}()

	var err error
	select {
	case err = <-errChan:
	case <-checkCtx.Done():
		err = checkCtx.Err()
	}

	status := CheckStatus{Duration: time.Since(start).String()}
	if err != nil {
		if check.Critical {
			status.Status = HealthStatusUnhealthy
		} else {
			status.Status = HealthStatusDegraded
		}
		status.Message = err.Error()
	} else {
		status.Status = HealthStatusHealthy
		status.Message = "OK"
	}

	return status
}

// HealthHandler returns an HTTP handler for health checks
func (hc *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := hc.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// LivenessHandler returns a simple liveness probe handler
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessHandler returns a readiness probe handler
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := hc.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == HealthStatusHealthy {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		}
	}
}

func getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		MemAlloc:      m.Alloc / 1024 / 1024,
		MemSys:        m.Sys / 1024 / 1024,
	}
}

// StoreCheck creates the conversation-store health check. Store loss is
// fatal for the service, so the check is critical.
func StoreCheck(pingFunc func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "store",
		CheckFunc: pingFunc,
		Timeout:   5 * time.Second,
		Critical:  true,
	}
}

// UpstreamCheck creates a non-critical health check for an upstream provider.
func UpstreamCheck(name string, checkFunc func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      name,
		CheckFunc: checkFunc,
		Timeout:   10 * time.Second,
		Critical:  false,
	}
}
