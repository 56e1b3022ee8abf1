package health

import (
	"context"
	"sync"
	"time"
)

// Status is the reported health of a component or the whole service
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one dependency's probe outcome
type CheckResult struct {
	Status    Status                 `json:"status"`
	Component string                 `json:"component"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Checker probes one dependency
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// HealthChecker fans out to every registered dependency checker
type HealthChecker struct {
	checkers []Checker
	timeout  time.Duration
}

// NewHealthChecker creates an aggregate checker with an overall timeout
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HealthChecker{timeout: timeout}
}

// Register adds a dependency checker
func (h *HealthChecker) Register(checker Checker) {
	h.checkers = append(h.checkers, checker)
}

// CheckAll probes every dependency in parallel
func (h *HealthChecker) CheckAll(ctx context.Context) map[string]CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make(map[string]CheckResult, len(h.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range h.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			result := c.Check(ctx)

			mu.Lock()
			results[c.Name()] = result
			mu.Unlock()
		}(checker)
	}

	wg.Wait()
	return results
}

// Check probes everything and folds the results into one overall status.
// Any unhealthy dependency makes the whole service unhealthy.
func (h *HealthChecker) Check(ctx context.Context) (Status, map[string]CheckResult) {
	results := h.CheckAll(ctx)

	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy, results
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall, results
}

// IsHealthy reports whether every dependency passed
func (h *HealthChecker) IsHealthy(ctx context.Context) bool {
	status, _ := h.Check(ctx)
	return status == StatusHealthy
}

// HealthResponse is the JSON body served on the health endpoint
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks"`
}

func healthyResult(component, message string, start time.Time) CheckResult {
	return CheckResult{
		Status:    StatusHealthy,
		Component: component,
		Message:   message,
		Duration:  time.Since(start),
		Timestamp: time.Now().UTC(),
	}
}

func unhealthyResult(component string, err error, start time.Time) CheckResult {
	result := CheckResult{
		Status:    StatusUnhealthy,
		Component: component,
		Duration:  time.Since(start),
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
