package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// CheckFunc reports the health of one dependency
type CheckFunc func(ctx context.Context) error

// HealthChecker provides health check functionality over named dependencies
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]CheckFunc)}
}

// Register adds or replaces a named check
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// ConnectedCheck adapts a connection-state getter into a CheckFunc
func ConnectedCheck(isConnected func() bool) CheckFunc {
	return func(context.Context) error {
		if !isConnected() {
			return errors.New("not connected")
		}
		return nil
	}
}

// GetHealthStatus runs every check and returns the aggregated status and whether all checks passed
func (h *HealthChecker) GetHealthStatus(ctx context.Context) (map[string]interface{}, bool) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]interface{}, len(names))
	healthy := true
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			healthy = false
			results[name] = map[string]interface{}{"status": "error", "error": err.Error()}
			continue
		}
		results[name] = map[string]interface{}{"status": "ok"}
	}

	status := "ok"
	if !healthy {
		status = "degraded"
	}

	return map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    results,
	}, healthy
}
