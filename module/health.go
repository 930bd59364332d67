package module

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"sort"
	"sync"

	"github.com/GoCodeAlone/modular"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthCheck is a function that performs a health check.
type HealthCheck func(ctx context.Context) HealthCheckResult

// HealthCheckable is implemented by modules that can report their own health.
// The health checker discovers services implementing it when it starts.
type HealthCheckable interface {
	HealthStatus() HealthCheckResult
}

// HealthChecker serves the health and readiness endpoints.
type HealthChecker struct {
	name    string
	checks  map[string]HealthCheck
	mu      sync.RWMutex
	started bool
	app     modular.Application
}

// NewHealthChecker creates a new HealthChecker module.
func NewHealthChecker(name string) *HealthChecker {
	return &HealthChecker{
		name:   name,
		checks: make(map[string]HealthCheck),
	}
}

// Name returns the module name.
func (h *HealthChecker) Name() string {
	return h.name
}

// Init keeps the application for service discovery.
func (h *HealthChecker) Init(app modular.Application) error {
	h.app = app
	return nil
}

// Start discovers health-checkable services and marks the checker ready.
func (h *HealthChecker) Start(_ context.Context) error {
	h.DiscoverHealthCheckables()
	h.SetStarted(true)
	return nil
}

// Stop marks the checker as not ready so load balancers drain first.
func (h *HealthChecker) Stop(_ context.Context) error {
	h.SetStarted(false)
	return nil
}

// DiscoverHealthCheckables scans the service registry for services implementing
// HealthCheckable and registers them as health checks.
func (h *HealthChecker) DiscoverHealthCheckables() {
	if h.app == nil {
		return
	}
	for name, svc := range h.app.SvcRegistry() {
		if hc, ok := svc.(HealthCheckable); ok {
			h.RegisterCheck(name, func(_ context.Context) HealthCheckResult {
				return hc.HealthStatus()
			})
		}
	}
}

// RegisterCheck adds a named health check function.
func (h *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// SetStarted marks the health checker as started or stopped.
func (h *HealthChecker) SetStarted(started bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = started
}

func (h *HealthChecker) run(ctx context.Context) (string, map[string]HealthCheckResult) {
	h.mu.RLock()
	checks := make(map[string]HealthCheck, len(h.checks))
	maps.Copy(checks, h.checks)
	h.mu.RUnlock()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := "healthy"
	results := make(map[string]HealthCheckResult, len(checks))
	for _, name := range names {
		result := checks[name](ctx)
		results[name] = result
		switch {
		case result.Status == "unhealthy":
			overall = "unhealthy"
		case result.Status == "degraded" && overall == "healthy":
			overall = "degraded"
		}
	}
	return overall, results
}

// HealthHandler runs every check. Only an unhealthy result turns into 503.
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overall, results := h.run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if overall == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": overall,
			"checks": results,
		})
	}
}

// ReadyHandler returns 200 only when started and every check is healthy.
func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		started := h.started
		h.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		if !started {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
			return
		}
		if overall, _ := h.run(r.Context()); overall != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

// ProvidesServices returns the services provided by this module.
func (h *HealthChecker) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        h.name,
			Description: "Health check endpoints",
			Instance:    h,
		},
	}
}

// RequiresServices returns services required by this module.
func (h *HealthChecker) RequiresServices() []modular.ServiceDependency {
	return nil
}
