package module

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/gameserver/lifecycle"
)

// MetricsCollectorConfig holds configuration for the MetricsCollector module.
type MetricsCollectorConfig struct {
	Namespace   string `yaml:"namespace" json:"namespace"`
	Subsystem   string `yaml:"subsystem" json:"subsystem"`
	MetricsPath string `yaml:"path" json:"path"`
}

// DefaultMetricsCollectorConfig returns the default configuration.
func DefaultMetricsCollectorConfig() MetricsCollectorConfig {
	return MetricsCollectorConfig{
		Namespace:   "gameserver",
		MetricsPath: "/metrics",
	}
}

// MetricsCollector wraps Prometheus metrics for the lifecycle controller
// and the HTTP API. It registers as service "metrics.collector".
type MetricsCollector struct {
	name     string
	config   MetricsCollectorConfig
	registry *prometheus.Registry

	StatusResolutions   *prometheus.CounterVec
	ResolutionFailures  *prometheus.CounterVec
	WorkflowTriggers    *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var _ lifecycle.Observer = (*MetricsCollector)(nil)

// NewMetricsCollector creates a new MetricsCollector with its own Prometheus registry.
func NewMetricsCollector(name string, cfg MetricsCollectorConfig) *MetricsCollector {
	reg := prometheus.NewRegistry()
	ns, sub := cfg.Namespace, cfg.Subsystem

	mc := &MetricsCollector{
		name:     name,
		config:   cfg,
		registry: reg,
	}

	mc.StatusResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "status_resolutions_total",
		Help:      "Deployment status resolutions by resulting status and rule",
	}, []string{"status", "rule"})

	mc.ResolutionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "status_resolution_failures_total",
		Help:      "Deployment status queries that returned an error",
	}, []string{"reason"})

	mc.WorkflowTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "workflow_triggers_total",
		Help:      "Workflow executions started by the controller",
	}, []string{"operation", "result"})

	mc.HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	mc.HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	reg.MustRegister(
		mc.StatusResolutions,
		mc.ResolutionFailures,
		mc.WorkflowTriggers,
		mc.HTTPRequestsTotal,
		mc.HTTPRequestDuration,
		collectors.NewGoCollector(),
	)
	return mc
}

// MetricsPath returns the configured metrics endpoint path.
func (m *MetricsCollector) MetricsPath() string { return m.config.MetricsPath }

// Name returns the module name.
func (m *MetricsCollector) Name() string {
	return m.name
}

// Init registers the metrics collector as a service.
func (m *MetricsCollector) Init(app modular.Application) error {
	return app.RegisterService("metrics.collector", m)
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsCollector) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler that serves Prometheus metrics.
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveResolution implements lifecycle.Observer.
func (m *MetricsCollector) ObserveResolution(res lifecycle.Resolution, err error) {
	if err != nil {
		m.ResolutionFailures.WithLabelValues(failureReason(err)).Inc()
		return
	}
	m.StatusResolutions.WithLabelValues(string(res.Status), string(res.Rule)).Inc()
}

// ObserveTrigger implements lifecycle.Observer.
func (m *MetricsCollector) ObserveTrigger(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.WorkflowTriggers.WithLabelValues(operation, result).Inc()
}

// RecordHTTPRequest records an HTTP request metric.
func (m *MetricsCollector) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, lifecycle.ErrCollaboratorUnavailable):
		return "collaborator_unavailable"
	case errors.Is(err, lifecycle.ErrResolverContradiction):
		return "contradiction"
	case errors.Is(err, lifecycle.ErrMalformedExecutionInput):
		return "malformed_input"
	default:
		return "other"
	}
}
