// Package api exposes the game server control plane over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"strings"
)

// Config holds configuration for the API layer.
type Config struct {
	// RootPath mounts every route under a prefix, for deployments behind a
	// path-routing proxy. Empty mounts at "/".
	RootPath string

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string

	// JWTSecret enables Bearer token validation on mutating routes when set.
	JWTSecret string //nolint:gosec // G117: config field

	// MutationRateLimit is the maximum number of start/stop and file write
	// requests per minute per IP. Defaults to 10 when zero.
	MutationRateLimit int

	// ServiceName names the HTTP server spans.
	ServiceName string

	// MetricsPath serves the metrics scrape endpoint. Defaults to /metrics.
	MetricsPath string

	Logger *slog.Logger
}

// MetricsRecorder records HTTP metrics and serves the scrape endpoint.
type MetricsRecorder interface {
	HTTPMetrics
	Handler() http.Handler
}

// Services groups the collaborators the routes call into.
type Services struct {
	Controller ServerController
	// Files is optional; without it the /files routes are not registered.
	Files FileStore
	// Metrics is optional; without it /metrics is not registered.
	Metrics MetricsRecorder
	// Health serves /healthcheck. A static healthy response is used when nil.
	Health http.HandlerFunc
}

// Router is the root HTTP handler of the control plane.
type Router struct {
	handler http.Handler
	mw      *Middleware
}

// NewRouter creates a Router with every route registered.
func NewRouter(svc Services, cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "gameserver-api"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	var metrics HTTPMetrics
	if svc.Metrics != nil {
		metrics = svc.Metrics
	}
	mw := NewMiddleware([]byte(cfg.JWTSecret), logger, metrics)
	mutating := func(h http.Handler) http.Handler {
		return mw.RateLimit(cfg.MutationRateLimit)(mw.RequireAuth(h))
	}

	mux := http.NewServeMux()
	route := func(pattern string, h http.Handler) {
		_, path, _ := strings.Cut(pattern, " ")
		mux.Handle(pattern, mw.Metrics(path)(h))
	}

	// --- Server lifecycle ---
	serverH := NewServerHandler(svc.Controller, logger)
	route("POST /server", mutating(http.HandlerFunc(serverH.Start)))
	route("DELETE /server", mutating(http.HandlerFunc(serverH.Stop)))
	route("GET /server/status", http.HandlerFunc(serverH.Status))
	route("GET /server/ip-address", http.HandlerFunc(serverH.IPAddress))

	// --- Files ---
	if svc.Files != nil {
		fileH := NewFileHandler(svc.Files, logger)
		route("GET /files/{path...}", http.HandlerFunc(fileH.Get))
		route("POST /files/{path...}", mutating(http.HandlerFunc(fileH.Put)))
		route("DELETE /files/{path...}", mutating(http.HandlerFunc(fileH.Delete)))
	}

	// --- Operations ---
	health := svc.Health
	if health == nil {
		health = func(w http.ResponseWriter, _ *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		}
	}
	route("GET /healthcheck", health)
	if svc.Metrics != nil {
		mux.Handle("GET "+cfg.MetricsPath, svc.Metrics.Handler())
	}

	var handler http.Handler = mux
	if root := strings.TrimRight(cfg.RootPath, "/"); root != "" {
		if !strings.HasPrefix(root, "/") {
			root = "/" + root
		}
		handler = http.StripPrefix(root, mux)
	}
	handler = mw.CORS(cfg.CORSOrigins)(handler)
	handler = mw.Logging(handler)
	handler = mw.RequestID(handler)
	handler = mw.Tracing(cfg.ServiceName)(handler)

	return &Router{handler: handler, mw: mw}
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

// Stop releases the rate limiter's background goroutine.
func (rt *Router) Stop() {
	rt.mw.Stop()
}
