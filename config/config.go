// Package config loads the server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	awsprovider "github.com/GoCodeAlone/gameserver/provider/aws"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Provider names.
const (
	ProviderAWS  = "aws"
	ProviderMock = "mock"
)

// HTTPConfig configures the HTTP listener and browser access.
type HTTPConfig struct {
	Address  string `json:"address" yaml:"address"`
	RootPath string `json:"root_path" yaml:"root_path"`
	// FrontendCORSURL is the origin the production frontend is served from.
	FrontendCORSURL string `json:"frontend_cors_url" yaml:"frontend_cors_url"`
	FrontendDevPort int    `json:"frontend_dev_port" yaml:"frontend_dev_port"`
}

// LifecycleConfig names the external resources the controller drives.
type LifecycleConfig struct {
	ProvisionStateMachineARN   string `json:"provision_state_machine_arn" yaml:"provision_state_machine_arn"`
	DeprovisionStateMachineARN string `json:"deprovision_state_machine_arn" yaml:"deprovision_state_machine_arn"`
	StackName                  string `json:"stack_name" yaml:"stack_name"`
	ServerIPOutputKey          string `json:"server_ip_output_key" yaml:"server_ip_output_key"`
}

// MockConfig configures the in-memory sandbox provider.
type MockConfig struct {
	// Fixture is an optional YAML file seeding stacks and executions.
	Fixture             string        `json:"fixture" yaml:"fixture"`
	ServerIP            string        `json:"server_ip" yaml:"server_ip"`
	ProvisionDuration   time.Duration `json:"provision_duration" yaml:"provision_duration"`
	DeprovisionDuration time.Duration `json:"deprovision_duration" yaml:"deprovision_duration"`
}

// FilesConfig configures the file manager backend.
type FilesConfig struct {
	// Backend is "s3", "local" or "" to disable the file routes.
	Backend   string `json:"backend" yaml:"backend"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	Prefix    string `json:"prefix" yaml:"prefix"`
	LocalRoot string `json:"local_root" yaml:"local_root"`
}

// CacheConfig configures the execution description cache.
type CacheConfig struct {
	// Backend is "memory", "redis" or "none".
	Backend    string        `json:"backend" yaml:"backend"`
	Address    string        `json:"address" yaml:"address"`
	Password   string        `json:"password" yaml:"password"` //nolint:gosec // G117: config field
	DB         int           `json:"db" yaml:"db"`
	Prefix     string        `json:"prefix" yaml:"prefix"`
	TTL        time.Duration `json:"ttl" yaml:"ttl"`
	MaxEntries int           `json:"max_entries" yaml:"max_entries"`
}

// AuthConfig configures Bearer token validation on mutating routes.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"` //nolint:gosec // G117: config field
}

// RateLimitConfig limits mutating requests per client IP.
type RateLimitConfig struct {
	MutationsPerMinute int `json:"mutations_per_minute" yaml:"mutations_per_minute"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	ServiceName string `json:"service_name" yaml:"service_name"`
	Insecure    bool   `json:"insecure" yaml:"insecure"`
	// SampleRatio is the fraction of new traces exported, in (0, 1].
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Path      string `json:"path" yaml:"path"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Config is the full server configuration.
type Config struct {
	Environment string                `json:"environment" yaml:"environment"`
	Provider    string                `json:"provider" yaml:"provider"`
	HTTP        HTTPConfig            `json:"http" yaml:"http"`
	AWS         awsprovider.AWSConfig `json:"aws" yaml:"aws"`
	Lifecycle   LifecycleConfig       `json:"lifecycle" yaml:"lifecycle"`
	Mock        MockConfig            `json:"mock" yaml:"mock"`
	Files       FilesConfig           `json:"files" yaml:"files"`
	Cache       CacheConfig           `json:"cache" yaml:"cache"`
	Auth        AuthConfig            `json:"auth" yaml:"auth"`
	RateLimit   RateLimitConfig       `json:"rate_limit" yaml:"rate_limit"`
	Tracing     TracingConfig         `json:"tracing" yaml:"tracing"`
	Metrics     MetricsConfig         `json:"metrics" yaml:"metrics"`
	Log         LogConfig             `json:"log" yaml:"log"`
}

// Defaults returns a configuration that runs the whole API locally against
// the mock provider.
func Defaults() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Provider:    ProviderMock,
		HTTP: HTTPConfig{
			Address:         ":8000",
			FrontendDevPort: 3000,
		},
		Lifecycle: LifecycleConfig{
			StackName:         "gameserver",
			ServerIPOutputKey: "ServerIp",
		},
		Mock: MockConfig{
			ServerIP:            "192.0.2.10",
			ProvisionDuration:   2 * time.Minute,
			DeprovisionDuration: time.Minute,
		},
		Files: FilesConfig{
			Backend:   "local",
			LocalRoot: "data/files",
		},
		Cache: CacheConfig{
			Backend:    "memory",
			Prefix:     "gameserver:",
			TTL:        24 * time.Hour,
			MaxEntries: 1024,
		},
		RateLimit: RateLimitConfig{MutationsPerMinute: 10},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "gameserver",
			SampleRatio: 1,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "gameserver",
			Path:      "/metrics",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadFromFile reads a YAML configuration file on top of Defaults.
// ${VAR} references are expanded from the environment before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of Defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for missing or contradictory settings
// and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case EnvDevelopment:
	case EnvProduction:
		if c.HTTP.FrontendCORSURL == "" {
			errs = append(errs, errors.New("http.frontend_cors_url must be set when environment is production"))
		}
	default:
		errs = append(errs, fmt.Errorf("environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment))
	}

	switch c.Provider {
	case ProviderMock:
	case ProviderAWS:
		if c.Lifecycle.ProvisionStateMachineARN == "" {
			errs = append(errs, errors.New("lifecycle.provision_state_machine_arn is required for the aws provider"))
		}
		if c.Lifecycle.DeprovisionStateMachineARN == "" {
			errs = append(errs, errors.New("lifecycle.deprovision_state_machine_arn is required for the aws provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider must be %q or %q, got %q", ProviderAWS, ProviderMock, c.Provider))
	}
	if c.Lifecycle.StackName == "" {
		errs = append(errs, errors.New("lifecycle.stack_name is required"))
	}
	if c.Lifecycle.ServerIPOutputKey == "" {
		errs = append(errs, errors.New("lifecycle.server_ip_output_key is required"))
	}

	switch c.Files.Backend {
	case "":
	case "local":
		if c.Files.LocalRoot == "" {
			errs = append(errs, errors.New("files.local_root is required for the local backend"))
		}
	case "s3":
		if c.Files.Bucket == "" {
			errs = append(errs, errors.New("files.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("files.backend must be \"s3\", \"local\" or empty, got %q", c.Files.Backend))
	}

	switch c.Cache.Backend {
	case "none", "memory":
	case "redis":
		if c.Cache.Address == "" {
			errs = append(errs, errors.New("cache.address is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be \"memory\", \"redis\" or \"none\", got %q", c.Cache.Backend))
	}

	if c.HTTP.Address == "" {
		errs = append(errs, errors.New("http.address is required"))
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1) {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be in (0, 1], got %v", c.Tracing.SampleRatio))
	}
	if c.RateLimit.MutationsPerMinute < 0 {
		errs = append(errs, errors.New("rate_limit.mutations_per_minute must not be negative"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AllowedCORSOrigins returns the local frontend development origin plus the
// configured frontend URL.
func (c *Config) AllowedCORSOrigins() []string {
	origins := []string{fmt.Sprintf("http://localhost:%d", c.HTTP.FrontendDevPort)}
	if c.HTTP.FrontendCORSURL != "" {
		origins = append(origins, strings.TrimRight(c.HTTP.FrontendCORSURL, "/"))
	}
	return origins
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
