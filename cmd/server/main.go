package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoCodeAlone/modular"
	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/juju/clock"

	"github.com/GoCodeAlone/gameserver/api"
	"github.com/GoCodeAlone/gameserver/config"
	"github.com/GoCodeAlone/gameserver/lifecycle"
	"github.com/GoCodeAlone/gameserver/module"
	awsprovider "github.com/GoCodeAlone/gameserver/provider/aws"
	"github.com/GoCodeAlone/gameserver/provider/mock"
	"github.com/GoCodeAlone/gameserver/storage"
)

var (
	configFile = flag.String("config", "", "Path to the server configuration YAML file")
	addr       = flag.String("addr", "", "HTTP listen address (overrides http.address)")
	provider   = flag.String("provider", "", "Lifecycle provider: aws or mock (overrides provider)")
	fixture    = flag.String("fixture", "", "YAML fixture seeding the mock provider (overrides mock.fixture)")
	jwtSecret  = flag.String("jwt-secret", "", "HS256 secret for Bearer tokens on mutating routes (overrides auth.jwt_secret)")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn or error (overrides log.level)")
)

// envOrFlag returns the environment variable value if set, otherwise the
// flag value.
func envOrFlag(envKey string, flagVal *string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if flagVal != nil {
		return *flagVal
	}
	return ""
}

// applyEnvOverrides fills flags that were not set explicitly on the command
// line from GAMESERVER_* environment variables.
func applyEnvOverrides() {
	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	overrides := []struct {
		flagName string
		envKey   string
		target   *string
	}{
		{"config", "GAMESERVER_CONFIG", configFile},
		{"addr", "GAMESERVER_ADDR", addr},
		{"provider", "GAMESERVER_PROVIDER", provider},
		{"fixture", "GAMESERVER_FIXTURE", fixture},
		{"jwt-secret", "GAMESERVER_JWT_SECRET", jwtSecret},
		{"log-level", "GAMESERVER_LOG_LEVEL", logLevel},
	}
	for _, o := range overrides {
		if explicit[o.flagName] {
			continue
		}
		*o.target = envOrFlag(o.envKey, o.target)
	}
}

// loadConfig reads the configuration file, or the defaults when none is
// given, and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Defaults()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(*configFile); err != nil {
			return nil, err
		}
	}
	if *addr != "" {
		cfg.HTTP.Address = *addr
	}
	if *provider != "" {
		cfg.Provider = *provider
	}
	if *fixture != "" {
		cfg.Mock.Fixture = *fixture
	}
	if *jwtSecret != "" {
		cfg.Auth.JWTSecret = *jwtSecret
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := cfg.LogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// server is the wired control plane.
type server struct {
	controller *lifecycle.Controller
	router     *api.Router
	sandbox    *mock.Sandbox
	httpServer *module.HTTPServer
	modules    []modular.Module
}

// build wires every component described by cfg. Nothing is started.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server, error) {
	s := &server{}

	var tracing *module.OTelTracing
	if cfg.Tracing.Enabled {
		tracing = module.NewOTelTracing("tracing", module.OTelTracingConfig{
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			Environment: cfg.Environment,
			Insecure:    cfg.Tracing.Insecure,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		s.modules = append(s.modules, tracing)
	}

	var awsCfg *awsv2.Config
	loadAWS := func() (awsv2.Config, error) {
		if awsCfg == nil {
			c, err := awsprovider.LoadConfig(ctx, cfg.AWS)
			if err != nil {
				return awsv2.Config{}, err
			}
			awsCfg = &c
		}
		return *awsCfg, nil
	}

	var cache awsprovider.Cache
	switch cfg.Cache.Backend {
	case "memory":
		cache = module.NewMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.TTL, clock.WallClock)
	case "redis":
		rc := module.NewRedisCache("describe-cache", module.RedisCacheConfig{
			Address:    cfg.Cache.Address,
			Password:   cfg.Cache.Password,
			DB:         cfg.Cache.DB,
			Prefix:     cfg.Cache.Prefix,
			DefaultTTL: cfg.Cache.TTL,
		})
		cache = rc
		s.modules = append(s.modules, rc)
	}

	var (
		workflows lifecycle.WorkflowEngine
		stacks    lifecycle.StackDescriptor
		settings  lifecycle.Settings
	)
	switch cfg.Provider {
	case config.ProviderAWS:
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		workflows = awsprovider.NewStepFunctionsFromConfig(c, cache, logger)
		stacks = awsprovider.NewStacksFromConfig(c)
		settings = lifecycle.Settings{
			ProvisionWorkflowID:   cfg.Lifecycle.ProvisionStateMachineARN,
			DeprovisionWorkflowID: cfg.Lifecycle.DeprovisionStateMachineARN,
			StackName:             cfg.Lifecycle.StackName,
			ServerIPOutputKey:     cfg.Lifecycle.ServerIPOutputKey,
		}
	case config.ProviderMock:
		sb, err := newSandbox(cfg)
		if err != nil {
			return nil, err
		}
		s.sandbox = sb
		workflows, stacks = sb.Workflows, sb.Stacks
		settings = sb.Config().Settings()
		logger.Warn("Using the mock provider; no real server will be created")
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	opts := []lifecycle.Option{lifecycle.WithLogger(logger)}
	services := api.Services{}
	if cfg.Metrics.Enabled {
		metrics := module.NewMetricsCollector("metrics", module.MetricsCollectorConfig{
			Namespace:   cfg.Metrics.Namespace,
			MetricsPath: cfg.Metrics.Path,
		})
		opts = append(opts, lifecycle.WithObserver(metrics))
		services.Metrics = metrics
		s.modules = append(s.modules, metrics)
	}

	ctrl, err := lifecycle.NewController(workflows, stacks, settings, opts...)
	if err != nil {
		return nil, err
	}
	s.controller = ctrl
	services.Controller = ctrl

	var files storage.Provider
	switch cfg.Files.Backend {
	case "local":
		local, err := storage.NewLocal(cfg.Files.LocalRoot)
		if err != nil {
			return nil, err
		}
		files = local
	case "s3":
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		files = awsprovider.NewS3StorageFromConfig(c, cfg.Files.Bucket)
	}
	if files != nil {
		services.Files = storage.NewFileManager(files, cfg.Files.Prefix, logger)
	}

	health := module.NewHealthChecker("health")
	services.Health = health.HealthHandler()
	s.modules = append(s.modules, health)

	s.router = api.NewRouter(services, api.Config{
		RootPath:          cfg.HTTP.RootPath,
		CORSOrigins:       cfg.AllowedCORSOrigins(),
		JWTSecret:         cfg.Auth.JWTSecret,
		MutationRateLimit: cfg.RateLimit.MutationsPerMinute,
		ServiceName:       cfg.Tracing.ServiceName,
		MetricsPath:       cfg.Metrics.Path,
		Logger:            logger,
	})
	s.httpServer = module.NewHTTPServer("http-server", cfg.HTTP.Address, s.router)
	s.modules = append(s.modules, s.httpServer)
	return s, nil
}

// newSandbox builds the mock provider from the mock section and seeds it
// from the fixture file, if any.
func newSandbox(cfg *config.Config) (*mock.Sandbox, error) {
	sbCfg := mock.DefaultSandboxConfig()
	if cfg.Lifecycle.ProvisionStateMachineARN != "" {
		sbCfg.ProvisionWorkflowID = cfg.Lifecycle.ProvisionStateMachineARN
	}
	if cfg.Lifecycle.DeprovisionStateMachineARN != "" {
		sbCfg.DeprovisionWorkflowID = cfg.Lifecycle.DeprovisionStateMachineARN
	}
	sbCfg.StackName = cfg.Lifecycle.StackName
	sbCfg.ServerIPOutputKey = cfg.Lifecycle.ServerIPOutputKey
	if cfg.Mock.ServerIP != "" {
		sbCfg.ServerIP = cfg.Mock.ServerIP
	}
	if cfg.Mock.ProvisionDuration > 0 {
		sbCfg.ProvisionDuration = cfg.Mock.ProvisionDuration
	}
	if cfg.Mock.DeprovisionDuration > 0 {
		sbCfg.DeprovisionDuration = cfg.Mock.DeprovisionDuration
	}

	sb := mock.NewSandbox(clock.WallClock, sbCfg)
	if cfg.Mock.Fixture != "" {
		f, err := mock.LoadFixture(cfg.Mock.Fixture)
		if err != nil {
			return nil, err
		}
		f.Apply(sb)
	}
	return sb, nil
}

// run starts every module, waits for ctx to end, then stops them.
func (s *server) run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	app := modular.NewStdApplication(modular.NewStdConfigProvider(cfg), logger)
	for _, m := range s.modules {
		app.RegisterModule(m)
	}
	if err := app.Init(); err != nil {
		return fmt.Errorf("init application: %w", err)
	}
	if err := app.Start(); err != nil {
		return fmt.Errorf("start application: %w", err)
	}
	logger.Info("Game server control plane started", "addr", s.httpServer.Addr(), "provider", cfg.Provider)

	<-ctx.Done()

	logger.Info("Shutting down")
	s.router.Stop()
	if err := app.Stop(); err != nil {
		return fmt.Errorf("stop application: %w", err)
	}
	return nil
}

func main() {
	flag.Parse()
	applyEnvOverrides()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger := newLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to build server", "error", err)
		os.Exit(1)
	}
	if err := s.run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
