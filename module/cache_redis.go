package module

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when no description is stored under the
// key, or it expired.
var ErrCacheMiss = errors.New("describe cache miss")

// DescribeCache stores serialized workflow execution descriptions. The
// input and start time of an execution never change, so entries are only
// ever replaced or expired.
type DescribeCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisClient is the part of the go-redis client the describe cache uses.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

const (
	defaultDescribeKeyPrefix = "gameserver:"

	// A failed read falls back to the workflow engine, so redis calls
	// fail fast instead of holding up a status request.
	redisDialTimeout = 2 * time.Second
	redisCallTimeout = 500 * time.Millisecond
)

// RedisCacheConfig configures the shared describe cache.
type RedisCacheConfig struct {
	Address  string
	Password string
	DB       int
	// Prefix namespaces the keys of one deployment. Defaults to
	// "gameserver:".
	Prefix string
	// DefaultTTL applies when Set is called without a TTL. Zero keeps
	// entries until evicted by redis.
	DefaultTTL time.Duration
}

// RedisCache is a DescribeCache shared between API replicas, so a status
// poll on any replica reuses descriptions fetched by the others.
type RedisCache struct {
	name   string
	cfg    RedisCacheConfig
	client RedisClient
	logger modular.Logger
}

var _ DescribeCache = (*RedisCache)(nil)

// NewRedisCache creates the module. The connection is made in Start.
func NewRedisCache(name string, cfg RedisCacheConfig) *RedisCache {
	return NewRedisCacheWithClient(name, cfg, nil)
}

// NewRedisCacheWithClient creates the module over an existing client; Start
// then leaves the connection alone.
func NewRedisCacheWithClient(name string, cfg RedisCacheConfig, client RedisClient) *RedisCache {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultDescribeKeyPrefix
	}
	return &RedisCache{
		name:   name,
		cfg:    cfg,
		client: client,
		logger: &noopLogger{},
	}
}

func (r *RedisCache) Name() string { return r.name }

func (r *RedisCache) Init(app modular.Application) error {
	r.logger = app.Logger()
	return nil
}

// Start dials redis and fails when it does not answer PING.
func (r *RedisCache) Start(ctx context.Context) error {
	if r.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         r.cfg.Address,
		Password:     r.cfg.Password,
		DB:           r.cfg.DB,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  redisCallTimeout,
		WriteTimeout: redisCallTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("describe cache %q: ping %s: %w", r.name, r.cfg.Address, err)
	}
	r.client = client

	r.logger.Info("Describe cache connected", "name", r.name, "address", r.cfg.Address, "prefix", r.cfg.Prefix)
	return nil
}

func (r *RedisCache) Stop(_ context.Context) error {
	if r.client == nil {
		return nil
	}
	r.logger.Info("Describe cache disconnected", "name", r.name)
	return r.client.Close()
}

func (r *RedisCache) conn() (RedisClient, error) {
	if r.client == nil {
		return nil, fmt.Errorf("describe cache %q: not started", r.name)
	}
	return r.client, nil
}

// Get returns ErrCacheMiss when nothing is stored under key.
func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	c, err := r.conn()
	if err != nil {
		return "", err
	}
	val, err := c.Get(ctx, r.cfg.Prefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrCacheMiss
	case err != nil:
		return "", fmt.Errorf("describe cache %q: get %s: %w", r.name, key, err)
	}
	return val, nil
}

// Set stores value under key. A ttl <= 0 uses DefaultTTL.
func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c, err := r.conn()
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = r.cfg.DefaultTTL
	}
	if err := c.Set(ctx, r.cfg.Prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("describe cache %q: set %s: %w", r.name, key, err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	c, err := r.conn()
	if err != nil {
		return err
	}
	return c.Del(ctx, r.cfg.Prefix+key).Err()
}

// HealthStatus reports degraded rather than unhealthy when redis stops
// answering: status reads still work, only slower.
func (r *RedisCache) HealthStatus() HealthCheckResult {
	c, err := r.conn()
	if err != nil {
		return HealthCheckResult{Status: "unhealthy", Message: "not started"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return HealthCheckResult{Status: "degraded", Message: "describe cache unreachable: " + err.Error()}
	}
	return HealthCheckResult{Status: "healthy"}
}

func (r *RedisCache) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: r.name, Description: "Shared workflow execution description cache", Instance: r},
	}
}

func (r *RedisCache) RequiresServices() []modular.ServiceDependency {
	return nil
}
