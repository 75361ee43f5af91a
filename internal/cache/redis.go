package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freekieb7/usermanager/internal/config"
	apperrors "github.com/freekieb7/usermanager/internal/errors"
)

// Service stores JSON values under a key prefix. It is backed by Redis, or by an
// in-process map when Redis is not configured.
type Service struct {
	client clientInterface
	logger *slog.Logger
	prefix string
}

// clientInterface abstracts the key/value operations we actually use
type clientInterface interface {
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	get(ctx context.Context, key string) ([]byte, error)
	del(ctx context.Context, key string) error
	increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	ping(ctx context.Context) error
	close() error
}

// Config holds Redis cache configuration
type Config struct {
	Addr         string        // Redis server address
	Password     string        // Redis password
	DB           int           // Redis database number
	PoolSize     int           // Connection pool size
	MinIdleConns int           // Minimum idle connections
	MaxRetries   int           // Maximum number of retries
	DialTimeout  time.Duration // Connection timeout
	ReadTimeout  time.Duration // Read timeout
	WriteTimeout time.Duration // Write timeout
	Prefix       string        // Key prefix for namespacing
	Enabled      bool          // Whether Redis is used at all
}

// ConfigFrom maps the application cache settings onto a Redis configuration
func ConfigFrom(cfg config.Cache) *Config {
	c := DefaultConfig()
	c.Addr = cfg.RedisAddr
	c.Password = cfg.RedisPassword
	c.DB = cfg.RedisDB
	if cfg.RedisPoolSize > 0 {
		c.PoolSize = cfg.RedisPoolSize
	}
	if cfg.Prefix != "" {
		c.Prefix = cfg.Prefix
	}
	c.Enabled = cfg.Enabled
	return c
}

// DefaultConfig returns default Redis configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 3,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		Prefix:       "usermanager:",
		Enabled:      true,
	}
}

// NewService connects to Redis. A disabled configuration yields an in-process
// service instead.
func NewService(ctx context.Context, config *Config, logger *slog.Logger) (*Service, error) {
	if !config.Enabled {
		return NewLocalService(config.Prefix, logger), nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.ErrorContext(ctx, "Failed to connect to Redis", "error", err, "addr", config.Addr)
		_ = redisClient.Close()
		return nil, apperrors.CacheUnavailableError("failed to connect to Redis", err)
	}

	logger.InfoContext(ctx, "Connected to Redis cache", "addr", config.Addr, "db", config.DB)

	return &Service{
		client: &redisClientWrapper{client: redisClient},
		logger: logger,
		prefix: config.Prefix,
	}, nil
}

// NewLocalService returns a service holding its values in process memory.
func NewLocalService(prefix string, logger *slog.Logger) *Service {
	return &Service{
		client: newLocalClient(),
		logger: logger,
		prefix: prefix,
	}
}

// buildKey creates a prefixed key
func (s *Service) buildKey(key string) string {
	return s.prefix + key
}

// Distributed reports whether values are shared between processes.
func (s *Service) Distributed() bool {
	_, ok := s.client.(*redisClientWrapper)
	return ok
}

// Set stores a value in cache with expiration
func (s *Service) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	if err := s.client.set(ctx, s.buildKey(key), data, ttl); err != nil {
		s.logger.WarnContext(ctx, "Cache set failed", "key", key, "error", err)
		return apperrors.CacheError("cache set failed", err)
	}
	return nil
}

// Get retrieves a value from cache
func (s *Service) Get(ctx context.Context, key string, dest any) error {
	val, err := s.client.get(ctx, s.buildKey(key))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return ErrCacheMiss
		}
		s.logger.WarnContext(ctx, "Cache get failed", "key", key, "error", err)
		return apperrors.CacheError("cache get failed", err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		s.logger.WarnContext(ctx, "Cache unmarshal failed", "key", key, "error", err)
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// Delete removes a value from cache
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.client.del(ctx, s.buildKey(key)); err != nil {
		s.logger.WarnContext(ctx, "Cache delete failed", "key", key, "error", err)
		return apperrors.CacheError("cache delete failed", err)
	}
	return nil
}

// Increment atomically increments a counter and sets its expiry
func (s *Service) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	result, err := s.client.increment(ctx, s.buildKey(key), ttl)
	if err != nil {
		s.logger.WarnContext(ctx, "Cache increment failed", "key", key, "error", err)
		return 0, apperrors.CacheError("cache increment failed", err)
	}
	return result, nil
}

// Health checks the health of the cache service
func (s *Service) Health(ctx context.Context) error {
	return s.client.ping(ctx)
}

// Close closes the cache service
func (s *Service) Close() error {
	return s.client.close()
}

// Stats returns connection pool statistics. The in-process client has none.
func (s *Service) Stats() map[string]any {
	if wrapper, ok := s.client.(*redisClientWrapper); ok {
		return wrapper.stats()
	}
	return map[string]any{}
}

// Cache errors
var (
	ErrCacheMiss = errors.New("cache miss")
)

// redisClientWrapper wraps redis.Client to implement our interface
type redisClientWrapper struct {
	client *redis.Client
}

func (r *redisClientWrapper) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisClientWrapper) get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return val, nil
}

func (r *redisClientWrapper) del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisClientWrapper) increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipeline := r.client.TxPipeline()
	incrCmd := pipeline.Incr(ctx, key)
	pipeline.Expire(ctx, key, ttl)

	if _, err := pipeline.Exec(ctx); err != nil {
		return 0, err
	}
	return incrCmd.Val(), nil
}

func (r *redisClientWrapper) ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisClientWrapper) close() error {
	return r.client.Close()
}

func (r *redisClientWrapper) stats() map[string]any {
	poolStats := r.client.PoolStats()
	return map[string]any{
		"hits":        poolStats.Hits,
		"misses":      poolStats.Misses,
		"timeouts":    poolStats.Timeouts,
		"total_conns": poolStats.TotalConns,
		"idle_conns":  poolStats.IdleConns,
		"stale_conns": poolStats.StaleConns,
	}
}
