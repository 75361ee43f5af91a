package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/freekieb7/usermanager/internal/errors"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTesting     Environment = "testing"
)

func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvProduction, EnvTesting:
		return true
	}
	return false
}

type SessionDriver string

const (
	SessionDriverMemory   SessionDriver = "memory"
	SessionDriverRedis    SessionDriver = "redis"
	SessionDriverPostgres SessionDriver = "postgres"
)

func (d SessionDriver) IsValid() bool {
	switch d {
	case SessionDriverMemory, SessionDriverRedis, SessionDriverPostgres:
		return true
	}
	return false
}

type Config struct {
	Server    Server
	API       API
	Session   Session
	Database  Database
	Security  Security
	RateLimit RateLimit
	Cache     Cache
	Telemetry Telemetry
}

type Server struct {
	Port           int
	Environment    Environment
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int
}

func (s Server) IsProduction() bool {
	return s.Environment == EnvProduction
}

// API describes the external users backend.
type API struct {
	BaseURL         string
	WithCredentials bool
	Timeout         time.Duration
	TokenCookie     string
	TokenErrorCodes []string

	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

type Session struct {
	Driver     SessionDriver
	CookieName string
	TTL        time.Duration
}

type Database struct {
	URL             string
	MaxOpenConns    int32
	MaxIdleConns    int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type Security struct {
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	ContentSecurityPolicy string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

type RateLimit struct {
	Enabled        bool
	LoginRequests  int
	WindowDuration time.Duration
	// TrustedProxies may set X-Forwarded-For and X-Real-IP. Addresses or CIDR networks.
	TrustedProxies []string
}

type Cache struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	Prefix        string
}

type Telemetry struct {
	ServiceName  string
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
}

// LoadDotEnv loads variables from a dotenv file when it exists. Variables already
// present in the environment win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from the environment. Errors are CONFIG_ERROR app errors.
func Load() (Config, error) {
	config, err := load()
	if err != nil {
		return config, apperrors.ConfigError("invalid configuration", err)
	}
	return config, nil
}

func load() (Config, error) {
	var config Config
	var err error

	// Server configuration
	config.Server.Port, err = getEnvIntSafe("SERVER_PORT", 8080, false)
	if err != nil {
		return config, fmt.Errorf("server port config error: %w", err)
	}

	config.Server.Environment, err = getEnvEnvironmentSafe("SERVER_ENVIRONMENT", EnvDevelopment, false)
	if err != nil {
		return config, fmt.Errorf("server environment config error: %w", err)
	}

	config.Server.WriteTimeout, err = getEnvDurationSafe("SERVER_WRITE_TIMEOUT", 15*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server write timeout config error: %w", err)
	}

	config.Server.ReadTimeout, err = getEnvDurationSafe("SERVER_READ_TIMEOUT", 15*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server read timeout config error: %w", err)
	}

	config.Server.IdleTimeout, err = getEnvDurationSafe("SERVER_IDLE_TIMEOUT", 60*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server idle timeout config error: %w", err)
	}

	config.Server.RequestTimeout, err = getEnvDurationSafe("SERVER_REQUEST_TIMEOUT", 30*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server request timeout config error: %w", err)
	}

	config.Server.MaxHeaderBytes, err = getEnvIntSafe("SERVER_MAX_HEADER_BYTES", 1<<20, false)
	if err != nil {
		return config, fmt.Errorf("server max header bytes config error: %w", err)
	}

	// Backend API configuration
	config.API.BaseURL, err = getEnvStringSafe("API_BASE_URL", "", true)
	if err != nil {
		return config, fmt.Errorf("API base URL config error: %w", err)
	}

	config.API.WithCredentials, err = getEnvBoolSafe("API_WITH_CREDENTIALS", true, false)
	if err != nil {
		return config, fmt.Errorf("API with credentials config error: %w", err)
	}

	config.API.Timeout, err = getEnvDurationSafe("API_TIMEOUT", 10*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("API timeout config error: %w", err)
	}

	config.API.TokenCookie, err = getEnvStringSafe("API_TOKEN_COOKIE", "token", false)
	if err != nil {
		return config, fmt.Errorf("API token cookie config error: %w", err)
	}

	config.API.TokenErrorCodes, err = getEnvStringSliceSafe("API_TOKEN_ERROR_CODES", []string{"token.invalid", "token.expired", "token.missing"}, false)
	if err != nil {
		return config, fmt.Errorf("API token error codes config error: %w", err)
	}

	config.API.BreakerMaxFailures, err = getEnvIntSafe("API_BREAKER_MAX_FAILURES", 5, false)
	if err != nil {
		return config, fmt.Errorf("API breaker max failures config error: %w", err)
	}

	config.API.BreakerResetTimeout, err = getEnvDurationSafe("API_BREAKER_RESET_TIMEOUT", 30*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("API breaker reset timeout config error: %w", err)
	}

	// Session configuration
	config.Session.Driver, err = getEnvSessionDriverSafe("SESSION_DRIVER", SessionDriverMemory, false)
	if err != nil {
		return config, fmt.Errorf("session driver config error: %w", err)
	}

	config.Session.CookieName, err = getEnvStringSafe("SESSION_COOKIE_NAME", "SID", false)
	if err != nil {
		return config, fmt.Errorf("session cookie name config error: %w", err)
	}

	config.Session.TTL, err = getEnvDurationSafe("SESSION_TTL", 8*time.Hour, false)
	if err != nil {
		return config, fmt.Errorf("session TTL config error: %w", err)
	}

	// Database configuration, only needed by the postgres session driver
	config.Database.URL, err = getEnvStringSafe("DB_URL", "", config.Session.Driver == SessionDriverPostgres)
	if err != nil {
		return config, fmt.Errorf("database URL config error: %w", err)
	}

	config.Database.MaxOpenConns, err = getEnvInt32Safe("DB_MAX_OPEN_CONNS", 10, false)
	if err != nil {
		return config, fmt.Errorf("database max open conns config error: %w", err)
	}

	config.Database.MaxIdleConns, err = getEnvInt32Safe("DB_MAX_IDLE_CONNS", 2, false)
	if err != nil {
		return config, fmt.Errorf("database max idle conns config error: %w", err)
	}

	config.Database.ConnMaxLifetime, err = getEnvDurationSafe("DB_CONN_MAX_LIFETIME", 5*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("database conn max lifetime config error: %w", err)
	}

	config.Database.ConnMaxIdleTime, err = getEnvDurationSafe("DB_CONN_MAX_IDLE_TIME", 5*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("database conn max idle time config error: %w", err)
	}

	// Security configuration
	config.Security.EnableHSTS, err = getEnvBoolSafe("SECURITY_ENABLE_HSTS", config.Server.IsProduction(), false)
	if err != nil {
		return config, fmt.Errorf("HSTS enable config error: %w", err)
	}

	config.Security.HSTSMaxAge, err = getEnvIntSafe("SECURITY_HSTS_MAX_AGE", 31536000, false)
	if err != nil {
		return config, fmt.Errorf("HSTS max age config error: %w", err)
	}

	config.Security.HSTSIncludeSubdomains, err = getEnvBoolSafe("SECURITY_HSTS_INCLUDE_SUBDOMAINS", true, false)
	if err != nil {
		return config, fmt.Errorf("HSTS include subdomains config error: %w", err)
	}

	config.Security.ContentSecurityPolicy, err = getEnvStringSafe("SECURITY_CSP", "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self' data:; font-src 'self'; connect-src 'self'; frame-ancestors 'none'; base-uri 'self'; form-action 'self'", false)
	if err != nil {
		return config, fmt.Errorf("CSP config error: %w", err)
	}

	config.Security.ReferrerPolicy, err = getEnvStringSafe("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin", false)
	if err != nil {
		return config, fmt.Errorf("referrer policy config error: %w", err)
	}

	config.Security.PermissionsPolicy, err = getEnvStringSafe("SECURITY_PERMISSIONS_POLICY", "geolocation=(), microphone=(), camera=(), payment=(), usb=()", false)
	if err != nil {
		return config, fmt.Errorf("permissions policy config error: %w", err)
	}

	// Rate limit configuration
	config.RateLimit.Enabled, err = getEnvBoolSafe("RATE_LIMIT_ENABLED", true, false)
	if err != nil {
		return config, fmt.Errorf("rate limit enabled config error: %w", err)
	}

	config.RateLimit.LoginRequests, err = getEnvIntSafe("RATE_LIMIT_LOGIN_REQUESTS", 10, false)
	if err != nil {
		return config, fmt.Errorf("rate limit login requests config error: %w", err)
	}

	config.RateLimit.WindowDuration, err = getEnvDurationSafe("RATE_LIMIT_WINDOW_DURATION", time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("rate limit window duration config error: %w", err)
	}

	config.RateLimit.TrustedProxies, err = getEnvStringSliceSafe("RATE_LIMIT_TRUSTED_PROXIES", nil, false)
	if err != nil {
		return config, fmt.Errorf("rate limit trusted proxies config error: %w", err)
	}

	// Cache configuration
	config.Cache.Enabled, err = getEnvBoolSafe("CACHE_ENABLED", config.Session.Driver == SessionDriverRedis, false)
	if err != nil {
		return config, fmt.Errorf("cache enabled config error: %w", err)
	}

	config.Cache.RedisAddr, err = getEnvStringSafe("REDIS_ADDR", "localhost:6379", false)
	if err != nil {
		return config, fmt.Errorf("Redis address config error: %w", err)
	}

	config.Cache.RedisPassword, err = getEnvStringSafe("REDIS_PASSWORD", "", false)
	if err != nil {
		return config, fmt.Errorf("Redis password config error: %w", err)
	}

	config.Cache.RedisDB, err = getEnvIntSafe("REDIS_DB", 0, false)
	if err != nil {
		return config, fmt.Errorf("Redis DB config error: %w", err)
	}

	config.Cache.RedisPoolSize, err = getEnvIntSafe("REDIS_POOL_SIZE", 10, false)
	if err != nil {
		return config, fmt.Errorf("Redis pool size config error: %w", err)
	}

	config.Cache.Prefix, err = getEnvStringSafe("REDIS_PREFIX", "usermanager:", false)
	if err != nil {
		return config, fmt.Errorf("Redis prefix config error: %w", err)
	}

	if config.Session.Driver == SessionDriverRedis && !config.Cache.Enabled {
		return config, fmt.Errorf("session driver %q requires CACHE_ENABLED=true", config.Session.Driver)
	}

	// Telemetry configuration
	config.Telemetry.ServiceName, err = getEnvStringSafe("OTEL_SERVICE_NAME", "usermanager", false)
	if err != nil {
		return config, fmt.Errorf("service name config error: %w", err)
	}

	config.Telemetry.LogLevel, err = getEnvStringSafe("LOG_LEVEL", "info", false)
	if err != nil {
		return config, fmt.Errorf("log level config error: %w", err)
	}

	config.Telemetry.LogFormat, err = getEnvStringSafe("LOG_FORMAT", "json", false)
	if err != nil {
		return config, fmt.Errorf("log format config error: %w", err)
	}

	config.Telemetry.OTLPEndpoint, err = getEnvStringSafe("OTEL_EXPORTER_OTLP_ENDPOINT", "", false)
	if err != nil {
		return config, fmt.Errorf("OTLP endpoint config error: %w", err)
	}

	return config, nil
}

func getEnvStringSafe(key, defaultValue string, required bool) (string, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		if required {
			return "", fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	return value, nil
}

func getEnvStringSliceSafe(key string, defaultValue []string, required bool) ([]string, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return nil, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}

	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values, nil
}

func getEnvIntSafe(key string, defaultValue int, required bool) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	return value, nil
}

func getEnvInt32Safe(key string, defaultValue int32, required bool) (int32, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	return int32(value), nil
}

func getEnvDurationSafe(key string, defaultValue time.Duration, required bool) (time.Duration, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a valid duration: %w", key, err)
	}
	return value, nil
}

func getEnvBoolSafe(key string, defaultValue bool, required bool) (bool, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return false, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("environment variable %s must be a valid boolean: %w", key, err)
	}
	return value, nil
}

func getEnvEnvironmentSafe(key string, defaultValue Environment, required bool) (Environment, error) {
	env, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return "", fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	envValue := Environment(env)
	if !envValue.IsValid() {
		return "", fmt.Errorf("environment variable %s has invalid value: %s", key, env)
	}
	return envValue, nil
}

func getEnvSessionDriverSafe(key string, defaultValue SessionDriver, required bool) (SessionDriver, error) {
	driver, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return "", fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value := SessionDriver(driver)
	if !value.IsValid() {
		return "", fmt.Errorf("environment variable %s has invalid value: %s", key, driver)
	}
	return value, nil
}
