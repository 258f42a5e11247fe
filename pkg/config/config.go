// Package config resolves runtime settings from a .env file, TSCMS_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAPIURL         = "http://127.0.0.1:3000/api"
	defaultRequestTimeout = 10 * time.Second
	defaultBackend        = BackendSQLite
	defaultSQLiteFile     = "tscms-client.db"
	defaultRedisAddr      = "127.0.0.1:6379"
	defaultCoalesceWindow = 50 * time.Millisecond
	defaultIdleTimeout    = 30 * time.Minute
	defaultMaxRetries     = 3
	defaultMaxToasts      = 5
	defaultRateBurst      = 10
)

// Token backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	APIURL         string
	RequestTimeout time.Duration

	TokenBackend  string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CoalesceWindow time.Duration
	IdleTimeout    time.Duration
	MaxRetries     int
	MaxToasts      int

	// RateLimit is the outbound requests per second; 0 disables limiting.
	RateLimit float64
	RateBurst int

	LogFile     string
	LogLevel    string
	MetricsAddr string
}

// Load reads the environment and then parses args.
func Load(args []string) (Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}

	flagSet := flag.NewFlagSet("tscms", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	cfg.RegisterFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
		}
		return Config{}, err
	}
	return cfg.Normalize()
}

// FromEnv loads the .env file named by TSCMS_ENV_FILE (default ".env") when
// it exists, then reads TSCMS_* variables over the defaults. Variables
// already set in the process win over the file.
func FromEnv() (Config, error) {
	envFile := envOrDefault("TSCMS_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	cfg := Config{
		APIURL:        envOrDefault("TSCMS_API_URL", defaultAPIURL),
		TokenBackend:  envOrDefault("TSCMS_TOKEN_BACKEND", defaultBackend),
		SQLitePath:    envOrDefault("TSCMS_SQLITE_PATH", filepath.Join(cwd, defaultSQLiteFile)),
		RedisAddr:     envOrDefault("TSCMS_REDIS_ADDR", defaultRedisAddr),
		RedisPassword: os.Getenv("TSCMS_REDIS_PASSWORD"),
		LogFile:       os.Getenv("TSCMS_LOG_FILE"),
		LogLevel:      envOrDefault("TSCMS_LOG_LEVEL", "info"),
		MetricsAddr:   os.Getenv("TSCMS_METRICS_ADDR"),
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"TSCMS_REQUEST_TIMEOUT", defaultRequestTimeout, &cfg.RequestTimeout},
		{"TSCMS_COALESCE_WINDOW", defaultCoalesceWindow, &cfg.CoalesceWindow},
		{"TSCMS_IDLE_TIMEOUT", defaultIdleTimeout, &cfg.IdleTimeout},
	}
	for _, d := range durations {
		v, err := durationFromEnv(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"TSCMS_REDIS_DB", 0, &cfg.RedisDB},
		{"TSCMS_MAX_RETRIES", defaultMaxRetries, &cfg.MaxRetries},
		{"TSCMS_MAX_TOASTS", defaultMaxToasts, &cfg.MaxToasts},
		{"TSCMS_RATE_BURST", defaultRateBurst, &cfg.RateBurst},
	}
	for _, i := range ints {
		v, err := intFromEnv(i.key, i.fallback)
		if err != nil {
			return Config{}, err
		}
		*i.dst = v
	}

	if raw := os.Getenv("TSCMS_RATE_LIMIT"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TSCMS_RATE_LIMIT: %w", err)
		}
		cfg.RateLimit = v
	}
	return cfg, nil
}

// RegisterFlags binds every setting to a flag on fs, using the current
// values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.APIURL, "api", c.APIURL, "API base URL")
	fs.DurationVar(&c.RequestTimeout, "timeout", c.RequestTimeout, "per-request timeout")
	fs.StringVar(&c.TokenBackend, "token-backend", c.TokenBackend, "token storage: memory|sqlite|redis")
	fs.StringVar(&c.SQLitePath, "sqlite-path", c.SQLitePath, "path to the SQLite token database")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis address for the redis token backend")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "redis database number")
	fs.DurationVar(&c.CoalesceWindow, "coalesce-window", c.CoalesceWindow, "request coalescing window")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "inactivity timeout before sign-out")
	fs.IntVar(&c.MaxRetries, "max-retries", c.MaxRetries, "automatic retries per operation")
	fs.IntVar(&c.MaxToasts, "max-toasts", c.MaxToasts, "visible toast limit")
	fs.Float64Var(&c.RateLimit, "rate-limit", c.RateLimit, "outbound requests per second (0 = unlimited)")
	fs.IntVar(&c.RateBurst, "rate-burst", c.RateBurst, "outbound request burst")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "rotated JSON log file")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug|info|warn|error")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve prometheus metrics on this address")
}

// Normalize trims and validates the configuration.
func (c Config) Normalize() (Config, error) {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	c.TokenBackend = strings.ToLower(strings.TrimSpace(c.TokenBackend))
	c.SQLitePath = strings.TrimSpace(c.SQLitePath)
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	c.MetricsAddr = strings.TrimSpace(c.MetricsAddr)

	if c.APIURL == "" {
		return Config{}, errors.New("api url cannot be empty")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("invalid api url: %q", c.APIURL)
	}

	switch c.TokenBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return Config{}, errors.New("sqlite backend requires sqlite-path")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return Config{}, errors.New("redis backend requires redis-addr")
		}
	default:
		return Config{}, fmt.Errorf("unsupported token backend: %s", c.TokenBackend)
	}

	if c.RequestTimeout <= 0 {
		return Config{}, errors.New("request timeout must be positive")
	}
	if c.CoalesceWindow <= 0 {
		return Config{}, errors.New("coalesce window must be positive")
	}
	if c.IdleTimeout <= 0 {
		return Config{}, errors.New("idle timeout must be positive")
	}
	if c.MaxRetries < 1 {
		return Config{}, errors.New("max retries must be at least 1")
	}
	if c.MaxToasts < 1 {
		return Config{}, errors.New("max toasts must be at least 1")
	}
	if c.RateLimit < 0 {
		return Config{}, errors.New("rate limit cannot be negative")
	}
	return c, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
