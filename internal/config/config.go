package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Graph    GraphConfig    `yaml:"graph"`
	Logging  LoggingConfig  `yaml:"logging"`
	Redis    RedisConfig    `yaml:"redis"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Session  SessionConfig  `yaml:"session"`
	Events   EventsConfig   `yaml:"events"`
	Cache    CacheConfig    `yaml:"cache"`
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MetricsEnabled    bool          `yaml:"metrics_enabled"`
	AllowedOriginsCSV string        `yaml:"allowed_origins"`
}

// GraphConfig describes connectivity to the Neo4j projection store. An empty
// URI disables the stored-graph endpoints.
type GraphConfig struct {
	URI            string `yaml:"uri"`
	Database       string `yaml:"database"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxConnections int    `yaml:"max_connections"`
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"` // text|json
	IncludeCaller bool   `yaml:"include_caller"`
}

// RedisConfig points at the session and idempotency store. An empty Addr
// falls back to in-process storage.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

// UpstreamConfig lists the base URLs of the services this backend fronts.
type UpstreamConfig struct {
	AuthURL    string        `yaml:"auth_url"`
	LedgerURL  string        `yaml:"ledger_url"`
	AuditorURL string        `yaml:"auditor_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RateLimit  float64       `yaml:"rate_limit"` // requests per second, per service
	Burst      int           `yaml:"burst"`
}

// SessionConfig controls bearer token handling.
type SessionConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TTL       time.Duration `yaml:"ttl"`
}

// EventsConfig configures the ledger Socket.IO subscription. An empty URL
// disables it.
type EventsConfig struct {
	LedgerSocketURL string `yaml:"ledger_socket_url"`
	Namespace       string `yaml:"namespace"`
}

// CacheConfig bounds read-through caches.
type CacheConfig struct {
	ChainTTL time.Duration `yaml:"chain_ttl"`
}

const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8080
	defaultReadTimeout      = 10 * time.Second
	defaultWriteTimeout     = 15 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultLoggingLevel     = "info"
	defaultLoggingFormat    = "text"
	defaultGraphMaxSessions = 10
	defaultAuthURL          = "http://localhost:5005"
	defaultLedgerURL        = "http://localhost:5000"
	defaultAuditorURL       = "http://localhost:5004"
	defaultUpstreamTimeout  = 10 * time.Second
	defaultRateLimit        = 20
	defaultBurst            = 40
	defaultSessionTTL       = 2 * time.Hour
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultChainTTL         = 5 * time.Second
	defaultEventsNamespace  = "/"
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Host:            defaultHost,
			Port:            defaultPort,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			IdleTimeout:     defaultIdleTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  defaultLoggingLevel,
			Format: defaultLoggingFormat,
		},
		Graph: GraphConfig{
			MaxConnections: defaultGraphMaxSessions,
		},
		Redis: RedisConfig{
			IdempotencyTTL: defaultIdempotencyTTL,
		},
		Upstream: UpstreamConfig{
			AuthURL:    defaultAuthURL,
			LedgerURL:  defaultLedgerURL,
			AuditorURL: defaultAuditorURL,
			Timeout:    defaultUpstreamTimeout,
			RateLimit:  defaultRateLimit,
			Burst:      defaultBurst,
		},
		Session: SessionConfig{
			TTL: defaultSessionTTL,
		},
		Events: EventsConfig{
			Namespace: defaultEventsNamespace,
		},
		Cache: CacheConfig{
			ChainTTL: defaultChainTTL,
		},
	}
}

// Load reads configuration from the optional YAML file named by CONFIG_FILE,
// then applies environment variable overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTP.Host = valueOrDefault("SERVER_HOST", cfg.HTTP.Host)

	port, err := parsePort("SERVER_PORT", cfg.HTTP.Port)
	if err != nil {
		return err
	}
	cfg.HTTP.Port = port

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
		{"UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout},
		{"SESSION_TTL", &cfg.Session.TTL},
		{"IDEMPOTENCY_TTL", &cfg.Redis.IdempotencyTTL},
		{"CHAIN_CACHE_TTL", &cfg.Cache.ChainTTL},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	cfg.HTTP.MetricsEnabled = parseBoolWithDefault("SERVER_METRICS_ENABLED", cfg.HTTP.MetricsEnabled)
	cfg.HTTP.AllowedOriginsCSV = valueOrDefault("SERVER_ALLOWED_ORIGINS", cfg.HTTP.AllowedOriginsCSV)

	cfg.Logging.Level = valueOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = valueOrDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.IncludeCaller = parseBoolWithDefault("LOG_INCLUDE_CALLER", cfg.Logging.IncludeCaller)

	cfg.Graph.URI = valueOrDefault("GRAPH_URI", cfg.Graph.URI)
	cfg.Graph.Database = valueOrDefault("GRAPH_DATABASE", cfg.Graph.Database)
	cfg.Graph.Username = valueOrDefault("GRAPH_USERNAME", cfg.Graph.Username)
	cfg.Graph.Password = valueOrDefault("GRAPH_PASSWORD", cfg.Graph.Password)
	cfg.Graph.MaxConnections = parseIntWithDefault("GRAPH_MAX_CONNECTIONS", cfg.Graph.MaxConnections)

	cfg.Redis.Addr = valueOrDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = valueOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = parseIntWithDefault("REDIS_DB", cfg.Redis.DB)

	cfg.Upstream.AuthURL = valueOrDefault("AUTH_SERVICE_URL", cfg.Upstream.AuthURL)
	cfg.Upstream.LedgerURL = valueOrDefault("LEDGER_SERVICE_URL", cfg.Upstream.LedgerURL)
	cfg.Upstream.AuditorURL = valueOrDefault("AUDITOR_SERVICE_URL", cfg.Upstream.AuditorURL)
	cfg.Upstream.RateLimit = parseFloatWithDefault("UPSTREAM_RATE_LIMIT", cfg.Upstream.RateLimit)
	cfg.Upstream.Burst = parseIntWithDefault("UPSTREAM_BURST", cfg.Upstream.Burst)

	cfg.Session.JWTSecret = valueOrDefault("JWT_SECRET", cfg.Session.JWTSecret)

	cfg.Events.LedgerSocketURL = valueOrDefault("LEDGER_SOCKET_URL", cfg.Events.LedgerSocketURL)
	cfg.Events.Namespace = valueOrDefault("LEDGER_SOCKET_NAMESPACE", cfg.Events.Namespace)

	return nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseFloatWithDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			return val
		}
	}
	return fallback
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
