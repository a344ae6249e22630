package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string
	// RateLimitRequests is the per-client budget per RateLimitWindow; 0 disables.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
}

// Mongo configures the document store connection.
type Mongo struct {
	URI                    string
	Database               string
	MaxPoolSize            uint64
	ServerSelectionTimeout time.Duration
	ConnectRetries         int
	ConnectBackoff         time.Duration
}

// RedisConfig configures the optional page cache. An empty URL disables caching.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Vehicles configures the vehicle listing feature.
type Vehicles struct {
	StoreDriver    string
	MemorySeedFile string
	CacheTTL       time.Duration
}

// Config is the full process configuration.
type Config struct {
	Server   Server
	Mongo    Mongo
	Redis    RedisConfig
	Vehicles Vehicles
}

const (
	StoreDriverMongo  = "mongo"
	StoreDriverMemory = "memory"
)

// LoadDotEnv loads variables from the given .env files without overriding the
// process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var errs []error

	cfg := Config{
		Server: Server{
			Addr:           envString("VEHICLE_API_ADDR", ":8000"),
			RequestTimeout: envDuration("REQUEST_TIMEOUT", 30*time.Second, &errs),
			LogLevel:       envString("LOG_LEVEL", "INFO"),
			LogFormat:      envString("LOG_FORMAT", "json"),

			RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 600, &errs),
			RateLimitWindow:   envDuration("RATE_LIMIT_WINDOW", time.Minute, &errs),
			TrustProxyHeaders: envBool("TRUST_PROXY_HEADERS", false, &errs),
		},
		Mongo: Mongo{
			URI:                    envString("MONGODB_URI", "mongodb://localhost:27017"),
			Database:               envString("MONGODB_DATABASE", "vehicle_info"),
			MaxPoolSize:            uint64(envInt("MONGODB_MAX_POOL_SIZE", 50, &errs)),
			ServerSelectionTimeout: envDuration("MONGODB_SERVER_SELECTION_TIMEOUT", 5*time.Second, &errs),
			ConnectRetries:         envInt("MONGODB_CONNECT_RETRIES", 3, &errs),
			ConnectBackoff:         envDuration("MONGODB_CONNECT_BACKOFF", 2*time.Second, &errs),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10, &errs),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2, &errs),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second, &errs),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 5*time.Second, &errs),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 5*time.Second, &errs),
		},
		Vehicles: Vehicles{
			StoreDriver:    envString("STORE_DRIVER", StoreDriverMongo),
			MemorySeedFile: os.Getenv("MEMORY_SEED_FILE"),
			CacheTTL:       envDuration("VEHICLE_CACHE_TTL", 60*time.Second, &errs),
		},
	}

	switch cfg.Vehicles.StoreDriver {
	case StoreDriverMongo, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unsupported driver %q", cfg.Vehicles.StoreDriver))
	}
	if cfg.Server.RateLimitRequests < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_REQUESTS: must not be negative"))
	}
	if cfg.Server.RateLimitRequests > 0 && cfg.Server.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW: must be positive"))
	}
	if cfg.Mongo.ConnectRetries < 1 {
		errs = append(errs, fmt.Errorf("MONGODB_CONNECT_RETRIES: must be at least 1"))
	}

	return cfg, errors.Join(errs...)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func envBool(key string, fallback bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}
