package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Store     StoreConfig
	Cache     CacheConfig
	Admin     AdminConfig
	Reconcile ReconcileConfig
}

type ServerConfig struct {
	Port            string
	GinMode         string
	Env             string
	CORSOrigin      string
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level string
}

// StoreConfig selects the persistence backends. An empty RemoteDSN disables
// the remote store.
type StoreConfig struct {
	RemoteDriver   string
	RemoteDSN      string
	RemoteTimeout  time.Duration
	DataFile       string
	SeedScrapTypes bool
}

// CacheConfig configures the token cache. An empty RedisURL disables it.
type CacheConfig struct {
	RedisURL string
	TokenTTL time.Duration
}

type AdminConfig struct {
	Phones []string
}

// ReconcileConfig sets the periodic reconciliation interval; zero means
// startup and on demand only.
type ReconcileConfig struct {
	Interval time.Duration
}

// Load reads the environment, after loading a .env file when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			GinMode:         getEnv("GIN_MODE", ""),
			Env:             getEnv("APP_ENV", "development"),
			CORSOrigin:      getEnv("CORS_ORIGIN", "*"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			RemoteDriver:   getEnv("REMOTE_DRIVER", "postgres"),
			RemoteDSN:      getEnv("REMOTE_DSN", ""),
			RemoteTimeout:  getEnvAsDuration("REMOTE_TIMEOUT", 5*time.Second),
			DataFile:       getEnv("DATA_FILE", "./data/db.json"),
			SeedScrapTypes: getEnvAsBool("SEED_SCRAP_TYPES", true),
		},
		Cache: CacheConfig{
			RedisURL: getEnv("REDIS_URL", ""),
			TokenTTL: getEnvAsDuration("TOKEN_CACHE_TTL", 24*time.Hour),
		},
		Admin: AdminConfig{
			Phones: getEnvAsList("ADMIN_PHONES"),
		},
		Reconcile: ReconcileConfig{
			Interval: getEnvAsDuration("RECONCILE_INTERVAL", 0),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
