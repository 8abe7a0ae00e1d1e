package bootstrapping

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Rupali59/docbridge/pkg/config"
	"github.com/Rupali59/docbridge/pkg/failure"
)

// Backend names accepted by DOCBRIDGE_BACKEND.
const (
	BackendFirestore = "firestore"
	BackendMongo     = "mongodb"
	BackendBadger    = "badger"
	BackendMemory    = "memory"
)

// ConfigResolver reads settings from the environment, optionally seeded from
// a .env file.
type ConfigResolver struct{}

// NewConfigResolver creates a new ConfigResolver.
// It optionally loads environment variables from a .env file. Variables
// already set in the environment win.
func NewConfigResolver(envPath string) (*ConfigResolver, error) {
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	return &ConfigResolver{}, nil
}

// Get returns the value for a key, falling back to defaultValue if not found.
func (c *ConfigResolver) Get(key, defaultValue string) string {
	return config.GetEnv(key, defaultValue)
}

// Require returns the value for a key or errors if it is missing.
func (c *ConfigResolver) Require(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", failure.New(failure.Config, "missing required configuration key: %s", key)
	}
	return val, nil
}

// Config is the resolved startup configuration.
type Config struct {
	Env     string
	Debug   bool
	Backend string
	// CredentialsPath is a service-account key for firestore and a dotenv
	// file for mongodb.
	CredentialsPath string

	PoolSize          int
	PoolSizeDefaulted bool
	MaxExecutionTime  time.Duration
	SendTimeout       time.Duration

	WatchSetupTimeout time.Duration
	WatchMaxActive    int
	WatchMaxPending   int

	FirestoreProjectID string
	MongoDatabase      string
	BadgerDir          string
	RedisURL           string
	Port               string
}

// IsProduction reports whether APP_ENV selects production logging.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LoadConfig resolves Config from the environment and envPath. Every problem
// is reported at once as a single Config failure.
func LoadConfig(envPath string) (*Config, error) {
	r, err := NewConfigResolver(envPath)
	if err != nil {
		return nil, failure.Wrap(failure.Config, err)
	}

	var errs []error
	intVar := func(key string, def int) int {
		v, err := config.GetEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		} else if v <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %d", key, v))
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := config.GetEnvDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		} else if v <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %s", key, v))
		}
		return v
	}

	cfg := &Config{
		Env:                r.Get("APP_ENV", "development"),
		Debug:              config.GetEnvBool("DOCBRIDGE_DEBUG", false),
		Backend:            strings.ToLower(r.Get("DOCBRIDGE_BACKEND", BackendFirestore)),
		CredentialsPath:    config.FirstEnv("DOCBRIDGE_CREDENTIALS_PATH", "GOOGLE_APPLICATION_CREDENTIALS"),
		MaxExecutionTime:   durVar("DB_MAX_EXECUTION_TIME", 30*time.Second),
		SendTimeout:        durVar("DB_SEND_TIMEOUT", 59*time.Second),
		WatchSetupTimeout:  durVar("WATCH_SETUP_TIMEOUT", 10*time.Second),
		WatchMaxActive:     intVar("WATCH_MAX_ACTIVE", 256),
		WatchMaxPending:    intVar("WATCH_MAX_PENDING", 10000),
		FirestoreProjectID: r.Get("FIRESTORE_PROJECT_ID", ""),
		MongoDatabase:      r.Get("MONGODB_DATABASE", "docbridge"),
		BadgerDir:          r.Get("BADGER_DIR", ""),
		RedisURL:           r.Get("REDIS_URL", ""),
		Port:               r.Get("PORT", "8080"),
	}

	if os.Getenv("DB_THREAD_POOL_SIZE") == "" {
		cfg.PoolSize = 2 * runtime.NumCPU()
		cfg.PoolSizeDefaulted = true
	} else {
		cfg.PoolSize = intVar("DB_THREAD_POOL_SIZE", 0)
	}

	switch cfg.Backend {
	case BackendFirestore, BackendMongo:
		if cfg.CredentialsPath == "" {
			errs = append(errs, fmt.Errorf("DOCBRIDGE_CREDENTIALS_PATH is required for the %s backend", cfg.Backend))
		} else if _, err := os.Stat(cfg.CredentialsPath); err != nil {
			errs = append(errs, fmt.Errorf("credentials file: %w", err))
		}
	case BackendBadger, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("DOCBRIDGE_BACKEND: unknown backend %q", cfg.Backend))
	}

	if len(errs) > 0 {
		return nil, failure.Wrap(failure.Config, errors.Join(errs...))
	}
	return cfg, nil
}
