package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all configuration for the settlement engine
type Config struct {
	Log LogConfig

	// Persistence
	Store            string
	PostgresDSN      string
	PostgresMaxConns int

	// Distributed locking; local locks are used when RedisAddr is empty
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	// Expiration sweep interval
	WatchInterval time.Duration

	// Oracle key used by the scenario runner to sign resolutions
	OraclePrivateKey string
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string
	Encoding    string
	Development bool
	Sampling    bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Log: LogConfig{
			Level:       getEnv("SETTLEMENT_LOG_LEVEL", "info"),
			Encoding:    getEnv("SETTLEMENT_LOG_ENCODING", "console"),
			Development: getEnvBool("SETTLEMENT_LOG_DEVELOPMENT", false),
			Sampling:    getEnvBool("SETTLEMENT_LOG_SAMPLING", false),
		},
		Store:            strings.ToLower(getEnv("SETTLEMENT_STORE", StoreMemory)),
		PostgresDSN:      getEnv("SETTLEMENT_POSTGRES_DSN", ""),
		PostgresMaxConns: getEnvInt("SETTLEMENT_POSTGRES_MAX_CONNS", 4),
		RedisAddr:        getEnv("SETTLEMENT_REDIS_ADDR", ""),
		RedisPassword:    getEnv("SETTLEMENT_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("SETTLEMENT_REDIS_DB", 0),
		LockTTL:          getEnvDuration("SETTLEMENT_LOCK_TTL", 30*time.Second),
		WatchInterval:    getEnvDuration("SETTLEMENT_WATCH_INTERVAL", 10*time.Second),
		OraclePrivateKey: getEnv("SETTLEMENT_ORACLE_PRIVATE_KEY", ""),
	}
}

// Validate checks the configuration for obvious mistakes
func (c *Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("SETTLEMENT_POSTGRES_DSN is required for the postgres store"))
		}
		if c.PostgresMaxConns <= 0 {
			errs = append(errs, errors.New("SETTLEMENT_POSTGRES_MAX_CONNS must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("SETTLEMENT_LOCK_TTL must be positive"))
	}
	if c.WatchInterval <= 0 {
		errs = append(errs, errors.New("SETTLEMENT_WATCH_INTERVAL must be positive"))
	}
	if c.RedisDB < 0 {
		errs = append(errs, errors.New("SETTLEMENT_REDIS_DB must not be negative"))
	}

	if c.OraclePrivateKey != "" {
		if _, err := crypto.HexToECDSA(strings.TrimPrefix(c.OraclePrivateKey, "0x")); err != nil {
			errs = append(errs, fmt.Errorf("SETTLEMENT_ORACLE_PRIVATE_KEY: %w", err))
		}
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("15s") or whole seconds ("15")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
