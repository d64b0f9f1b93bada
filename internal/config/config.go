package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cwfork/internal/retry"
)

type Config struct {
	// LCD (REST) endpoint of the chain to fork
	LCDURL string

	// Optional CometBFT RPC endpoint, used for status and block headers
	CometRPCURL string

	// Height to fork at ( 0 means latest )
	ForkHeight uint64

	// Bech32 prefix of the chain, e.g. "wasm", "osmo", "juno"
	Bech32Prefix string

	// Maximum sub-message and query nesting
	MaxCallDepth int

	// Log level: debug, info, warn, error
	LogLevel string

	// Port of the HTTP API served by `cwfork serve`
	APIPort int

	// Postgres connection string. Takes precedence over CacheDir when set.
	DatabaseURL string

	// LevelDB directory for the remote cache and the simulation archive
	CacheDir string

	// Number of compiled wasm modules kept in memory
	CodeCacheSize int

	// HTTP timeout for chain requests, in seconds
	HTTPTimeoutSec int

	Retry retry.Config
}

// Load reads the configuration from environment variables
func Load() *Config {
	return &Config{
		LCDURL:         getEnv("LCD_URL", ""),
		CometRPCURL:    getEnv("COMET_RPC_URL", ""),
		ForkHeight:     getEnvAsUint64("FORK_HEIGHT", 0),
		Bech32Prefix:   getEnv("BECH32_PREFIX", "wasm"),
		MaxCallDepth:   getEnvAsInt("MAX_CALL_DEPTH", 10),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		APIPort:        getEnvAsInt("API_PORT", 8080),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		CacheDir:       getEnv("CACHE_DIR", ""),
		CodeCacheSize:  getEnvAsInt("CODE_CACHE_SIZE", 64),
		HTTPTimeoutSec: getEnvAsInt("HTTP_TIMEOUT_SEC", 30),
		Retry:          loadRetry(),
	}
}

// loadRetry reads RETRY_*. RETRY_ENABLED=false clears MaxRetries.
func loadRetry() retry.Config {
	def := retry.DefaultConfig()
	cfg := retry.Config{
		MaxRetries:   getEnvAsInt("RETRY_MAX_RETRIES", def.MaxRetries),
		InitialDelay: time.Duration(getEnvAsInt("RETRY_INITIAL_DELAY_MS", int(def.InitialDelay/time.Millisecond))) * time.Millisecond,
		MaxDelay:     time.Duration(getEnvAsInt("RETRY_MAX_DELAY_MS", int(def.MaxDelay/time.Millisecond))) * time.Millisecond,
	}
	if !getEnvAsBool("RETRY_ENABLED", true) {
		cfg.MaxRetries = 0
	}
	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.LCDURL == "" {
		return fmt.Errorf("LCD_URL is required")
	}
	if !strings.HasPrefix(c.LCDURL, "http://") && !strings.HasPrefix(c.LCDURL, "https://") {
		return fmt.Errorf("LCD_URL must be an http(s) URL, got %q", c.LCDURL)
	}
	if c.Bech32Prefix == "" {
		return fmt.Errorf("BECH32_PREFIX is required")
	}
	if c.MaxCallDepth <= 0 {
		return fmt.Errorf("MAX_CALL_DEPTH must be positive, got %d", c.MaxCallDepth)
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT out of range: %d", c.APIPort)
	}
	if c.CodeCacheSize <= 0 {
		return fmt.Errorf("CODE_CACHE_SIZE must be positive, got %d", c.CodeCacheSize)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// Helper: get int from env
func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

// Helper: get bool from env
func getEnvAsBool(key string, defaultVal bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

// Helper: get uint64 from env
func getEnvAsUint64(key string, defaultVal uint64) uint64 {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseUint(valStr, 10, 64)
	if err != nil {
		return defaultVal
	}
	return val
}
