package authcore

import (
	"log/slog"
	"time"

	"github.com/keygrove/authcore/instrumentation"
	redisstore "github.com/keygrove/authcore/storage/redis"
)

// Storage backend selector values. Matching is trimmed and case-insensitive.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds the authorization server core configuration
type Config struct {
	// Generators selects the value generator strategy per purpose.
	// Empty names fall back to the default strategy (uuid).
	Generators GeneratorConfig

	// StorageBackend selects the persistence backend: "memory" or "redis".
	// Trimmed and case-insensitive. Empty defaults to "memory".
	StorageBackend string

	// Redis holds connection parameters, required when StorageBackend
	// is "redis".
	Redis redisstore.Config

	// TicketTTL is how long an authorization code stays redeemable.
	// Default: 10 minutes.
	TicketTTL time.Duration

	// AccessTokenTTL is the lifetime of issued access tokens.
	// Default: 1 hour.
	AccessTokenTTL time.Duration

	// CleanupInterval is how often the memory backend sweeps expired
	// entries. Default: 1 minute. Ignored for the redis backend, which
	// uses native TTLs.
	CleanupInterval time.Duration

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Instrumentation enables OpenTelemetry metrics and tracing (optional)
	Instrumentation *instrumentation.Instrumentation
}

// GeneratorConfig names the value generator strategy for each generated
// value. The four instances are logically distinct so strategies can later
// differ per purpose.
type GeneratorConfig struct {
	// ClientID strategy name
	ClientID string

	// ClientSecret strategy name
	ClientSecret string

	// AuthorizationCode strategy name
	AuthorizationCode string

	// AccessToken strategy name
	AccessToken string
}

// applyDefaults fills unset configuration values
func applyDefaults(config *Config) *Config {
	if config.StorageBackend == "" {
		config.StorageBackend = BackendMemory
	}
	if config.TicketTTL == 0 {
		config.TicketTTL = 10 * time.Minute
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = time.Hour
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return config
}
