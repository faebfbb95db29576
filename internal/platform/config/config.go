package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures everything the server reads from the environment so main
// stays lean.
type Config struct {
	Addr          string
	JWTSigningKey string
	TokenTTL      time.Duration

	// AdminAPIToken guards the operational admin endpoints in addition to
	// the admin role. Empty disables the extra check.
	AdminAPIToken string

	// PostgresURL empty selects the in-memory store.
	PostgresURL string

	Redis RedisConfig

	Ledger LedgerConfig

	TallyCacheTTL time.Duration
}

// RedisConfig holds the optional shared-cache connection.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LedgerConfig points at the vote ledger contract. Empty RPCURL runs the
// server against the in-process fake, which is only useful in development.
type LedgerConfig struct {
	RPCURL          string
	ContractAddress string
	AdminKeyHex     string
}

// FromEnv builds the configuration from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:          envOr("BALLOTGATE_ADDR", ":8080"),
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		TokenTTL:      envDuration("TOKEN_TTL", time.Hour),
		AdminAPIToken: os.Getenv("ADMIN_API_TOKEN"),
		PostgresURL:   os.Getenv("POSTGRES_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Ledger: LedgerConfig{
			RPCURL:          os.Getenv("LEDGER_RPC_URL"),
			ContractAddress: os.Getenv("LEDGER_CONTRACT_ADDRESS"),
			AdminKeyHex:     os.Getenv("LEDGER_ADMIN_KEY"),
		},
		TallyCacheTTL: envDuration("TALLY_CACHE_TTL", 15*time.Second),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
