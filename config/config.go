package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	RedisURL   string

	// Domain is the serving origin label bound into challenge messages.
	Domain    string
	URI       string
	Statement string
	ChainIDs  []int64

	ChallengeTTL time.Duration
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	GracePeriod  time.Duration

	SweepInterval time.Duration

	// SignKeyPath points at a PEM-encoded ECDSA key for session tokens.
	// Empty means an ephemeral key is generated at startup.
	SignKeyPath string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":9000"),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		Domain:        getEnv("AUTH_DOMAIN", "localhost"),
		URI:           getEnv("AUTH_URI", "http://localhost:9000"),
		Statement:     getEnv("AUTH_STATEMENT", "Sign in to continue."),
		ChainIDs:      getEnvInts("AUTH_CHAIN_IDS", nil),
		ChallengeTTL:  getEnvDuration("CHALLENGE_TTL", 10*time.Minute),
		AccessTTL:     getEnvDuration("ACCESS_TTL", 5*time.Minute),
		RefreshTTL:    getEnvDuration("REFRESH_TTL", 120*time.Hour),
		GracePeriod:   getEnvDuration("ACCOUNT_GRACE_PERIOD", 7*24*time.Hour),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
		SignKeyPath:   getEnv("SIGN_KEY_PATH", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvInts(key string, fallback []int64) []int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return fallback
		}
		ids = append(ids, id)
	}
	return ids
}
