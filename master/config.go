package main

import (
	"fmt"
	"os"
	"time"
)

// Config is the Master's env-var configuration surface, in the teacher's
// fmt.Sscanf-from-os.Getenv style rather than a flags/viper dependency.
type Config struct {
	ListenAddr string

	PostgresDSN string // empty selects the in-memory store
	RedisAddr   string // empty disables Redis-backed pairing/coordination

	KeyPairPath string
	KeyBits     int

	SessionTTL        time.Duration
	WorkerIdleTimeout time.Duration

	// HA extension: empty NodeID disables leader election and runs this
	// Master as a standalone instance.
	NodeID       string
	LeaseTTL     time.Duration
	JanitorEvery time.Duration
}

func loadConfig() Config {
	cfg := Config{
		ListenAddr:        getEnv("PYDRA_LISTEN_ADDR", ":8080"),
		PostgresDSN:       os.Getenv("PYDRA_POSTGRES_DSN"),
		RedisAddr:         os.Getenv("PYDRA_REDIS_ADDR"),
		KeyPairPath:       getEnv("PYDRA_KEYPAIR_PATH", "pydra_master.key"),
		KeyBits:           2048,
		SessionTTL:        2 * time.Minute,
		WorkerIdleTimeout: 60 * time.Second,
		NodeID:            os.Getenv("PYDRA_NODE_ID"),
		LeaseTTL:          30 * time.Second,
		JanitorEvery:      60 * time.Second,
	}

	if v := os.Getenv("PYDRA_KEY_BITS"); v != "" {
		var bits int
		if _, err := fmt.Sscanf(v, "%d", &bits); err == nil && bits > 0 {
			cfg.KeyBits = bits
		}
	}
	if v := os.Getenv("PYDRA_SESSION_TTL_SECONDS"); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
			cfg.SessionTTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("PYDRA_WORKER_IDLE_TIMEOUT_SECONDS"); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
			cfg.WorkerIdleTimeout = time.Duration(secs) * time.Second
		}
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
