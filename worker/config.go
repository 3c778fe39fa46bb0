package main

import (
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Config holds a worker process's identity and connection settings.
type Config struct {
	WorkerID    string
	MasterAddr  string
	KeyPairPath string
	KeyBits     int

	ReconnectMinBackoff time.Duration
	ReconnectMaxBackoff time.Duration
}

// LoadConfig builds the worker's configuration from the environment,
// generating and persisting a worker id the first time it runs.
func LoadConfig() *Config {
	workerID, err := getOrCreateWorkerID()
	if err != nil {
		log.Fatalf("failed to initialize worker id: %v", err)
	}

	return &Config{
		WorkerID:            workerID,
		MasterAddr:          getEnv("PYDRA_MASTER_ADDR", "ws://localhost:8080/worker/connect"),
		KeyPairPath:         getEnv("PYDRA_WORKER_KEYPAIR_PATH", "pydra_worker.key"),
		KeyBits:             2048,
		ReconnectMinBackoff: time.Second,
		ReconnectMaxBackoff: 30 * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getOrCreateWorkerID retrieves the existing worker id or generates and
// persists a new one under ~/.pydra/worker_id. The id is a
// node-host:port:core-index-shaped string in the original source (§3);
// since this worker doesn't bind a listening port, a random id plus
// hostname is used instead.
func getOrCreateWorkerID() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".pydra")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	idPath := filepath.Join(configDir, "worker_id")
	if data, err := os.ReadFile(idPath); err == nil && len(data) > 0 {
		return string(data), nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	id := fmt.Sprintf("%s:%s", hostname, randomSuffix())

	if err := os.WriteFile(idPath, []byte(id), 0600); err != nil {
		return "", fmt.Errorf("failed to save worker id to %s: %w", idPath, err)
	}
	return id, nil
}

func randomSuffix() string {
	b := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		log.Fatalf("failed to generate random worker suffix: %v", err)
	}
	return fmt.Sprintf("%x", b)
}
