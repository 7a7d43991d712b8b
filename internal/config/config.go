// Package config loads daemon configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the daemon needs to wire itself together.
type Config struct {
	ListenAddr    string        // local UI-facing HTTP server, e.g. ":8090"
	BackendURL    string        // remote REST backend, e.g. "http://localhost:3002"
	SocketURL     string        // remote realtime endpoint, e.g. "ws://localhost:3002/ws"
	DataDir       string        // where the local sqlite replica lives
	LogLevel      string        // "debug" | "info" | "warn" | "error"
	ResetTimezone string        // IANA zone anchoring the weekly buff reset
	WatchInterval time.Duration // local-store change poll interval
	TypingTimeout time.Duration // typing indicator auto-stop
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present; missing is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:    getEnv("MAPLE_LISTEN_ADDR", ":8090"),
		BackendURL:    getEnv("MAPLE_BACKEND_URL", "http://localhost:3002"),
		SocketURL:     getEnv("MAPLE_SOCKET_URL", "ws://localhost:3002/ws"),
		LogLevel:      getEnv("MAPLE_LOG_LEVEL", "info"),
		ResetTimezone: getEnv("MAPLE_RESET_TZ", "America/Sao_Paulo"),
	}

	var err error
	cfg.DataDir = os.Getenv("MAPLE_DATA_DIR")
	if cfg.DataDir == "" {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return nil, fmt.Errorf("resolve home directory: %w", herr)
		}
		cfg.DataDir = filepath.Join(home, ".maple-party")
	}

	cfg.WatchInterval, err = getEnvDuration("MAPLE_WATCH_INTERVAL", time.Second)
	if err != nil {
		return nil, err
	}
	cfg.TypingTimeout, err = getEnvDuration("MAPLE_TYPING_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
