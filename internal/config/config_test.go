package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:3002", cfg.BackendURL)
	assert.Equal(t, "America/Sao_Paulo", cfg.ResetTimezone)
	assert.Equal(t, time.Second, cfg.WatchInterval)
	assert.Equal(t, 2*time.Second, cfg.TypingTimeout)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MAPLE_LISTEN_ADDR", ":9999")
	t.Setenv("MAPLE_DATA_DIR", "/tmp/maple-test")
	t.Setenv("MAPLE_WATCH_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "/tmp/maple-test", cfg.DataDir)
	assert.Equal(t, 250*time.Millisecond, cfg.WatchInterval)
}

func TestLoad_BadDurationRejected(t *testing.T) {
	t.Setenv("MAPLE_TYPING_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
}
