package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.APIAddr)
	require.Equal(t, "metadata_queue", cfg.QueueName)
	require.Equal(t, 1000, cfg.QueueMaxLength)
	require.Equal(t, "broker", cfg.PublisherBackend)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 1, cfg.PrefetchCount)
	require.Equal(t, 1_000_000, cfg.MaxPageSourceLength)
	require.Equal(t, time.Second, cfg.InitialBackoff)
	require.Equal(t, 30*time.Second, cfg.MaxBackoff)
	require.Equal(t, 10, cfg.MaxConnectionAttempts)
	require.Equal(t, 60*time.Second, cfg.ShutdownGrace)
	require.Equal(t, "metadata_inventory", cfg.DatabaseName)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_NAME", "other_queue")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("INITIAL_BACKOFF_SECONDS", "0.5")
	t.Setenv("PUBLISHER_BACKEND", "inmemory")
	t.Setenv("RL_ENABLED", "off")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "other_queue", cfg.QueueName)
	require.Equal(t, 5, cfg.MaxRetries)
	require.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	require.Equal(t, "inmemory", cfg.PublisherBackend)
	require.False(t, cfg.RLEnabled)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("MAX_RETRIES", "0")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("PUBLISHER_BACKEND", "kafka")
	_, err := Load()
	require.Error(t, err)
}

func TestGetSecondsIgnoresGarbage(t *testing.T) {
	t.Setenv("PUBLISH_CONFIRM_TIMEOUT_SECONDS", "soon")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, cfg.PublishConfirmTimeout)
}
