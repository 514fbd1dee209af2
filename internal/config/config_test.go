package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, []string{"snippet-events", "message-events", "notification-commands"}, cfg.Kafka.Topics)
	assert.Equal(t, 30*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, 3, cfg.Client.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Client.MaxBackoff)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARDA_RT_CLIENT_DRAIN_INTERVAL", "5s")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Client.DrainInterval)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal")
}
