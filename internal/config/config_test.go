package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "med_reminder.db", cfg.DatabaseURL)
	assert.Equal(t, 30, cfg.HorizonDays)
	assert.Equal(t, 0, cfg.LeadMinutes)
	assert.Equal(t, 15*time.Minute, cfg.SnoozeDelay)
	assert.Equal(t, 3, cfg.RetryMax)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, "memory", cfg.Realtime.Backend)
}

func TestLoad_RequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "token")
	t.Setenv("HORIZON_DAYS", "7")
	t.Setenv("SNOOZE_MINUTES", "5")
	t.Setenv("RETRY_DELAY", "250ms")
	t.Setenv("REALTIME_BACKEND", "Redis")
	t.Setenv("TZ_NAME", "Asia/Taipei")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.HorizonDays)
	assert.Equal(t, 5*time.Minute, cfg.SnoozeDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, "redis", cfg.Realtime.Backend)
	assert.Equal(t, "Asia/Taipei", cfg.Location().String())
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "token")
	t.Setenv("REALTIME_BACKEND", "kafka")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_EnvFileFillsUnsetVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.env")
	require.NoError(t, os.WriteFile(path, []byte("TELEGRAM_TOKEN=from-file\nHORIZON_DAYS=7\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("HORIZON_DAYS", "14")
	os.Unsetenv("TELEGRAM_TOKEN")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.TelegramToken)
	assert.Equal(t, 14, cfg.HorizonDays)
}
