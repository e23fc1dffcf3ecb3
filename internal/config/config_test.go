package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.AppPort)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "news.db", cfg.DBDSN)
	assert.Equal(t, "@every 1m", cfg.CronSpec)
	assert.Equal(t, 60*time.Second, cfg.RenderTimeout)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
	assert.Equal(t, 10*time.Second, cfg.Pause)
	assert.Equal(t, 3*time.Second, cfg.SendInterval)
	assert.Equal(t, "https://api.telegram.org", cfg.TelegramAPI)
	assert.False(t, cfg.DryRun)

	assert.NoError(t, cfg.Validate(false))
	assert.Error(t, cfg.Validate(true), "telegram credentials are required for delivery")
}

func TestLoadReadsAuthAndPorts(t *testing.T) {
	t.Setenv("APP_PORT", "1234")
	t.Setenv("APP_BASIC_USER", "user")
	t.Setenv("APP_BASIC_PASS", "pass")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHANNEL_ID", "@trek")
	t.Setenv("DELIVERY_PAUSE", "1m30s")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "1234", cfg.AppPort)
	assert.Equal(t, "user", cfg.BasicAuthUser)
	assert.Equal(t, "pass", cfg.BasicAuthPass)
	assert.Equal(t, 90*time.Second, cfg.Pause)
	assert.NoError(t, cfg.Validate(true))
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("CRON_SPEC", "@every 5m")

	cfg, err := Load([]string{"--cron", "*/10 * * * *", "--db-driver", "postgres", "--dry-run"})
	require.NoError(t, err)
	assert.Equal(t, "*/10 * * * *", cfg.CronSpec)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.True(t, cfg.DryRun)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	_, err := Load([]string{"--db-driver", "mysql"})
	assert.Error(t, err)
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"--help"})
	assert.ErrorIs(t, err, ErrHelp)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SOURCES_FILE=/etc/newsrelay/sources.yaml\nFETCH_WORKERS=2\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() {
		_ = os.Unsetenv("SOURCES_FILE")
		_ = os.Unsetenv("FETCH_WORKERS")
	})

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/etc/newsrelay/sources.yaml", cfg.SourcesFile)
	assert.Equal(t, 2, cfg.FetchWorkers)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(nil)
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.CronSpec = "whenever"
	assert.Error(t, cfg.Validate(false))

	cfg = base()
	cfg.MaxAttempts = 0
	assert.Error(t, cfg.Validate(false))

	cfg = base()
	cfg.BasicAuthUser = "only-user"
	assert.Error(t, cfg.Validate(false))

	cfg = base()
	cfg.RenderTimeout = 0
	assert.Error(t, cfg.Validate(false))
}
