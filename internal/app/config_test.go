package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, SyncModeInline, cfg.SyncMode)
	require.Equal(t, 5*time.Second, cfg.SyncFetchTimeout)
	require.Equal(t, 10*time.Second, cfg.SyncPostTimeout)
	require.InDelta(t, 1.10, cfg.OverheadMultiplier, 1e-9)
	require.Equal(t, "*/15 * * * *", cfg.ReconcileCron)
	require.False(t, cfg.QueueMode())
}

func TestLoadConfigRejectsBadSettings(t *testing.T) {
	t.Setenv("SYNC_MODE", "kafka")
	t.Setenv("OVERHEAD_MULTIPLIER", "0.5")
	_, err := LoadConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "SYNC_MODE")
	require.Contains(t, err.Error(), "OVERHEAD_MULTIPLIER")
}

func TestProductionRequiresAdminToken(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "ADMIN_TOKEN")

	t.Setenv("ADMIN_TOKEN", "s3cret")
	t.Setenv("SYNC_MODE", "QUEUE")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.QueueMode())
}

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("module", "SALES"))
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.True(t, strings.HasPrefix(out, "{"))
	require.Contains(t, out, `"module":"SALES"`)
}

func TestInTestModeFollowsEnvironment(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestAsynqRedisParsesURL(t *testing.T) {
	cfg := &Config{RedisAddr: "redis://:pw@queue:6390/3"}
	opt, err := cfg.AsynqRedis()
	require.NoError(t, err)
	require.Equal(t, "queue:6390", opt.Addr)
	require.Equal(t, "pw", opt.Password)
	require.Equal(t, 3, opt.DB)
}
