package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUEUE_LOCK_BACKEND", "")
	t.Setenv("QUEUE_GRACE_PERIOD_MINUTES", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.Engine.GracePeriodMinutes)
	assert.Equal(t, 2, cfg.Engine.ReactivationWindowHours)
	assert.True(t, cfg.Engine.AutoMarkNoShow)
	assert.Equal(t, "memory", cfg.Engine.LockBackend)
	assert.Equal(t, 24, cfg.Policies.Standard.CutoffHours)
	assert.Equal(t, 100, cfg.Policies.Standard.RefundPercentage)
	assert.Equal(t, 30*time.Second, cfg.App.RequestTimeout())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_GRACE_PERIOD_MINUTES", "20")
	t.Setenv("QUEUE_NO_SHOW_SWEEP_INTERVAL", "30s")
	t.Setenv("QUEUE_LOCK_BACKEND", "redis")
	t.Setenv("POLICY_PREMIUM_FEE", "12.5")
	t.Setenv("APP_TIMEZONE", "Asia/Kolkata")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Engine.GracePeriodMinutes)
	assert.Equal(t, 30*time.Second, cfg.Engine.SweepInterval)
	assert.Equal(t, "redis", cfg.Engine.LockBackend)
	assert.InDelta(t, 12.5, cfg.Policies.Premium.CancellationFee, 0.001)
	assert.Equal(t, "Asia/Kolkata", cfg.App.Location().String())
}

func TestLoadRejectsUnknownLockBackend(t *testing.T) {
	t.Setenv("QUEUE_LOCK_BACKEND", "etcd")
	_, err := Load()
	assert.Error(t, err)
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("QUEUE_REACTIVATION_WINDOW_HOURS", "two")
	t.Setenv("QUEUE_LOCK_BACKEND", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Engine.ReactivationWindowHours)
}
