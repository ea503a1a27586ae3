package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 3, cfg.Browser.MaxAttempts)
	require.Equal(t, 50, cfg.Alerts.BatchSize)
	require.Equal(t, 15, cfg.Alerts.LeaseMinutes)
	require.Equal(t, 4, cfg.Alerts.MaxAttempts)
	require.Equal(t, 6, cfg.Alerts.IntervalHours)
	require.Equal(t, 3, cfg.Alerts.PaceSeconds)
	require.Equal(t, 1, cfg.Tracking.PaceSeconds)
	require.Equal(t, 20, cfg.WhatsApp.RatePerMinute)
	require.True(t, cfg.Browser.Headless)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("server:\n  port: 9999\nalerts:\n  batch_size: 10\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, 10, cfg.Alerts.BatchSize)
	// untouched defaults survive
	require.Equal(t, 4, cfg.Alerts.MaxAttempts)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Alerts.BatchSize = 0
	require.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Browser.MaxAttempts = -1
	require.Error(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "30s", cfg.Browser.NavTimeout().String())
	require.Equal(t, "15m0s", cfg.Alerts.Lease().String())
	require.Equal(t, "6h0m0s", cfg.Alerts.Interval().String())
	require.Equal(t, "3s", cfg.Alerts.Pace().String())
	require.Equal(t, "1s", cfg.Tracking.Pace().String())
}
