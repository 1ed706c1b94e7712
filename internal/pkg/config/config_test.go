package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "nodeflow", cfg.App.Name)
	assert.Equal(t, 8090, cfg.Gateway.Port)
	assert.Equal(t, 5*time.Minute, cfg.Node.DefaultTimeout)
	assert.Equal(t, time.Minute, cfg.Approval.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.Archive.SweepInterval)
	assert.Equal(t, 30, cfg.Archive.RetentionDays)
	assert.Equal(t, 256, cfg.Event.SubscriberQueueDepth)
}

func TestLoadHonorsSweepIntervalOverrides(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("approval.sweepInterval", "30s")
	viper.Set("archive.sweepInterval", "10m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Approval.SweepInterval)
	assert.Equal(t, 10*time.Minute, cfg.Archive.SweepInterval)
}
