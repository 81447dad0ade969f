package server

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, "10s", cfg.ShutdownTimeout)
	assert.Equal(t, 3, cfg.Scheduler.MaxSuspendRetries)
	assert.Equal(t, 3, cfg.Scheduler.MaxReadRetries)
	assert.Equal(t, "./gostage.db", cfg.Metadata.SQLite.Path)
	require.Len(t, cfg.MediaTypes, 2)
	assert.Equal(t, "T10K-T2", cfg.MediaTypes[0].Name)
}

func TestLoadServerConfigOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("scheduler.max_suspend_retries", 7)
	viper.Set("scheduler.activator_interval", "250ms")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Scheduler.MaxSuspendRetries)
	assert.Equal(t, 250*time.Millisecond, Duration(cfg.Scheduler.ActivatorInterval, time.Second))
}

func TestValidate(t *testing.T) {
	cfg := GetServerDefault()
	require.NoError(t, cfg.Validate())

	dup := GetServerDefault()
	dup.MediaTypes = append(dup.MediaTypes, dup.MediaTypes[0])
	assert.Error(t, dup.Validate())

	share := GetServerDefault()
	share.MediaTypes[0].Allocations["atlas"] = 1.5
	assert.Error(t, share.Validate())

	drives := GetServerDefault()
	drives.MediaTypes[1].Drives = -1
	assert.Error(t, drives.Validate())
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("soon", time.Minute))
	assert.Equal(t, time.Minute, Duration("-3s", time.Minute))
}
