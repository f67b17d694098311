package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "device:\n  broker: tcp://localhost:1883\n"))
	require.NoError(t, err)

	assert.Equal(t, "./thermod.sqlite", cfg.Database.Path)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "thermod", cfg.Device.ClientID)
	assert.Equal(t, 30*time.Second, cfg.Device.PollInterval.Duration())
	assert.Equal(t, 5*time.Minute, cfg.Device.StateMaxAge.Duration())

	assert.True(t, cfg.Safety.SafetyEnabled())
	assert.Equal(t, 10.0, *cfg.Safety.MinTemp)
	assert.Equal(t, 30.0, *cfg.Safety.MaxTemp)
	assert.Equal(t, 0.5, *cfg.Safety.Hysteresis)

	assert.Equal(t, 90, cfg.Usage.RetentionDays)
	assert.Equal(t, 60*time.Second, cfg.Usage.FlushInterval.Duration())
	assert.Equal(t, 8085, cfg.API.Port)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout.Duration())
}

func TestLoadExplicitZeroSafetyValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
safety:
  enabled: true
  min_temp: 0
  max_temp: 35
  hysteresis: 0
`))
	require.NoError(t, err)

	// An explicit zero is a real setting (a frost guard at 0°C, no
	// hysteresis band), not an omission to be defaulted away.
	assert.Equal(t, 0.0, *cfg.Safety.MinTemp)
	assert.Equal(t, 35.0, *cfg.Safety.MaxTemp)
	assert.Equal(t, 0.0, *cfg.Safety.Hysteresis)
}

func TestLoadSafetyDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, "safety:\n  enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Safety.SafetyEnabled())
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("THERMOD_TEST_BROKER", "tcp://broker.local:1883")

	cfg, err := Load(writeConfig(t,
		"device:\n  broker: ${THERMOD_TEST_BROKER}\n  client_id: ${THERMOD_TEST_MISSING:fallback}\n"))
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker.local:1883", cfg.Device.Broker)
	assert.Equal(t, "fallback", cfg.Device.ClientID)
}

func TestLoadDurationParsing(t *testing.T) {
	cfg, err := Load(writeConfig(t, "device:\n  poll_interval: 15s\nusage:\n  flush_interval: 2m\n"))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Device.PollInterval.Duration())
	assert.Equal(t, 2*time.Minute, cfg.Usage.FlushInterval.Duration())

	_, err = Load(writeConfig(t, "device:\n  poll_interval: soon\n"))
	assert.Error(t, err)
}
