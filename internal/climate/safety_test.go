package climate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSafetyConfig() SafetyConfig {
	return SafetyConfig{Enabled: true, MinTemp: 10, MaxTemp: 30, Hysteresis: 0.5}
}

func TestSafetyConfigValidate(t *testing.T) {
	assert.NoError(t, validSafetyConfig().Validate())

	cfg := validSafetyConfig()
	cfg.MinTemp = 30
	assert.ErrorIs(t, cfg.Validate(), ErrSafetyBounds)

	cfg = validSafetyConfig()
	cfg.MinTemp = 31
	assert.ErrorIs(t, cfg.Validate(), ErrSafetyBounds)

	cfg = validSafetyConfig()
	cfg.Hysteresis = -0.1
	assert.ErrorIs(t, cfg.Validate(), ErrSafetyHysteresis)

	// Half the span would let the override bands overlap.
	cfg = validSafetyConfig()
	cfg.Hysteresis = 10
	assert.ErrorIs(t, cfg.Validate(), ErrSafetyHysteresis)
}

func TestSafetyHeatOverrideLifecycle(t *testing.T) {
	eng, err := NewSafetyEngine(validSafetyConfig())
	require.NoError(t, err)

	// 9.9 -> trigger, 10.2 -> still active (below recovery line), 10.6 -> recovered.
	res := eng.Evaluate(9.9, true)
	require.Equal(t, SafetyHeatOverride, res.Status)
	require.NotNil(t, res.Command)
	assert.Equal(t, ModeHeat, res.Command.Mode)
	assert.Equal(t, 10.5, *res.Command.TargetTemp)
	assert.True(t, res.Triggered)

	res = eng.Evaluate(10.2, true)
	require.Equal(t, SafetyHeatOverride, res.Status)
	require.NotNil(t, res.Command)
	assert.Equal(t, 10.5, *res.Command.TargetTemp)
	assert.False(t, res.Triggered, "re-evaluation while active must not re-trigger")

	res = eng.Evaluate(10.6, true)
	assert.Equal(t, SafetyInactive, res.Status)
	require.NotNil(t, res.Command)
	assert.Equal(t, ModeOff, res.Command.Mode)
	assert.True(t, res.Recovered)
}

func TestSafetyNoFlappingBelowRecoveryLine(t *testing.T) {
	eng, err := NewSafetyEngine(validSafetyConfig())
	require.NoError(t, err)

	res := eng.Evaluate(9.0, true)
	require.True(t, res.Triggered)

	// Arbitrarily many re-evaluations below min+hysteresis stay active.
	for _, temp := range []float64{9.5, 10.0, 10.49, 9.9, 10.3, 10.499} {
		res = eng.Evaluate(temp, true)
		assert.Equal(t, SafetyHeatOverride, res.Status, "temp %.3f", temp)
		assert.False(t, res.Triggered)
		assert.False(t, res.Recovered)
	}

	res = eng.Evaluate(10.5, true)
	assert.True(t, res.Recovered, "recovery threshold is min+hysteresis inclusive")
}

func TestSafetyCoolOverrideSymmetric(t *testing.T) {
	eng, err := NewSafetyEngine(validSafetyConfig())
	require.NoError(t, err)

	res := eng.Evaluate(30.4, true)
	assert.Equal(t, SafetyInactive, res.Status)

	res = eng.Evaluate(30.1, true)
	require.Equal(t, SafetyCoolOverride, res.Status)
	require.NotNil(t, res.Command)
	assert.Equal(t, ModeCool, res.Command.Mode)
	assert.Equal(t, 29.5, *res.Command.TargetTemp)
	assert.True(t, res.Triggered)

	res = eng.Evaluate(29.6, true)
	assert.Equal(t, SafetyCoolOverride, res.Status)

	res = eng.Evaluate(29.5, true)
	assert.Equal(t, SafetyInactive, res.Status)
	assert.True(t, res.Recovered)
}

func TestSafetyDisabledOrDeviceOn(t *testing.T) {
	cfg := validSafetyConfig()
	eng, err := NewSafetyEngine(cfg)
	require.NoError(t, err)

	// Device not off: never activates.
	res := eng.Evaluate(5.0, false)
	assert.Equal(t, SafetyInactive, res.Status)
	assert.Nil(t, res.Command)

	// Active override resets silently when the device is turned on.
	res = eng.Evaluate(5.0, true)
	require.True(t, res.Triggered)
	res = eng.Evaluate(5.0, false)
	assert.Equal(t, SafetyInactive, res.Status)
	assert.Nil(t, res.Command)
	assert.False(t, res.Recovered)

	// Disabled config never activates.
	cfg.Enabled = false
	require.NoError(t, eng.SetConfig(cfg))
	res = eng.Evaluate(5.0, true)
	assert.Equal(t, SafetyInactive, res.Status)
	assert.Nil(t, res.Command)
}

func TestSafetySetConfigRejectsInvalid(t *testing.T) {
	eng, err := NewSafetyEngine(validSafetyConfig())
	require.NoError(t, err)

	bad := SafetyConfig{Enabled: true, MinTemp: 20, MaxTemp: 10, Hysteresis: 0.5}
	assert.Error(t, eng.SetConfig(bad))
	assert.Equal(t, validSafetyConfig(), eng.Config(), "rejected config must not be applied")
}
