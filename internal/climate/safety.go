package climate

import (
	"errors"
	"fmt"
)

// SafetyConfig holds the danger thresholds for the safety override.
type SafetyConfig struct {
	Enabled    bool    `json:"enabled"`
	MinTemp    float64 `json:"min_temp"`
	MaxTemp    float64 `json:"max_temp"`
	Hysteresis float64 `json:"hysteresis"`
}

var (
	ErrSafetyBounds     = errors.New("safety min_temp must be below max_temp")
	ErrSafetyHysteresis = errors.New("safety hysteresis must be >= 0 and below half the min/max span")
)

// Validate rejects configurations that would make the override bands overlap
// or invert. Invalid configs are never applied.
func (c SafetyConfig) Validate() error {
	if c.MinTemp >= c.MaxTemp {
		return fmt.Errorf("%w: min=%.1f max=%.1f", ErrSafetyBounds, c.MinTemp, c.MaxTemp)
	}
	if c.Hysteresis < 0 || c.Hysteresis >= (c.MaxTemp-c.MinTemp)/2 {
		return fmt.Errorf("%w: hysteresis=%.2f span=%.2f", ErrSafetyHysteresis, c.Hysteresis, c.MaxTemp-c.MinTemp)
	}
	return nil
}

// SafetyStatus is the safety override state. Transitions happen only inside
// SafetyEngine.Evaluate.
type SafetyStatus string

const (
	SafetyInactive     SafetyStatus = "inactive"
	SafetyHeatOverride SafetyStatus = "heat_override"
	SafetyCoolOverride SafetyStatus = "cool_override"
)

// SafetyResult is the outcome of one evaluation. Command is nil when the
// engine has nothing to say. Triggered/Recovered mark the transition edges so
// the caller can notify exactly once per transition.
type SafetyResult struct {
	Status    SafetyStatus
	Command   *Command
	Triggered bool
	Recovered bool
}

// SafetyEngine evaluates temperature readings against the configured
// thresholds while the device is off. The hysteresis band keeps the recovery
// threshold strictly away from the trigger threshold, so the override cannot
// oscillate around a single line.
type SafetyEngine struct {
	cfg    SafetyConfig
	status SafetyStatus
}

// NewSafetyEngine creates an engine with a validated configuration.
func NewSafetyEngine(cfg SafetyConfig) (*SafetyEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SafetyEngine{cfg: cfg, status: SafetyInactive}, nil
}

// Config returns the current configuration.
func (e *SafetyEngine) Config() SafetyConfig {
	return e.cfg
}

// Status returns the current override status.
func (e *SafetyEngine) Status() SafetyStatus {
	return e.status
}

// SetConfig replaces the configuration. Invalid configs are rejected without
// touching the current one.
func (e *SafetyEngine) SetConfig(cfg SafetyConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// Restore sets the override status from persisted state.
func (e *SafetyEngine) Restore(status SafetyStatus) {
	switch status {
	case SafetyHeatOverride, SafetyCoolOverride:
		e.status = status
	default:
		e.status = SafetyInactive
	}
}

// Evaluate runs one step of the override state machine.
//
// While inactive: temperatures below MinTemp activate heating at
// MinTemp+Hysteresis, above MaxTemp activate cooling at MaxTemp-Hysteresis.
// While active: the same command is re-emitted until the temperature clears
// the recovery threshold, at which point an off command is produced.
// Disabled safety or a device that is not off always resolves to inactive.
func (e *SafetyEngine) Evaluate(currentTemp float64, deviceOff bool) SafetyResult {
	if !e.cfg.Enabled || !deviceOff {
		// Reset silently: the user (or schedule) turned the device on,
		// there is nothing to recover from.
		e.status = SafetyInactive
		return SafetyResult{Status: SafetyInactive}
	}
	if e.cfg.MinTemp >= e.cfg.MaxTemp {
		// Guard against a config that bypassed validation. Refuse to
		// activate rather than guess which bound the user meant.
		e.status = SafetyInactive
		return SafetyResult{Status: SafetyInactive}
	}

	switch e.status {
	case SafetyHeatOverride:
		if currentTemp >= e.cfg.MinTemp+e.cfg.Hysteresis {
			e.status = SafetyInactive
			cmd := Off()
			return SafetyResult{Status: SafetyInactive, Command: &cmd, Recovered: true}
		}
		cmd := HeatAt(e.cfg.MinTemp + e.cfg.Hysteresis)
		return SafetyResult{Status: SafetyHeatOverride, Command: &cmd}

	case SafetyCoolOverride:
		if currentTemp <= e.cfg.MaxTemp-e.cfg.Hysteresis {
			e.status = SafetyInactive
			cmd := Off()
			return SafetyResult{Status: SafetyInactive, Command: &cmd, Recovered: true}
		}
		cmd := CoolAt(e.cfg.MaxTemp - e.cfg.Hysteresis)
		return SafetyResult{Status: SafetyCoolOverride, Command: &cmd}

	default:
		if currentTemp < e.cfg.MinTemp {
			e.status = SafetyHeatOverride
			cmd := HeatAt(e.cfg.MinTemp + e.cfg.Hysteresis)
			return SafetyResult{Status: SafetyHeatOverride, Command: &cmd, Triggered: true}
		}
		if currentTemp > e.cfg.MaxTemp {
			e.status = SafetyCoolOverride
			cmd := CoolAt(e.cfg.MaxTemp - e.cfg.Hysteresis)
			return SafetyResult{Status: SafetyCoolOverride, Command: &cmd, Triggered: true}
		}
		return SafetyResult{Status: SafetyInactive}
	}
}
