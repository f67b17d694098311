// Package climate contains the thermostat decision engines: safety override,
// weekly scheduling, command arbitration and usage accounting. All types are
// pure state machines with no I/O; the coordinator drives them from its event
// loop.
package climate

import "fmt"

// Mode is a commanded HVAC mode.
type Mode string

const (
	ModeHeat Mode = "heat"
	ModeCool Mode = "cool"
	ModeOff  Mode = "off"
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeHeat, ModeCool, ModeOff:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q: must be heat, cool or off", s)
}

// Action is what the underlying device reports it is actually doing.
// Distinct from Mode: a device in heat mode may be idle.
type Action string

const (
	ActionHeating Action = "heating"
	ActionCooling Action = "cooling"
	ActionIdle    Action = "idle"
	ActionOff     Action = "off"
)

// Command is the single value type exchanged between the engines and sent to
// the device proxy. TargetTemp is nil when the mode is off.
type Command struct {
	Mode       Mode
	TargetTemp *float64
}

// HeatAt returns a heat command with the given target temperature.
func HeatAt(temp float64) Command {
	return Command{Mode: ModeHeat, TargetTemp: &temp}
}

// CoolAt returns a cool command with the given target temperature.
func CoolAt(temp float64) Command {
	return Command{Mode: ModeCool, TargetTemp: &temp}
}

// Off returns an off command.
func Off() Command {
	return Command{Mode: ModeOff}
}

// Equal reports whether two commands would have the same effect on the device.
// Used for change detection: identical commands are never re-sent.
func (c Command) Equal(other Command) bool {
	if c.Mode != other.Mode {
		return false
	}
	if (c.TargetTemp == nil) != (other.TargetTemp == nil) {
		return false
	}
	if c.TargetTemp == nil {
		return true
	}
	return *c.TargetTemp == *other.TargetTemp
}

// String renders the command for logs.
func (c Command) String() string {
	if c.TargetTemp == nil {
		return string(c.Mode)
	}
	return fmt.Sprintf("%s@%.1f", c.Mode, *c.TargetTemp)
}
