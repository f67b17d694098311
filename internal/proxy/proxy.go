// Package proxy abstracts the underlying thermostat device. The coordinator
// reads the device state every tick and sends commands only when arbitration
// decides to; retrying against the physical device is the driver's concern,
// not the coordinator's.
package proxy

import (
	"context"
	"errors"

	"github.com/dokzlo13/thermod/internal/climate"
)

// ErrDeviceUnavailable is returned when the device cannot be reached. The
// caller keeps its desired command and retries on the next tick.
var ErrDeviceUnavailable = errors.New("device unavailable")

// State is the device snapshot read on every tick.
type State struct {
	CurrentTemperature float64
	Mode               climate.Mode
	Action             climate.Action
	Available          bool
}

// Off reports whether the device is currently in off mode. The safety engine
// only arms while the device is off.
func (s State) Off() bool {
	return s.Mode == climate.ModeOff
}

// Proxy is the device driver contract.
type Proxy interface {
	// ReadState returns the latest known device state.
	ReadState(ctx context.Context) (State, error)

	// SendCommand pushes a mode/target command to the device.
	SendCommand(ctx context.Context, cmd climate.Command) error
}
