package proxy

import (
	"context"
	"sync"

	"github.com/dokzlo13/thermod/internal/climate"
)

// Fake is an in-memory device for test assertions.
type Fake struct {
	mu sync.Mutex

	// Current state returned by ReadState.
	State State

	// ReadError, if set, is returned by ReadState.
	ReadError error

	// SendError, if set, is returned by SendCommand.
	SendError error

	// Commands contains every command accepted by SendCommand.
	Commands []climate.Command
}

// NewFake creates a fake device in off mode at the given temperature.
func NewFake(temp float64) *Fake {
	return &Fake{State: State{
		CurrentTemperature: temp,
		Mode:               climate.ModeOff,
		Action:             climate.ActionOff,
		Available:          true,
	}}
}

// ReadState returns the configured state or error.
func (f *Fake) ReadState(_ context.Context) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return State{}, f.ReadError
	}
	return f.State, nil
}

// SendCommand records the command and mirrors the mode into the device state,
// the way a real thermostat acknowledges a mode change.
func (f *Fake) SendCommand(_ context.Context, cmd climate.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendError != nil {
		return f.SendError
	}
	f.Commands = append(f.Commands, cmd)
	f.State.Mode = cmd.Mode
	if cmd.Mode == climate.ModeOff {
		f.State.Action = climate.ActionOff
	}
	return nil
}

// SetTemperature updates the reported temperature.
func (f *Fake) SetTemperature(temp float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.State.CurrentTemperature = temp
}

// SetAction updates the reported HVAC action.
func (f *Fake) SetAction(action climate.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.State.Action = action
}

// SetMode updates the reported mode, as if the user changed it on the device.
func (f *Fake) SetMode(mode climate.Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.State.Mode = mode
}

// SetReadError makes ReadState fail until cleared with nil.
func (f *Fake) SetReadError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReadError = err
}

// SetSendError makes SendCommand fail until cleared with nil.
func (f *Fake) SetSendError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SendError = err
}

// SentCommands returns a copy of the accepted commands.
func (f *Fake) SentCommands() []climate.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]climate.Command, len(f.Commands))
	copy(out, f.Commands)
	return out
}
