package climate

// ArbitrationInput carries the competing desired commands for one cycle.
// SafetyCommand may be present while SafetyActive is false: that is the
// recovery cycle, where the safety engine asks for off but a standing
// schedule result must win so the device does not get stuck off.
type ArbitrationInput struct {
	SafetyActive    bool
	SafetyCommand   *Command
	ScheduleCommand *Command
	LastSent        *Command
}

// Arbitrate merges the safety and schedule outputs under the fixed priority
// order (safety override, then schedule/manual result, then hold) and returns
// the command to send, or nil when the winner matches the last sent command.
// Re-evaluating identical inputs therefore emits nothing: relays are never
// chattered by the periodic tick.
func Arbitrate(in ArbitrationInput) *Command {
	var winner *Command

	switch {
	case in.SafetyActive && in.SafetyCommand != nil:
		winner = in.SafetyCommand
	case in.ScheduleCommand != nil:
		winner = in.ScheduleCommand
	case in.SafetyCommand != nil:
		// Safety recovery with no schedule to fall back on.
		winner = in.SafetyCommand
	default:
		return nil
	}

	if in.LastSent != nil && winner.Equal(*in.LastSent) {
		return nil
	}
	cmd := *winner
	return &cmd
}
