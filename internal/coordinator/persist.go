package coordinator

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/thermod/internal/climate"
	"github.com/dokzlo13/thermod/internal/stores"
)

// storedCommand is the persisted form of climate.Command.
type storedCommand struct {
	Mode       string   `json:"mode"`
	TargetTemp *float64 `json:"target_temp,omitempty"`
}

func toStoredCommand(cmd climate.Command) storedCommand {
	return storedCommand{Mode: string(cmd.Mode), TargetTemp: cmd.TargetTemp}
}

func (s storedCommand) command() climate.Command {
	return climate.Command{Mode: climate.Mode(s.Mode), TargetTemp: s.TargetTemp}
}

type storedOverride struct {
	Until   time.Time     `json:"until"`
	Command storedCommand `json:"command"`
}

type usageCursor struct {
	LastSample time.Time `json:"last_sample"`
	LastAction string    `json:"last_action"`
}

// restore reloads persisted state at boot. Failures are logged and the
// affected piece starts fresh; a broken database row must not keep the
// control loop from running.
func (c *Coordinator) restore() {
	if c.stores == nil {
		return
	}

	var cfg climate.SafetyConfig
	if found, err := c.stores.State().Get(stores.KeySafetyConfig, &cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to restore safety config")
	} else if found {
		if err := c.safety.SetConfig(cfg); err != nil {
			log.Warn().Err(err).Msg("Persisted safety config is invalid, keeping defaults")
		}
	}

	var status string
	if found, err := c.stores.State().Get(stores.KeySafetyStatus, &status); err != nil {
		log.Warn().Err(err).Msg("Failed to restore safety status")
	} else if found {
		c.safety.Restore(climate.SafetyStatus(status))
	}

	week, err := c.stores.Schedule().LoadWeek()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to restore schedule")
	} else {
		loaded := 0
		for day, events := range week {
			if len(events) == 0 {
				continue
			}
			if err := c.schedule.SetDay(time.Weekday(day), events); err != nil {
				log.Warn().Err(err).Stringer("day", time.Weekday(day)).Msg("Persisted schedule day is invalid, skipping")
				continue
			}
			loaded++
		}
		if loaded > 0 {
			log.Info().Int("days", loaded).Msg("Schedule restored")
		}
	}

	var ov storedOverride
	if found, err := c.stores.State().Get(stores.KeyOverride, &ov); err != nil {
		log.Warn().Err(err).Msg("Failed to restore manual override")
	} else if found {
		if ov.Until.After(c.clock()) {
			c.schedule.SetOverride(ov.Command.command(), ov.Until)
			log.Info().Time("until", ov.Until).Msg("Manual override restored")
		} else {
			if err := c.stores.State().Delete(stores.KeyOverride); err != nil {
				log.Warn().Err(err).Msg("Failed to drop expired override")
			}
		}
	}

	var last storedCommand
	if found, err := c.stores.State().Get(stores.KeyLastCommand, &last); err != nil {
		log.Warn().Err(err).Msg("Failed to restore last command")
	} else if found {
		cmd := last.command()
		c.lastSent = &cmd
	}

	records, err := c.stores.Usage().LoadAll(c.tz)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to restore usage history")
		return
	}
	var cursor usageCursor
	if _, err := c.stores.State().Get(stores.KeyUsageCursor, &cursor); err != nil {
		log.Warn().Err(err).Msg("Failed to restore usage cursor")
	}
	c.usage.Restore(records, cursor.LastSample.In(c.tz), climate.Action(cursor.LastAction))
	if len(records) > 0 {
		log.Info().Int("days", len(records)).Msg("Usage history restored")
	}
}

func (c *Coordinator) persistSafetyStatus() {
	if c.stores == nil {
		return
	}
	if err := c.stores.State().Set(stores.KeySafetyStatus, string(c.safety.Status())); err != nil {
		log.Warn().Err(err).Msg("Failed to persist safety status")
	}
}

func (c *Coordinator) persistLastCommand() {
	if c.stores == nil {
		return
	}
	if c.lastSent == nil {
		if err := c.stores.State().Delete(stores.KeyLastCommand); err != nil {
			log.Warn().Err(err).Msg("Failed to drop last command")
		}
		return
	}
	if err := c.stores.State().Set(stores.KeyLastCommand, toStoredCommand(*c.lastSent)); err != nil {
		log.Warn().Err(err).Msg("Failed to persist last command")
	}
}

func (c *Coordinator) persistOverride() {
	if c.stores == nil {
		return
	}
	ov, ok := c.schedule.ActiveOverride()
	if !ok {
		if err := c.stores.State().Delete(stores.KeyOverride); err != nil {
			log.Warn().Err(err).Msg("Failed to drop manual override")
		}
		return
	}
	stored := storedOverride{Until: ov.Until, Command: toStoredCommand(ov.Command)}
	if err := c.stores.State().Set(stores.KeyOverride, stored); err != nil {
		log.Warn().Err(err).Msg("Failed to persist manual override")
	}
}
