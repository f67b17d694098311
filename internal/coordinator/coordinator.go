// Package coordinator runs the control loop. All engine state is owned by a
// single goroutine; control operations are funneled through an inbox channel,
// so the engines themselves never need locking.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/thermod/internal/climate"
	"github.com/dokzlo13/thermod/internal/notify"
	"github.com/dokzlo13/thermod/internal/proxy"
	"github.com/dokzlo13/thermod/internal/stores"
)

const (
	DefaultPollInterval  = 30 * time.Second
	DefaultFlushInterval = 60 * time.Second
)

// ErrInvalidOverride marks override requests rejected before reaching the
// device.
var ErrInvalidOverride = errors.New("invalid override")

// Options configures the coordinator. Stores and Notifier may be nil, which
// disables persistence and notifications respectively.
type Options struct {
	Proxy         proxy.Proxy
	Stores        *stores.Registry
	Notifier      *notify.Notifier
	SafetyConfig  climate.SafetyConfig
	PollInterval  time.Duration
	FlushInterval time.Duration
	RetentionDays int
	Timezone      *time.Location

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

type request struct {
	fn    func() error
	reply chan error
}

// Coordinator drives the safety, schedule and usage engines from a periodic
// tick and applies the arbitrated command to the device proxy.
type Coordinator struct {
	proxy    proxy.Proxy
	stores   *stores.Registry
	notifier *notify.Notifier

	safety   *climate.SafetyEngine
	schedule *climate.ScheduleEngine
	usage    *climate.UsageTracker

	lastSent *climate.Command

	pollInterval  time.Duration
	flushInterval time.Duration
	retentionDays int
	tz            *time.Location
	clock         func() time.Time

	inbox chan request
	kick  chan struct{}

	lastState  proxy.State
	available  bool
	deviceDown bool

	mu   sync.RWMutex
	snap Snapshot
}

// New creates a coordinator. The safety configuration is validated up front.
func New(opts Options) (*Coordinator, error) {
	safety, err := climate.NewSafetyEngine(opts.SafetyConfig)
	if err != nil {
		return nil, err
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = climate.DefaultUsageRetentionDays
	}
	tz := opts.Timezone
	if tz == nil {
		tz = time.Local
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().In(tz) }
	}

	return &Coordinator{
		proxy:         opts.Proxy,
		stores:        opts.Stores,
		notifier:      opts.Notifier,
		safety:        safety,
		schedule:      climate.NewScheduleEngine(),
		usage:         climate.NewUsageTracker(opts.RetentionDays),
		pollInterval:  opts.PollInterval,
		flushInterval: opts.FlushInterval,
		retentionDays: opts.RetentionDays,
		tz:            tz,
		clock:         clock,
		inbox:         make(chan request),
		kick:          make(chan struct{}, 1),
	}, nil
}

// Run executes the control loop until the context is canceled. Persisted
// state is restored first, then a boot tick brings the device in line with
// the standing schedule before the periodic cadence starts.
func (c *Coordinator) Run(ctx context.Context) error {
	c.restore()
	c.tick(ctx)

	poll := time.NewTicker(c.pollInterval)
	defer poll.Stop()
	flush := time.NewTicker(c.flushInterval)
	defer flush.Stop()

	log.Info().
		Dur("poll_interval", c.pollInterval).
		Str("timezone", c.tz.String()).
		Msg("Coordinator started")

	for {
		select {
		case <-ctx.Done():
			c.flushUsage()
			log.Info().Msg("Coordinator stopping")
			return nil

		case <-poll.C:
			c.tick(ctx)

		case <-c.kick:
			c.tick(ctx)

		case <-flush.C:
			c.flushUsage()

		case req := <-c.inbox:
			req.reply <- req.fn()
		}
	}
}

// Kick requests an immediate tick, typically on a fresh device state update.
// Never blocks; a pending kick is enough.
func (c *Coordinator) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// do runs fn on the coordinator goroutine and waits for the result.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case c.inbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick runs one control cycle: read device state, account usage, evaluate
// safety, resolve the schedule, arbitrate and send.
func (c *Coordinator) tick(ctx context.Context) {
	now := c.clock()

	state, err := c.proxy.ReadState(ctx)
	if err != nil || !state.Available {
		if !c.deviceDown {
			log.Warn().AnErr("error", err).Msg("Device unavailable, holding state")
		}
		c.deviceDown = true
		c.available = false
		c.updateSnapshot(now)
		return
	}
	if c.deviceDown {
		log.Info().Msg("Device is back")
	}
	c.deviceDown = false
	c.available = true
	c.lastState = state

	c.usage.Sample(now, state.Action)

	res := c.safety.Evaluate(state.CurrentTemperature, c.deviceOffForSafety(state))
	if res.Triggered {
		cfg := c.safety.Config()
		bound := cfg.MinTemp
		if res.Status == climate.SafetyCoolOverride {
			bound = cfg.MaxTemp
		}
		log.Warn().
			Float64("current_temp", state.CurrentTemperature).
			Float64("bound", bound).
			Str("status", string(res.Status)).
			Msg("Safety override triggered")
		c.persistSafetyStatus()
		if c.notifier != nil {
			c.notifier.SafetyTriggered(now, res.Status, state.CurrentTemperature, bound, res.Command.TargetTemp)
		}
	}
	if res.Recovered {
		log.Info().
			Float64("current_temp", state.CurrentTemperature).
			Msg("Safety override recovered")
		c.persistSafetyStatus()
		if c.notifier != nil {
			c.notifier.SafetyRecovered(now, state.CurrentTemperature)
		}
	}

	sched := c.schedule.Resolve(now)
	if sched.OverrideExpired {
		log.Info().Msg("Manual override expired, schedule resumes")
		c.persistOverride()
	}
	var schedCmd *climate.Command
	if sched.Found {
		cmd := sched.Command
		schedCmd = &cmd
	}

	cmd := climate.Arbitrate(climate.ArbitrationInput{
		SafetyActive:    res.Status != climate.SafetyInactive,
		SafetyCommand:   res.Command,
		ScheduleCommand: schedCmd,
		LastSent:        c.lastSent,
	})
	if cmd != nil {
		c.send(ctx, *cmd)
	}

	c.updateSnapshot(now)
}

// deviceOffForSafety decides what "device is off" means for the safety
// engine. While an override is active the device is on because the override
// turned it on; as long as the mode still matches the override's own command
// the engine keeps monitoring for recovery. Any other mode means the user
// intervened and safety resets silently.
func (c *Coordinator) deviceOffForSafety(state proxy.State) bool {
	if state.Off() {
		return true
	}
	switch c.safety.Status() {
	case climate.SafetyHeatOverride:
		return state.Mode == climate.ModeHeat
	case climate.SafetyCoolOverride:
		return state.Mode == climate.ModeCool
	}
	return false
}

func (c *Coordinator) send(ctx context.Context, cmd climate.Command) {
	if err := c.proxy.SendCommand(ctx, cmd); err != nil {
		if errors.Is(err, proxy.ErrDeviceUnavailable) {
			log.Warn().Err(err).Stringer("command", cmd).Msg("Device unavailable, will retry on next tick")
		} else {
			log.Error().Err(err).Stringer("command", cmd).Msg("Failed to send command")
		}
		return
	}
	log.Info().Stringer("command", cmd).Msg("Command sent")
	c.setLastSent(cmd)
}

func (c *Coordinator) setLastSent(cmd climate.Command) {
	c.lastSent = &cmd
	c.persistLastCommand()
}

// flushUsage persists the usage history and applies the retention cutoff.
func (c *Coordinator) flushUsage() {
	if c.stores == nil {
		return
	}
	if err := c.stores.Usage().UpsertAll(c.usage.History()); err != nil {
		log.Warn().Err(err).Msg("Failed to flush usage history")
		return
	}
	sample, action := c.usage.Cursor()
	if !sample.IsZero() {
		if err := c.stores.State().Set(stores.KeyUsageCursor, usageCursor{LastSample: sample, LastAction: string(action)}); err != nil {
			log.Warn().Err(err).Msg("Failed to persist usage cursor")
		}
	}
	cutoff := c.clock().AddDate(0, 0, -(c.retentionDays - 1))
	if _, err := c.stores.Usage().DeleteOlderThan(cutoff); err != nil {
		log.Warn().Err(err).Msg("Failed to apply usage retention")
	}
}

// updateSnapshot refreshes the externally visible state. Called at the end of
// every tick and after every control operation.
func (c *Coordinator) updateSnapshot(now time.Time) {
	snap := Snapshot{
		Time:            now,
		DeviceAvailable: c.available,
		SafetyStatus:    string(c.safety.Status()),
		SafetyConfig:    c.safety.Config(),
	}
	if c.available {
		snap.CurrentTemperature = c.lastState.CurrentTemperature
		snap.DeviceMode = string(c.lastState.Mode)
		snap.DeviceAction = string(c.lastState.Action)
	}
	if c.lastSent != nil {
		snap.LastCommand = c.lastSent.String()
	}
	if ov, ok := c.schedule.ActiveOverride(); ok {
		until := ov.Until
		snap.OverrideUntil = &until
	}
	if next, ok := c.schedule.NextEvent(now); ok {
		snap.NextEvent = &NextEventInfo{
			Day:     next.Day.String(),
			At:      next.At,
			Command: next.Event.Command().String(),
		}
	}
	today := c.usage.Today(now)
	snap.TodayHeatingHours = today.HeatingHours()
	snap.TodayCoolingHours = today.CoolingHours()

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
}

// NextEventInfo describes the nearest upcoming schedule occurrence.
type NextEventInfo struct {
	Day     string    `json:"day"`
	At      time.Time `json:"at"`
	Command string    `json:"command"`
}

// Snapshot is the externally visible coordinator state for status displays.
type Snapshot struct {
	Time               time.Time            `json:"time"`
	DeviceAvailable    bool                 `json:"device_available"`
	CurrentTemperature float64              `json:"current_temperature"`
	DeviceMode         string               `json:"device_mode,omitempty"`
	DeviceAction       string               `json:"device_action,omitempty"`
	SafetyStatus       string               `json:"safety_status"`
	SafetyConfig       climate.SafetyConfig `json:"safety_config"`
	LastCommand        string               `json:"last_command,omitempty"`
	OverrideUntil      *time.Time           `json:"override_until,omitempty"`
	NextEvent          *NextEventInfo       `json:"next_event,omitempty"`
	TodayHeatingHours  float64              `json:"today_heating_hours"`
	TodayCoolingHours  float64              `json:"today_cooling_hours"`
}

// Snapshot returns the most recent externally visible state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Tick forces one synchronous control cycle.
func (c *Coordinator) Tick(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.tick(ctx)
		return nil
	})
}

// ScheduleWeek returns a copy of the full weekly schedule.
func (c *Coordinator) ScheduleWeek(ctx context.Context) ([7]climate.DaySchedule, error) {
	var week [7]climate.DaySchedule
	err := c.do(ctx, func() error {
		week = c.schedule.Week()
		return nil
	})
	return week, err
}

// SetScheduleDay replaces one day's events. Validation failures leave both
// the engine and the store untouched. A change that alters the resolved
// command reaches the device immediately: every schedule mutation ends with a
// full control cycle rather than waiting out the poll interval.
func (c *Coordinator) SetScheduleDay(ctx context.Context, day time.Weekday, events []climate.ScheduleEvent) error {
	return c.do(ctx, func() error {
		if err := c.schedule.SetDay(day, events); err != nil {
			return err
		}
		if c.stores != nil {
			if err := c.stores.Schedule().ReplaceDay(day, c.schedule.Day(day)); err != nil {
				log.Warn().Err(err).Stringer("day", day).Msg("Failed to persist schedule day")
			}
		}
		log.Info().Stringer("day", day).Int("events", len(events)).Msg("Schedule day updated")
		c.tick(ctx)
		return nil
	})
}

// ClearScheduleDay removes one day's events.
func (c *Coordinator) ClearScheduleDay(ctx context.Context, day time.Weekday) error {
	return c.do(ctx, func() error {
		c.schedule.ClearDay(day)
		if c.stores != nil {
			if err := c.stores.Schedule().ClearDay(day); err != nil {
				log.Warn().Err(err).Stringer("day", day).Msg("Failed to clear persisted schedule day")
			}
		}
		log.Info().Stringer("day", day).Msg("Schedule day cleared")
		c.tick(ctx)
		return nil
	})
}

// ClearSchedule removes the whole weekly schedule.
func (c *Coordinator) ClearSchedule(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.schedule.ClearAll()
		if c.stores != nil {
			if err := c.stores.Schedule().ClearAll(); err != nil {
				log.Warn().Err(err).Msg("Failed to clear persisted schedule")
			}
		}
		log.Info().Msg("Schedule cleared")
		c.tick(ctx)
		return nil
	})
}

// CopyScheduleDay copies one day's events to another day.
func (c *Coordinator) CopyScheduleDay(ctx context.Context, from, to time.Weekday) error {
	return c.do(ctx, func() error {
		if err := c.schedule.CopyDay(from, to); err != nil {
			return err
		}
		if c.stores != nil {
			if err := c.stores.Schedule().ReplaceDay(to, c.schedule.Day(to)); err != nil {
				log.Warn().Err(err).Stringer("day", to).Msg("Failed to persist copied schedule day")
			}
		}
		log.Info().Stringer("from", from).Stringer("to", to).Msg("Schedule day copied")
		c.tick(ctx)
		return nil
	})
}

// SetOverride sends the command immediately and suspends schedule-driven
// control. With a nil deadline the override lasts until the next scheduled
// event; with an empty schedule the command simply stands, since there is
// nothing to suspend.
func (c *Coordinator) SetOverride(ctx context.Context, cmd climate.Command, until *time.Time) error {
	return c.do(ctx, func() error {
		if cmd.Mode != climate.ModeOff && cmd.TargetTemp == nil {
			return fmt.Errorf("%w: %s requires a target temperature", ErrInvalidOverride, cmd.Mode)
		}
		now := c.clock()

		var deadline time.Time
		if until != nil {
			if !until.After(now) {
				return fmt.Errorf("%w: deadline %s is in the past", ErrInvalidOverride, until.Format(time.RFC3339))
			}
			deadline = *until
		} else if next, ok := c.schedule.NextEvent(now); ok {
			deadline = next.At
		}

		if !deadline.IsZero() {
			c.schedule.SetOverride(cmd, deadline)
			c.persistOverride()
			log.Info().
				Stringer("command", cmd).
				Time("until", deadline).
				Msg("Manual override set")
		} else {
			log.Info().Stringer("command", cmd).Msg("Manual command with no schedule to suspend")
		}

		// Send right away rather than waiting for the tick. A failed send
		// is retried by the tick as long as an override is installed.
		if err := c.proxy.SendCommand(ctx, cmd); err != nil {
			log.Warn().Err(err).Stringer("command", cmd).Msg("Failed to send override command")
			c.updateSnapshot(now)
			return err
		}
		c.setLastSent(cmd)
		c.updateSnapshot(now)
		return nil
	})
}

// ClearOverride removes the active manual override, if any. The schedule's
// standing command is re-applied in the same call, not on the next poll.
func (c *Coordinator) ClearOverride(ctx context.Context) error {
	return c.do(ctx, func() error {
		if _, ok := c.schedule.ActiveOverride(); !ok {
			return nil
		}
		c.schedule.ClearOverride()
		c.persistOverride()
		log.Info().Msg("Manual override cleared")
		c.tick(ctx)
		return nil
	})
}

// SetSafetyConfig replaces the safety thresholds. Invalid configurations are
// rejected without touching the active ones.
func (c *Coordinator) SetSafetyConfig(ctx context.Context, cfg climate.SafetyConfig) error {
	return c.do(ctx, func() error {
		if err := c.safety.SetConfig(cfg); err != nil {
			return err
		}
		if c.stores != nil {
			if err := c.stores.State().Set(stores.KeySafetyConfig, cfg); err != nil {
				log.Warn().Err(err).Msg("Failed to persist safety config")
			}
		}
		log.Info().
			Bool("enabled", cfg.Enabled).
			Float64("min_temp", cfg.MinTemp).
			Float64("max_temp", cfg.MaxTemp).
			Float64("hysteresis", cfg.Hysteresis).
			Msg("Safety config updated")
		c.tick(ctx)
		return nil
	})
}

// UsageRecords returns the most recent N days including today's in-progress
// record.
func (c *Coordinator) UsageRecords(ctx context.Context, days int) ([]climate.UsageRecord, error) {
	var records []climate.UsageRecord
	err := c.do(ctx, func() error {
		records = c.usage.Records(days, c.clock())
		return nil
	})
	return records, err
}

// UsageCSV renders the most recent N days as CSV.
func (c *Coordinator) UsageCSV(ctx context.Context, days int) (string, error) {
	var csv string
	err := c.do(ctx, func() error {
		csv = c.usage.ExportCSV(days, c.clock())
		return nil
	})
	return csv, err
}
