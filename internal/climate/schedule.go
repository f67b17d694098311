package climate

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// TimeOfDay is a wall-clock change point within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Minutes returns the offset from midnight in minutes.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// String renders the time as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ScheduleEvent is one change point in a day's plan.
type ScheduleEvent struct {
	Time        TimeOfDay
	Mode        Mode
	Temperature *float64
}

var (
	ErrEventTemperature = errors.New("schedule event requires a temperature unless mode is off")
	ErrDuplicateTime    = errors.New("duplicate event time in day schedule")
	ErrEmptySource      = errors.New("source day has no schedule")
)

// Validate checks a single event.
func (e ScheduleEvent) Validate() error {
	if _, err := ParseMode(string(e.Mode)); err != nil {
		return err
	}
	if e.Time.Hour < 0 || e.Time.Hour > 23 || e.Time.Minute < 0 || e.Time.Minute > 59 {
		return fmt.Errorf("invalid time of day %02d:%02d", e.Time.Hour, e.Time.Minute)
	}
	if e.Mode != ModeOff && e.Temperature == nil {
		return fmt.Errorf("%w: %s at %s", ErrEventTemperature, e.Mode, e.Time)
	}
	return nil
}

// Command converts the event into the command it stands for.
func (e ScheduleEvent) Command() Command {
	if e.Mode == ModeOff {
		return Off()
	}
	temp := *e.Temperature
	return Command{Mode: e.Mode, TargetTemp: &temp}
}

// DaySchedule is the ordered event list for one weekday. Empty is valid: the
// device holds its last resolved state on days without a plan.
type DaySchedule []ScheduleEvent

// Override suspends schedule-driven control until a deadline, holding the
// last explicitly commanded state.
type Override struct {
	Until   time.Time
	Command Command
}

// UpcomingEvent is a concrete (day, event) occurrence strictly in the future.
type UpcomingEvent struct {
	Day   time.Weekday
	At    time.Time
	Event ScheduleEvent
}

// ResolveResult is the outcome of a schedule resolution. Found is false when
// the whole week is empty and no override is active; the caller must then hold
// the current command unchanged.
type ResolveResult struct {
	Command         Command
	Found           bool
	FromOverride    bool
	OverrideExpired bool
}

// ScheduleEngine owns the weekly schedule and the manual override state.
// The week is a fixed seven-slot array indexed by time.Weekday, which keeps
// the wraparound lookback trivial.
type ScheduleEngine struct {
	week     [7]DaySchedule
	override *Override
}

// NewScheduleEngine creates an empty engine.
func NewScheduleEngine() *ScheduleEngine {
	return &ScheduleEngine{}
}

// SetDay replaces a day's events wholesale. The input is validated and sorted
// before anything is applied; on error the existing day is untouched.
func (s *ScheduleEngine) SetDay(day time.Weekday, events []ScheduleEvent) error {
	sorted := make(DaySchedule, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Minutes() < sorted[j].Time.Minutes()
	})

	for i, ev := range sorted {
		if err := ev.Validate(); err != nil {
			return err
		}
		if i > 0 && sorted[i-1].Time.Minutes() == ev.Time.Minutes() {
			return fmt.Errorf("%w: %s on %s", ErrDuplicateTime, ev.Time, day)
		}
	}

	s.week[day] = sorted
	return nil
}

// ClearDay removes all events for one day.
func (s *ScheduleEngine) ClearDay(day time.Weekday) {
	s.week[day] = nil
}

// ClearAll removes the whole weekly schedule.
func (s *ScheduleEngine) ClearAll() {
	s.week = [7]DaySchedule{}
}

// CopyDay deep-copies one day's events to another. Later mutation of the
// source never affects the copy.
func (s *ScheduleEngine) CopyDay(from, to time.Weekday) error {
	src := s.week[from]
	if len(src) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptySource, from)
	}
	dst := make(DaySchedule, len(src))
	for i, ev := range src {
		dst[i] = ev
		if ev.Temperature != nil {
			temp := *ev.Temperature
			dst[i].Temperature = &temp
		}
	}
	s.week[to] = dst
	return nil
}

// Day returns a copy of one day's events.
func (s *ScheduleEngine) Day(day time.Weekday) DaySchedule {
	out := make(DaySchedule, len(s.week[day]))
	copy(out, s.week[day])
	return out
}

// Week returns a copy of the full schedule for persistence.
func (s *ScheduleEngine) Week() [7]DaySchedule {
	var out [7]DaySchedule
	for d := range s.week {
		out[d] = make(DaySchedule, len(s.week[d]))
		copy(out[d], s.week[d])
	}
	return out
}

// SetOverride installs a manual override, replacing any prior one.
func (s *ScheduleEngine) SetOverride(cmd Command, until time.Time) {
	s.override = &Override{Until: until, Command: cmd}
}

// ClearOverride removes the active override, if any.
func (s *ScheduleEngine) ClearOverride() {
	s.override = nil
}

// ActiveOverride returns the current override.
func (s *ScheduleEngine) ActiveOverride() (Override, bool) {
	if s.override == nil {
		return Override{}, false
	}
	return *s.override, true
}

// Resolve computes the schedule's desired command at the given instant.
//
// An active override wins outright and the schedule is not consulted. An
// expired override is cleared as a side effect of this call before the
// schedule lookup proceeds. The lookup finds the most recent event at or
// before now, scanning backward across prior days (wrapping at the week
// boundary) so a device coming online mid-schedule still lands on the
// standing command instead of defaulting to off.
func (s *ScheduleEngine) Resolve(now time.Time) ResolveResult {
	expired := false
	if s.override != nil {
		if now.Before(s.override.Until) {
			return ResolveResult{Command: s.override.Command, Found: true, FromOverride: true}
		}
		s.override = nil
		expired = true
	}

	nowMinutes := now.Hour()*60 + now.Minute()

	// Today: last event at or before now.
	if ev, ok := lastEventAtOrBefore(s.week[now.Weekday()], nowMinutes); ok {
		return ResolveResult{Command: ev.Command(), Found: true, OverrideExpired: expired}
	}

	// Prior days, wrapping: the last event of the nearest non-empty day.
	for back := 1; back <= 7; back++ {
		day := time.Weekday((int(now.Weekday()) - back + 7) % 7)
		if events := s.week[day]; len(events) > 0 {
			return ResolveResult{Command: events[len(events)-1].Command(), Found: true, OverrideExpired: expired}
		}
	}

	return ResolveResult{OverrideExpired: expired}
}

// NextEvent returns the nearest upcoming occurrence strictly after now, or
// false if the week holds no events at all.
func (s *ScheduleEngine) NextEvent(now time.Time) (UpcomingEvent, bool) {
	nowMinutes := now.Hour()*60 + now.Minute()

	// Remaining events today.
	for _, ev := range s.week[now.Weekday()] {
		if ev.Time.Minutes() > nowMinutes {
			return s.occurrence(now, 0, ev), true
		}
	}

	// First event of the next non-empty day, wrapping through a full week.
	for ahead := 1; ahead <= 7; ahead++ {
		day := time.Weekday((int(now.Weekday()) + ahead) % 7)
		if events := s.week[day]; len(events) > 0 {
			return s.occurrence(now, ahead, events[0]), true
		}
	}

	return UpcomingEvent{}, false
}

// Empty reports whether the whole week has no events.
func (s *ScheduleEngine) Empty() bool {
	for _, day := range s.week {
		if len(day) > 0 {
			return false
		}
	}
	return true
}

func (s *ScheduleEngine) occurrence(now time.Time, daysAhead int, ev ScheduleEvent) UpcomingEvent {
	date := now.AddDate(0, 0, daysAhead)
	at := time.Date(date.Year(), date.Month(), date.Day(), ev.Time.Hour, ev.Time.Minute, 0, 0, now.Location())
	return UpcomingEvent{Day: at.Weekday(), At: at, Event: ev}
}

func lastEventAtOrBefore(events DaySchedule, nowMinutes int) (ScheduleEvent, bool) {
	found := false
	var last ScheduleEvent
	for _, ev := range events {
		if ev.Time.Minutes() > nowMinutes {
			break
		}
		last = ev
		found = true
	}
	return last, found
}
