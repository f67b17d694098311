package climate

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultUsageRetentionDays bounds the usage history length.
const DefaultUsageRetentionDays = 90

// UsageRecord is one calendar day of accumulated runtime. Date is midnight in
// the tracker's location.
type UsageRecord struct {
	Date           time.Time
	HeatingSeconds float64
	CoolingSeconds float64
}

// HeatingHours converts the heating runtime to hours, rounded to four decimal
// places (0.0001 h = 0.36 s, well inside one second per day).
func (r UsageRecord) HeatingHours() float64 {
	return roundHours(r.HeatingSeconds)
}

// CoolingHours converts the cooling runtime to hours with the same rounding.
func (r UsageRecord) CoolingHours() float64 {
	return roundHours(r.CoolingSeconds)
}

func roundHours(seconds float64) float64 {
	return math.Round(seconds/3600*10000) / 10000
}

// UsageTracker turns reported HVAC action samples into per-day runtime
// accumulators with bounded retention. Elapsed time between two samples is
// attributed to the action reported by the previous sample, split at midnight
// when an interval crosses a day boundary. Samples with a clock running
// backwards accumulate nothing.
type UsageTracker struct {
	retentionDays int
	records       []UsageRecord // ascending by date
	lastSample    time.Time
	lastAction    Action
}

// NewUsageTracker creates a tracker keeping at most retentionDays records.
func NewUsageTracker(retentionDays int) *UsageTracker {
	if retentionDays <= 0 {
		retentionDays = DefaultUsageRetentionDays
	}
	return &UsageTracker{retentionDays: retentionDays, lastAction: ActionOff}
}

// Sample records a reported action at the given instant. The first sample
// establishes the baseline and accumulates nothing.
func (t *UsageTracker) Sample(now time.Time, action Action) {
	if t.lastSample.IsZero() {
		t.record(dateOf(now))
		t.lastSample = now
		t.lastAction = action
		return
	}
	if now.Before(t.lastSample) {
		// Clock regression: zero-elapsed no-op rather than negative
		// accumulation. Keep the old baseline so a corrected clock
		// resumes cleanly.
		return
	}

	// Walk the interval one calendar day at a time so nothing crosses a
	// midnight boundary uncredited.
	cursor := t.lastSample
	for {
		boundary := dateOf(cursor).AddDate(0, 0, 1)
		if boundary.After(now) {
			t.credit(dateOf(cursor), now.Sub(cursor).Seconds())
			break
		}
		t.credit(dateOf(cursor), boundary.Sub(cursor).Seconds())
		cursor = boundary
		t.record(cursor) // fresh record at rollover, evicts out-of-window days
	}

	t.lastSample = now
	t.lastAction = action
}

// Today returns the in-progress record for the given instant's date.
func (t *UsageTracker) Today(now time.Time) UsageRecord {
	date := dateOf(now)
	for i := len(t.records) - 1; i >= 0; i-- {
		if t.records[i].Date.Equal(date) {
			return t.records[i]
		}
	}
	return UsageRecord{Date: date}
}

// Records returns the most recent N days in ascending date order, including
// today's in-progress record.
func (t *UsageTracker) Records(days int, now time.Time) []UsageRecord {
	today := dateOf(now)
	cutoff := today.AddDate(0, 0, -(days - 1))

	var out []UsageRecord
	seenToday := false
	for _, r := range t.records {
		if r.Date.Before(cutoff) {
			continue
		}
		out = append(out, r)
		if r.Date.Equal(today) {
			seenToday = true
		}
	}
	if !seenToday {
		out = append(out, UsageRecord{Date: today})
	}
	return out
}

// ExportCSV renders the most recent N days as CSV rows of
// date,heating_hours,cooling_hours.
func (t *UsageTracker) ExportCSV(days int, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("date,heating_hours,cooling_hours\n")
	for _, r := range t.Records(days, now) {
		sb.WriteString(fmt.Sprintf("%s,%.4f,%.4f\n", r.Date.Format("2006-01-02"), r.HeatingHours(), r.CoolingHours()))
	}
	return sb.String()
}

// History returns a copy of all retained records in ascending date order.
func (t *UsageTracker) History() []UsageRecord {
	out := make([]UsageRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Cursor returns the last sample baseline for persistence.
func (t *UsageTracker) Cursor() (time.Time, Action) {
	return t.lastSample, t.lastAction
}

// Restore reloads persisted history and the sample baseline, so a restart
// does not lose the day's accumulated usage. Records must be ascending by
// date.
func (t *UsageTracker) Restore(records []UsageRecord, lastSample time.Time, lastAction Action) {
	t.records = make([]UsageRecord, len(records))
	copy(t.records, records)
	t.lastSample = lastSample
	if lastAction == "" {
		lastAction = ActionOff
	}
	t.lastAction = lastAction
	t.evict()
}

// credit adds elapsed seconds to the date's accumulator for the previous
// action. Idle and off time is discarded.
func (t *UsageTracker) credit(date time.Time, seconds float64) {
	if seconds <= 0 {
		return
	}
	switch t.lastAction {
	case ActionHeating:
		t.record(date).HeatingSeconds += seconds
	case ActionCooling:
		t.record(date).CoolingSeconds += seconds
	}
}

// record finds or creates the accumulator for a date. Creation is the daily
// rollover point: retention eviction runs here and never mid-day.
func (t *UsageTracker) record(date time.Time) *UsageRecord {
	for i := len(t.records) - 1; i >= 0; i-- {
		if t.records[i].Date.Equal(date) {
			return &t.records[i]
		}
	}
	t.records = append(t.records, UsageRecord{Date: date})
	t.evict()
	return &t.records[len(t.records)-1]
}

func (t *UsageTracker) evict() {
	for len(t.records) > t.retentionDays {
		t.records = t.records[1:]
	}
}

func dateOf(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
}
