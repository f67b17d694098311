package stores

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dokzlo13/thermod/internal/climate"
)

// ScheduleStore persists the weekly schedule, one row per change point.
type ScheduleStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewScheduleStore creates a new ScheduleStore
func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// ReplaceDay swaps a day's events wholesale inside a transaction, so a failed
// write never leaves a half-replaced day behind.
func (s *ScheduleStore) ReplaceDay(day time.Weekday, events climate.DaySchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM schedule_events WHERE day = ?`, int(day)); err != nil {
		return err
	}
	for _, ev := range events {
		var temp sql.NullFloat64
		if ev.Temperature != nil {
			temp = sql.NullFloat64{Float64: *ev.Temperature, Valid: true}
		}
		_, err := tx.Exec(`
			INSERT INTO schedule_events (day, minutes, mode, temperature)
			VALUES (?, ?, ?, ?)
		`, int(day), ev.Time.Minutes(), string(ev.Mode), temp)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ClearDay removes one day's events.
func (s *ScheduleStore) ClearDay(day time.Weekday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM schedule_events WHERE day = ?`, int(day))
	return err
}

// ClearAll removes the whole schedule.
func (s *ScheduleStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM schedule_events`)
	return err
}

// LoadWeek reads the full schedule, ordered within each day.
func (s *ScheduleStore) LoadWeek() ([7]climate.DaySchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var week [7]climate.DaySchedule

	rows, err := s.db.Query(`
		SELECT day, minutes, mode, temperature
		FROM schedule_events
		ORDER BY day, minutes
	`)
	if err != nil {
		return week, err
	}
	defer rows.Close()

	for rows.Next() {
		var day, minutes int
		var mode string
		var temp sql.NullFloat64

		if err := rows.Scan(&day, &minutes, &mode, &temp); err != nil {
			return week, err
		}
		if day < 0 || day > 6 {
			return week, fmt.Errorf("invalid weekday %d in schedule_events", day)
		}

		ev := climate.ScheduleEvent{
			Time: climate.TimeOfDay{Hour: minutes / 60, Minute: minutes % 60},
			Mode: climate.Mode(mode),
		}
		if temp.Valid {
			t := temp.Float64
			ev.Temperature = &t
		}
		week[day] = append(week[day], ev)
	}

	return week, rows.Err()
}
