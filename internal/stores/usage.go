package stores

import (
	"database/sql"
	"sync"
	"time"

	"github.com/dokzlo13/thermod/internal/climate"
)

const dateFormat = "2006-01-02"

// UsageStore persists per-day usage records so a restart does not lose the
// day's accumulated runtime.
type UsageStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewUsageStore creates a new UsageStore
func NewUsageStore(db *sql.DB) *UsageStore {
	return &UsageStore{db: db}
}

// Upsert writes one record.
func (s *UsageStore) Upsert(rec climate.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return upsertRecord(s.db, rec)
}

// UpsertAll writes a batch of records in one transaction.
func (s *UsageStore) UpsertAll(recs []climate.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range recs {
		if err := upsertRecord(tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertRecord(e execer, rec climate.UsageRecord) error {
	_, err := e.Exec(`
		INSERT INTO usage_history (date, heating_seconds, cooling_seconds, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			heating_seconds = excluded.heating_seconds,
			cooling_seconds = excluded.cooling_seconds,
			updated_at = excluded.updated_at
	`, rec.Date.Format(dateFormat), rec.HeatingSeconds, rec.CoolingSeconds, time.Now().UTC().Unix())
	return err
}

// LoadAll returns every retained record in ascending date order, with dates
// anchored to the given location.
func (s *UsageStore) LoadAll(loc *time.Location) ([]climate.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT date, heating_seconds, cooling_seconds
		FROM usage_history
		ORDER BY date
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []climate.UsageRecord
	for rows.Next() {
		var dateStr string
		var rec climate.UsageRecord

		if err := rows.Scan(&dateStr, &rec.HeatingSeconds, &rec.CoolingSeconds); err != nil {
			return nil, err
		}
		date, err := time.ParseInLocation(dateFormat, dateStr, loc)
		if err != nil {
			return nil, err
		}
		rec.Date = date
		records = append(records, rec)
	}

	return records, rows.Err()
}

// DeleteOlderThan removes records before the cutoff date (retention policy).
func (s *UsageStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		DELETE FROM usage_history WHERE date < ?
	`, cutoff.Format(dateFormat))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
