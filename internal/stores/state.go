package stores

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Keys for runtime state that must survive a restart.
const (
	KeySafetyConfig = "safety_config"
	KeySafetyStatus = "safety_status"
	KeyOverride     = "override"
	KeyLastCommand  = "last_command"
	KeyUsageCursor  = "usage_cursor"
)

// StateStore is a JSON key-value store over the app_state table.
type StateStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStateStore creates a new StateStore
func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

// Set marshals and stores a value under the given key.
func (s *StateStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state %q: %w", key, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO app_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, string(data), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to store state %q: %w", key, err)
	}

	return nil
}

// Get retrieves and unmarshals the value for a key. Returns false when the
// key is absent, leaving out untouched.
func (s *StateStore) Get(key string, out any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get state %q: %w", key, err)
	}

	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, fmt.Errorf("failed to unmarshal state %q: %w", key, err)
	}
	return true, nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *StateStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM app_state WHERE key = ?`, key)
	return err
}
