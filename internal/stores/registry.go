// Package stores provides centralized access to the persistence layer.
package stores

import (
	"database/sql"
)

// Registry provides centralized access to all stores.
// This replaces passing individual stores throughout the codebase.
type Registry struct {
	schedule *ScheduleStore
	usage    *UsageStore
	state    *StateStore
}

// NewRegistry creates a new store registry over a shared database handle.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{
		schedule: NewScheduleStore(db),
		usage:    NewUsageStore(db),
		state:    NewStateStore(db),
	}
}

// Schedule returns the weekly schedule store.
func (r *Registry) Schedule() *ScheduleStore {
	return r.schedule
}

// Usage returns the usage history store.
func (r *Registry) Usage() *UsageStore {
	return r.usage
}

// State returns the runtime state store.
func (r *Registry) State() *StateStore {
	return r.state
}
