// To handle all database interactions. This is our data access layer,
// keeping SQL queries separate from business logic.

package store

import (
	"database/sql"
	"errors"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned when a job mutation is attempted from
	// the wrong source state. It signals a bug in worker sequencing and is
	// logged by callers, never silently accepted.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrNoJobs is returned by ClaimNextJob when the queue is empty.
	ErrNoJobs = errors.New("no queued jobs")
)

// Store provides all functions to interact with the database.
type Store struct {
	db *sql.DB
}

// New creates a new Store instance.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}
