package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// IncrementCounter adds one to a named persisted counter, creating it
// at 1 when absent, and returns the new value.
func (s *Store) IncrementCounter(name string) (int64, error) {
	if name == "" {
		return 0, errors.New("counter name is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin counter transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(
		`INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = counters.value + 1`,
		name,
	); err != nil {
		return 0, fmt.Errorf("increment counter %q: %w", name, err)
	}

	var value int64
	if err := tx.QueryRow(`SELECT value FROM counters WHERE name = ?`, name).Scan(&value); err != nil {
		return 0, fmt.Errorf("read counter %q: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit counter transaction: %w", err)
	}

	return value, nil
}

// GetCounter returns the current value of a named counter, zero when absent.
func (s *Store) GetCounter(name string) (int64, error) {
	if name == "" {
		return 0, errors.New("counter name is required")
	}

	var value int64
	err := s.db.QueryRow(`SELECT value FROM counters WHERE name = ?`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read counter %q: %w", name, err)
	}

	return value, nil
}

// SetCounter overwrites a named counter, used when the user clears the
// unread badge.
func (s *Store) SetCounter(name string, value int64) error {
	if name == "" {
		return errors.New("counter name is required")
	}
	if value < 0 {
		return errors.New("counter value must be >= 0")
	}

	if _, err := s.db.Exec(
		`INSERT INTO counters (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name,
		value,
	); err != nil {
		return fmt.Errorf("set counter %q: %w", name, err)
	}

	return nil
}
