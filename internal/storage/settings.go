package storage

// settings.go contains the key/value settings methods. The credential
// store, the skin/mode preferences and anything else the host persists go
// through GetSetting and SetSetting; ListSettings feeds the status report.

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	hostErrors "github.com/pocketagent/host/internal/errors"
)

// Setting is one row of the settings table.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// GetSetting returns the value stored under key.
// The boolean is false when the key has never been written.
func (s *SQLiteStore) GetSetting(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, hostErrors.Wrap(hostErrors.CodeStorageQueryFailed, fmt.Sprintf("get setting %q", key), err)
	}
	return value, true, nil
}

// SetSetting upserts a single key.
func (s *SQLiteStore) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// ListSettings returns every setting ordered by key.
func (s *SQLiteStore) ListSettings() ([]Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT key, value, updated_at FROM settings ORDER BY key ASC")
	if err != nil {
		return nil, hostErrors.Wrap(hostErrors.CodeStorageQueryFailed, "query settings", err)
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var (
			setting   Setting
			updatedAt string
		)
		if err := rows.Scan(&setting.Key, &setting.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		// Rows written before v2 carry an empty timestamp.
		if updatedAt != "" {
			t, err := time.Parse(time.RFC3339Nano, updatedAt)
			if err != nil {
				return nil, fmt.Errorf("parse updated_at for %q: %w", setting.Key, err)
			}
			setting.UpdatedAt = t
		}
		settings = append(settings, setting)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate setting rows: %w", err)
	}
	return settings, nil
}
