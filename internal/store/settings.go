package store

import (
	"database/sql"
	"fmt"
	"strconv"
)

// Settings keys used by the enrolment engine.
const (
	KeyExpiryNotifyLastRun = "expiry_notify_last_run"
)

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the value for key, or "" when the key is unset.
func (s *SettingsStore) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *SettingsStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// GetInt64 returns the value for key parsed as int64, or zero when unset.
func (s *SettingsStore) GetInt64(key string) (int64, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse setting %q: %w", key, err)
	}
	return n, nil
}

func (s *SettingsStore) SetInt64(key string, value int64) error {
	return s.Set(key, strconv.FormatInt(value, 10))
}
