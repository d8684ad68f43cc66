package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// GetSetting retrieves a setting by name, unmarshalling its JSON value into out
func (s *Store) GetSetting(name string, out any) error {
	var raw string
	err := s.db.QueryRow("SELECT value FROM settings WHERE name = ?", name).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to query setting %s: %w", name, err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode setting %s: %w", name, err)
	}
	return nil
}

// GetSettingRaw retrieves a setting's raw JSON value
func (s *Store) GetSettingRaw(name string) (json.RawMessage, error) {
	var raw string
	err := s.db.QueryRow("SELECT value FROM settings WHERE name = ?", name).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query setting %s: %w", name, err)
	}
	return json.RawMessage(raw), nil
}

// SetSetting stores a setting, marshalling the value to JSON
func (s *Store) SetSetting(name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", name, err)
	}

	const query = `
		INSERT INTO settings (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.Exec(query, name, string(raw)); err != nil {
		return fmt.Errorf("failed to store setting %s: %w", name, err)
	}
	return nil
}

// DeleteSetting removes a setting. Deleting an unknown name is a no-op.
func (s *Store) DeleteSetting(name string) error {
	if _, err := s.db.Exec("DELETE FROM settings WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", name, err)
	}
	return nil
}
