package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// GetSetting reads a runtime-adjustable setting (e.g. the alerts-enabled
// toggle), falling back to def when unset.
func (s *Store) GetSetting(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("store: get setting %q: %w", key, err)
	}
	return value, nil
}

// GetSettingBool interprets the setting as a boolean using the same truthy
// strings as the settings panel ("1", "true", "yes", "on").
func (s *Store) GetSettingBool(ctx context.Context, key string, def bool) (bool, error) {
	val, err := s.GetSetting(ctx, key, "")
	if err != nil {
		return def, err
	}
	if val == "" {
		return def, nil
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, nil
	}
	return false, nil
}

// SetSetting upserts a setting value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("store: set setting %q: %w", key, err)
	}
	return nil
}

// SetSettingBool upserts a boolean setting as "true"/"false".
func (s *Store) SetSettingBool(ctx context.Context, key string, value bool) error {
	if value {
		return s.SetSetting(ctx, key, "true")
	}
	return s.SetSetting(ctx, key, "false")
}

// AllSettings returns every stored setting as a key/value map.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("store: all settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: scan setting: %w", err)
		}
		out[k] = v.String
	}
	return out, rows.Err()
}
