package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetSetting returns the raw stored value for key, or ("", false) if the
// operator has never overridden it. Grounded on
// original_source/src/config.rs's get_i64_setting/get_f32_setting family,
// which all read a single string-valued system_settings table and parse on
// the way out; internal/settings layers the DB-or-file fallback and typed
// parsing on top of this.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM system_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts an operator override (spec §4.J admin surface).
func (s *Store) SetSetting(key, value string) error {
	_, err := s.exec(
		`INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes an override so the file default applies again.
func (s *Store) DeleteSetting(key string) error {
	_, err := s.exec(`DELETE FROM system_settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// AllSettings returns every stored override, for admin listing.
func (s *Store) AllSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM system_settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
