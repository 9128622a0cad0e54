package database

import (
	"context"
	"database/sql"
)

// SettingsStore persists flat key/value overrides in the operation_settings
// table. Overrides survive restarts and win over file and environment
// configuration.
type SettingsStore struct {
	db *sql.DB
}

// NewSettingsStore creates a settings store over the shared pool.
func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Load returns every persisted override.
func (s *SettingsStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM operation_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overrides := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		overrides[key] = value
	}
	return overrides, rows.Err()
}

// Upsert writes one override.
func (s *SettingsStore) Upsert(ctx context.Context, key, value, actor string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operation_settings (key, value, updated_by, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = now()`,
		key, value, actor)
	return err
}

// Delete removes one override.
func (s *SettingsStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM operation_settings WHERE key = $1`, key)
	return err
}
