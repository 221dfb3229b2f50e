package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meltforce/pushreps/internal/preferences"
)

// LoadPreferences returns the stored preferences or preferences.ErrNotStored.
func (db *DB) LoadPreferences(ctx context.Context) (*preferences.Preferences, error) {
	var raw []byte
	err := db.Pool.QueryRow(ctx, `SELECT preferences FROM user_preferences WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, preferences.ErrNotStored
	}
	if err != nil {
		return nil, fmt.Errorf("querying preferences: %w", err)
	}
	p := preferences.Defaults()
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding preferences: %w", err)
	}
	return &p, nil
}

// SavePreferences replaces the stored preferences.
func (db *DB) SavePreferences(ctx context.Context, p *preferences.Preferences) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}
	_, err = db.Pool.Exec(ctx,
		`INSERT INTO user_preferences (id, preferences, updated_at) VALUES (1, $1, NOW())
		 ON CONFLICT (id) DO UPDATE SET preferences = EXCLUDED.preferences, updated_at = NOW()`,
		raw)
	if err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}
	return nil
}
