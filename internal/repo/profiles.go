package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"toolgate/internal/domain"
)

// LoadProfiles returns the persisted profile collection, or ErrNotFound on a fresh store.
func (r Repo) LoadProfiles(ctx context.Context) ([]domain.Profile, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM profile_collection WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var profiles []domain.Profile
	if err := json.Unmarshal([]byte(payload), &profiles); err != nil {
		return nil, fmt.Errorf("decode profile collection: %w", err)
	}
	return profiles, nil
}

// SaveProfiles replaces the whole collection in a single statement.
func (r Repo) SaveProfiles(ctx context.Context, profiles []domain.Profile) error {
	if profiles == nil {
		profiles = []domain.Profile{}
	}
	data, err := json.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("encode profile collection: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO profile_collection(id,payload_json,updated_at) VALUES (1,?,?)
ON CONFLICT(id) DO UPDATE SET payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
		string(data), time.Now().UTC().Format(time.RFC3339))
	return err
}
