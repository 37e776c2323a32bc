package postgres

import (
	"context"
	"fmt"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

const schema = `
CREATE TABLE IF NOT EXISTS device_tokens (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	platform   TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS device_tokens_owner_idx
	ON device_tokens (user_id, platform) WHERE active;
`

// TokenStore implements dispatch.TokenStore on a single device_tokens table.
// A token belongs to exactly one user; registering it again moves it.
type TokenStore struct {
	db *DB
}

func NewTokenStore(db *DB) *TokenStore {
	return &TokenStore{db: db}
}

// Migrate creates the table and index if they do not exist.
func (s *TokenStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate device_tokens: %w", err)
	}
	return nil
}

func (s *TokenStore) RegisterToken(ctx context.Context, token push.DeviceToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_tokens (token, user_id, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE
			SET user_id = EXCLUDED.user_id,
			    platform = EXCLUDED.platform,
			    active = true,
			    updated_at = NOW()`,
		token.Token, token.UserID, token.Platform,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device token: %w", err)
	}
	return nil
}

func (s *TokenStore) ListActiveTokens(ctx context.Context, user urn.URN, platform string) ([]push.DeviceToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, user_id, platform, active, updated_at
		FROM device_tokens
		WHERE user_id = $1 AND platform = $2 AND active = true
		ORDER BY created_at`,
		user.String(), platform,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get device tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]push.DeviceToken, 0)
	for rows.Next() {
		var t push.DeviceToken
		if err := rows.Scan(&t.Token, &t.UserID, &t.Platform, &t.Active, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Deactivate is idempotent: inactive and unknown tokens match no row.
func (s *TokenStore) Deactivate(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE device_tokens SET active = false, updated_at = NOW() WHERE token = $1 AND active = true`,
		token,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate token: %w", err)
	}
	return nil
}
