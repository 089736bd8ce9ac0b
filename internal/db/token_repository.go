package db

import (
	"context"
	"time"
)

// RevokedTokenRepository records revoked token ids until the token itself
// would have expired.
type RevokedTokenRepository struct {
	db *DB
}

func NewRevokedTokenRepository(db *DB) *RevokedTokenRepository {
	return &RevokedTokenRepository{db: db}
}

// Revoke reports whether the id was newly recorded. A second revocation of
// the same id returns false, which makes the insert usable as a
// compare-and-set.
func (r *RevokedTokenRepository) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	query := `
		INSERT INTO revoked_tokens (token_id, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (token_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, tokenID, expiresAt)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *RevokedTokenRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token_id = $1)`

	var revoked bool
	if err := r.db.QueryRowContext(ctx, query, tokenID).Scan(&revoked); err != nil {
		return false, err
	}
	return revoked, nil
}

// DeleteExpired drops entries whose token expired at or before now.
func (r *RevokedTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		DELETE FROM revoked_tokens
		WHERE expires_at <= $1
	`

	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}
