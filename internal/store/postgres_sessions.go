/**
 * @description
 * This file provides the PostgreSQL implementation of the session store. Each
 * user holds at most one active session row; issuing a new session swaps the
 * previous one out atomically via an upsert, which logs out the prior device
 * in the same statement.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/ideainvest/investment-service/internal/domain"
	"github.com/jackc/pgx/v5"
)

// SwapActiveSession atomically replaces the user's active session. The
// previous session token (if any) stops validating the moment this commits.
func (r *PostgresRepository) SwapActiveSession(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (user_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET token_hash = EXCLUDED.token_hash,
		              issued_at = EXCLUDED.issued_at,
		              expires_at = EXCLUDED.expires_at
	`
	_, err := r.db.Exec(ctx, query, session.UserID, session.TokenHash, session.IssuedAt, session.ExpiresAt)
	return err
}

// FindActiveSession retrieves the user's current session, expired or not;
// expiry is the caller's concern.
func (r *PostgresRepository) FindActiveSession(ctx context.Context, userID uuid.UUID) (*domain.Session, error) {
	var session domain.Session
	query := `SELECT user_id, token_hash, issued_at, expires_at FROM sessions WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&session.UserID, &session.TokenHash, &session.IssuedAt, &session.ExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// DeleteActiveSession logs the user out everywhere.
func (r *PostgresRepository) DeleteActiveSession(ctx context.Context, userID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}
