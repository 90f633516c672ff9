/**
 * @description
 * Session management for the investment-service. Each user has at most one
 * active session: issuing a new token atomically replaces the previous row, so
 * a second login invalidates the first device's token.
 *
 * Tokens are HS256 JWTs. Only a SHA-256 hash of the issued token is stored;
 * validation requires both a valid signature and a hash match against the
 * active session row.
 */

package app

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ideainvest/investment-service/internal/domain"
	"github.com/ideainvest/investment-service/internal/store"
)

var (
	ErrInvalidSessionToken = errors.New("session token is invalid")
	ErrSessionRevoked      = errors.New("session has been revoked or replaced")
)

// SessionManager issues, validates, and revokes user sessions.
type SessionManager struct {
	repo   store.Repository
	secret []byte
	ttl    time.Duration
}

func NewSessionManager(repo store.Repository, secret string, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{
		repo:   repo,
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Issue mints a token for the user and swaps it in as the single active
// session. Any previously issued token stops validating immediately.
func (m *SessionManager) Issue(ctx context.Context, userID uuid.UUID) (string, *domain.Session, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(m.ttl)

	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	session := &domain.Session{
		UserID:    userID,
		TokenHash: hashToken(token),
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	if err := m.repo.SwapActiveSession(ctx, session); err != nil {
		return "", nil, fmt.Errorf("failed to store session: %w", err)
	}
	return token, session, nil
}

// Validate checks the token signature and claims, then confirms it is still
// the user's active session. Returns the authenticated user id.
func (m *SessionManager) Validate(ctx context.Context, token string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrInvalidSessionToken
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return uuid.Nil, ErrInvalidSessionToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidSessionToken
	}

	session, err := m.repo.FindActiveSession(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return uuid.Nil, ErrSessionRevoked
		}
		return uuid.Nil, err
	}
	if time.Now().After(session.ExpiresAt) {
		return uuid.Nil, ErrSessionRevoked
	}
	if subtle.ConstantTimeCompare([]byte(session.TokenHash), []byte(hashToken(token))) != 1 {
		return uuid.Nil, ErrSessionRevoked
	}
	return userID, nil
}

// Revoke deletes the user's active session.
func (m *SessionManager) Revoke(ctx context.Context, userID uuid.UUID) error {
	return m.repo.DeleteActiveSession(ctx, userID)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
