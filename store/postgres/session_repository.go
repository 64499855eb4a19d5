// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/fhir-authz-core/session"
)

// SessionRepository implements session.Repository
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a new session
func (r *SessionRepository) Create(ctx context.Context, sess *session.SsoSession) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO sso_sessions (id, user_id, ip_address, user_agent, expires_at, revoked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		sess.ID, sess.UserID, sess.IPAddress, sess.UserAgent,
		sess.ExpiresAt, sess.Revoked, sess.CreatedAt, sess.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*session.SsoSession, error) {
	var sess session.SsoSession

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, user_id, ip_address, user_agent, expires_at, revoked, created_at, updated_at
		FROM sso_sessions
		WHERE id = $1
	`, sessionID).Scan(
		&sess.ID, &sess.UserID, &sess.IPAddress, &sess.UserAgent,
		&sess.ExpiresAt, &sess.Revoked, &sess.CreatedAt, &sess.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &sess, nil
}

// Revoke marks a session as revoked.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE sso_sessions SET revoked = true, updated_at = $2
		WHERE id = $1
	`, sessionID, time.Now())

	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	if result.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}

	return nil
}

// RevokeAllForUser revokes every session belonging to userID.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE sso_sessions SET revoked = true, updated_at = $2
		WHERE user_id = $1 AND revoked = false
	`, userID, time.Now())

	if err != nil {
		return fmt.Errorf("failed to revoke user sessions: %w", err)
	}

	return nil
}

// CountActiveForUser counts non-revoked, non-expired sessions for a user.
func (r *SessionRepository) CountActiveForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM sso_sessions
		WHERE user_id = $1 AND revoked = false AND expires_at > $2
	`, userID, time.Now()).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}

	return count, nil
}

// DeleteExpired deletes all expired sessions, returning the count removed.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int, error) {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM sso_sessions WHERE expires_at < $1
	`, time.Now())

	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	return int(result.RowsAffected()), nil
}
