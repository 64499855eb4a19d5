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

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/fhir-authz-core/oauth"
)

// AuthorizeSessionRepository implements oauth.AuthorizeSessionStorage.
//
// Purpose: PostgreSQL implementation of single-use authorization code
// persistence.
// Domain: Authz (Infrastructure)
type AuthorizeSessionRepository struct {
	db *DB
}

// NewAuthorizeSessionRepository creates a new authorization session repository.
func NewAuthorizeSessionRepository(db *DB) *AuthorizeSessionRepository {
	return &AuthorizeSessionRepository{db: db}
}

// Put persists a newly issued authorization session.
func (r *AuthorizeSessionRepository) Put(ctx context.Context, sess *oauth.AuthorizationSession) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO authorization_sessions (
			code, client_id, redirect_uri, scopes_requested, scopes_granted,
			user_id, launch_id, nonce, state, pkce_challenge, pkce_method,
			issued_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		sess.Code, sess.ClientID, sess.RedirectURI, sess.ScopesRequested, sess.ScopesGranted,
		sess.UserID, sess.LaunchID, sess.Nonce, sess.State, sess.PKCEChallenge, sess.PKCEMethod,
		sess.IssuedAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert authorization session: %w", err)
	}
	return nil
}

// Consume atomically retrieves and deletes the session for code, so a
// code can never be exchanged twice even under concurrent requests.
func (r *AuthorizeSessionRepository) Consume(ctx context.Context, code string) (*oauth.AuthorizationSession, error) {
	var sess oauth.AuthorizationSession
	err := r.db.pool.QueryRow(ctx, `
		DELETE FROM authorization_sessions
		WHERE code = $1
		RETURNING code, client_id, redirect_uri, scopes_requested, scopes_granted,
			user_id, launch_id, nonce, state, pkce_challenge, pkce_method,
			issued_at, expires_at
	`, code).Scan(
		&sess.Code, &sess.ClientID, &sess.RedirectURI, &sess.ScopesRequested, &sess.ScopesGranted,
		&sess.UserID, &sess.LaunchID, &sess.Nonce, &sess.State, &sess.PKCEChallenge, &sess.PKCEMethod,
		&sess.IssuedAt, &sess.ExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to consume authorization session: %w", err)
	}
	return &sess, nil
}

// DeleteExpired removes authorization sessions past their short lifetime,
// for a periodic janitor to call.
func (r *AuthorizeSessionRepository) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM authorization_sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired authorization sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
