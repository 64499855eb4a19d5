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
	"github.com/opentrusty/fhir-authz-core/token"
)

// RefreshTokenRepository implements token.RefreshTokenStorage.
//
// Purpose: PostgreSQL implementation of refresh token rotation-chain
// persistence.
// Domain: Authz (Infrastructure)
type RefreshTokenRepository struct {
	db *DB
}

// NewRefreshTokenRepository creates a new refresh token repository.
func NewRefreshTokenRepository(db *DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Put persists a newly minted refresh token record.
func (r *RefreshTokenRepository) Put(ctx context.Context, rec *token.RefreshTokenRecord) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (
			token_hash, client_id, user_id, scope, issued_at, expires_at, rotated_to, revoked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.TokenHash, rec.ClientID, rec.UserID, rec.Scope, rec.IssuedAt, rec.ExpiresAt,
		rec.RotatedTo, rec.Revoked,
	)
	if err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

// Get retrieves a refresh token record by its hash.
func (r *RefreshTokenRepository) Get(ctx context.Context, hash string) (*token.RefreshTokenRecord, error) {
	var rec token.RefreshTokenRecord
	err := r.db.pool.QueryRow(ctx, `
		SELECT token_hash, client_id, user_id, scope, issued_at, expires_at, rotated_to, revoked
		FROM refresh_tokens
		WHERE token_hash = $1
	`, hash).Scan(
		&rec.TokenHash, &rec.ClientID, &rec.UserID, &rec.Scope, &rec.IssuedAt, &rec.ExpiresAt,
		&rec.RotatedTo, &rec.Revoked,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, token.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return &rec, nil
}

// ConsumeAndRotate marks the record at hash as rotated into next.TokenHash
// and inserts next as the new live record, inside a single transaction so
// a crash between the two writes can never leave an orphaned successor.
func (r *RefreshTokenRepository) ConsumeAndRotate(ctx context.Context, hash string, next *token.RefreshTokenRecord) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET rotated_to = $2
		WHERE token_hash = $1
	`, hash, next.TokenHash)
	if err != nil {
		return fmt.Errorf("failed to mark refresh token rotated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return token.ErrRefreshTokenNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (
			token_hash, client_id, user_id, scope, issued_at, expires_at, rotated_to, revoked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		next.TokenHash, next.ClientID, next.UserID, next.Scope, next.IssuedAt, next.ExpiresAt,
		next.RotatedTo, next.Revoked,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rotated refresh token: %w", err)
	}

	return tx.Commit(ctx)
}

// RevokeChain revokes the record at hash and, transitively, every record
// it was ever rotated into — used when a rotated-out token is presented
// a second time, signalling a leaked refresh token.
func (r *RefreshTokenRepository) RevokeChain(ctx context.Context, hash string) error {
	for hash != "" {
		var rotatedTo string
		err := r.db.pool.QueryRow(ctx, `
			UPDATE refresh_tokens SET revoked = TRUE
			WHERE token_hash = $1
			RETURNING rotated_to
		`, hash).Scan(&rotatedTo)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil
			}
			return fmt.Errorf("failed to revoke refresh token chain: %w", err)
		}
		hash = rotatedTo
	}
	return nil
}

// RevokedTokenRepository implements token.RevokedTokenStorage.
//
// Purpose: PostgreSQL implementation of access-token jti denylist
// persistence.
// Domain: Authz (Infrastructure)
type RevokedTokenRepository struct {
	db *DB
}

// NewRevokedTokenRepository creates a new revoked-token repository.
func NewRevokedTokenRepository(db *DB) *RevokedTokenRepository {
	return &RevokedTokenRepository{db: db}
}

// Insert records jti as revoked ahead of its natural expiry.
func (r *RevokedTokenRepository) Insert(ctx context.Context, entry token.RevokedTokenEntry) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO revoked_tokens (jti, client_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (jti) DO NOTHING
	`, entry.JTI, entry.ClientID, entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert revoked token: %w", err)
	}
	return nil
}

// Contains reports whether jti has been revoked.
func (r *RevokedTokenRepository) Contains(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1)
	`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return exists, nil
}

// PurgeExpired deletes revocation entries whose underlying token has
// naturally expired and no longer needs denylisting.
func (r *RevokedTokenRepository) PurgeExpired(ctx context.Context) (int, error) {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired revoked tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
