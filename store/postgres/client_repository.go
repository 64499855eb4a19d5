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
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/fhir-authz-core/client"
)

// ClientRepository implements client.Repository.
//
// Purpose: PostgreSQL implementation of OAuth2/OIDC client persistence.
// Domain: Authz (Infrastructure)
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository.
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

const clientColumns = `
	id, client_id, client_type, client_secret_hash, name, client_uri, logo_uri,
	redirect_uris, allowed_scopes, grant_types, response_types,
	token_endpoint_auth_method, jwks,
	access_token_ttl_seconds, refresh_token_ttl_seconds, id_token_ttl_seconds,
	is_trusted, is_active, created_at, updated_at, deleted_at`

// Create creates a new client registration.
func (r *ClientRepository) Create(ctx context.Context, c *client.Client) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO clients (
			id, client_id, client_type, client_secret_hash, name, client_uri, logo_uri,
			redirect_uris, allowed_scopes, grant_types, response_types,
			token_endpoint_auth_method, jwks,
			access_token_ttl_seconds, refresh_token_ttl_seconds, id_token_ttl_seconds,
			is_trusted, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		c.ID, c.ClientID, string(c.Type), c.SecretHash, c.Name, c.ClientURI, c.LogoURI,
		c.RedirectURIs, c.AllowedScopes, c.GrantTypes, c.ResponseTypes,
		string(c.TokenEndpointAuthMethod), c.JWKS,
		int64(c.Lifetimes.AccessTokenTTL.Seconds()),
		int64(c.Lifetimes.RefreshTokenTTL.Seconds()),
		int64(c.Lifetimes.IDTokenTTL.Seconds()),
		c.IsTrusted, c.IsActive, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert client: %w", err)
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func scanClient(row rowScanner) (*client.Client, error) {
	var c client.Client
	var clientType, authMethod string
	var jwks sql.NullString
	var accessTTL, refreshTTL, idTTL int64
	var deletedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.ClientID, &clientType, &c.SecretHash, &c.Name, &c.ClientURI, &c.LogoURI,
		&c.RedirectURIs, &c.AllowedScopes, &c.GrantTypes, &c.ResponseTypes,
		&authMethod, &jwks,
		&accessTTL, &refreshTTL, &idTTL,
		&c.IsTrusted, &c.IsActive, &c.CreatedAt, &c.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Type = client.Type(clientType)
	c.TokenEndpointAuthMethod = client.TokenEndpointAuthMethod(authMethod)
	c.JWKS = jwks.String
	c.Lifetimes = client.TokenLifetimes{
		AccessTokenTTL:  time.Duration(accessTTL) * time.Second,
		RefreshTokenTTL: time.Duration(refreshTTL) * time.Second,
		IDTokenTTL:      time.Duration(idTTL) * time.Second,
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	return &c, nil
}

// rowScanner covers the subset of pgx.Row/pgx.Rows that scanClient needs.
type rowScanner interface {
	Scan(dest ...any) error
}

// GetByID retrieves a client by its internal ID.
func (r *ClientRepository) GetByID(ctx context.Context, id string) (*client.Client, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1 AND deleted_at IS NULL`, id)
	c, err := scanClient(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

// GetByClientID retrieves a client by its public client_id.
func (r *ClientRepository) GetByClientID(ctx context.Context, clientID string) (*client.Client, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE client_id = $1 AND deleted_at IS NULL`, clientID)
	c, err := scanClient(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client by client_id: %w", err)
	}
	return c, nil
}

// Update persists changes to an existing client registration.
func (r *ClientRepository) Update(ctx context.Context, c *client.Client) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE clients SET
			client_secret_hash = $2,
			name = $3,
			client_uri = $4,
			logo_uri = $5,
			redirect_uris = $6,
			allowed_scopes = $7,
			grant_types = $8,
			response_types = $9,
			token_endpoint_auth_method = $10,
			jwks = $11,
			access_token_ttl_seconds = $12,
			refresh_token_ttl_seconds = $13,
			id_token_ttl_seconds = $14,
			is_trusted = $15,
			is_active = $16,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`,
		c.ID, c.SecretHash, c.Name, c.ClientURI, c.LogoURI,
		c.RedirectURIs, c.AllowedScopes, c.GrantTypes, c.ResponseTypes,
		string(c.TokenEndpointAuthMethod), c.JWKS,
		int64(c.Lifetimes.AccessTokenTTL.Seconds()),
		int64(c.Lifetimes.RefreshTokenTTL.Seconds()),
		int64(c.Lifetimes.IDTokenTTL.Seconds()),
		c.IsTrusted, c.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	if result.RowsAffected() == 0 {
		return client.ErrClientNotFound
	}
	return nil
}

// Delete soft-deletes a client registration.
func (r *ClientRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE clients SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if result.RowsAffected() == 0 {
		return client.ErrClientNotFound
	}
	return nil
}

// List returns a page of client registrations ordered by creation time.
func (r *ClientRepository) List(ctx context.Context, limit, offset int) ([]*client.Client, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*client.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
