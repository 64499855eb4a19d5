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
	"github.com/opentrusty/fhir-authz-core/role"
)

// RoleRepository implements role.RoleRepository.
//
// Purpose: PostgreSQL implementation of flat role persistence.
// Domain: Authz (Infrastructure)
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// Create creates a new role
func (r *RoleRepository) Create(ctx context.Context, ro *role.Role) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO roles (id, name, description, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
	`, ro.ID, ro.Name, ro.Description, ro.Permissions)
	if err != nil {
		return fmt.Errorf("failed to insert role: %w", err)
	}
	return nil
}

// GetByID retrieves a role by ID
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*role.Role, error) {
	var ro role.Role
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, description, permissions
		FROM roles
		WHERE id = $1
	`, id).Scan(&ro.ID, &ro.Name, &ro.Description, &ro.Permissions)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, role.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &ro, nil
}

// GetByName retrieves a role by name
func (r *RoleRepository) GetByName(ctx context.Context, name string) (*role.Role, error) {
	var ro role.Role
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, description, permissions
		FROM roles
		WHERE name = $1
	`, name).Scan(&ro.ID, &ro.Name, &ro.Description, &ro.Permissions)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, role.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &ro, nil
}

// List retrieves all roles
func (r *RoleRepository) List(ctx context.Context) ([]*role.Role, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, description, permissions FROM roles ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*role.Role
	for rows.Next() {
		var ro role.Role
		if err := rows.Scan(&ro.ID, &ro.Name, &ro.Description, &ro.Permissions); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, &ro)
	}
	return roles, nil
}

// Update updates role information
func (r *RoleRepository) Update(ctx context.Context, ro *role.Role) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE roles SET description = $2, permissions = $3, updated_at = NOW()
		WHERE id = $1
	`, ro.ID, ro.Description, ro.Permissions)

	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return role.ErrRoleNotFound
	}
	return nil
}

// Delete deletes a role
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return role.ErrRoleNotFound
	}
	return nil
}

// ListForUser returns the role names assigned to a user.
func (r *RoleRepository) ListForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT r.name
		FROM roles r
		INNER JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles for user: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan role name: %w", err)
		}
		names = append(names, name)
	}
	return names, nil
}
