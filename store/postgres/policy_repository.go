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
	"github.com/opentrusty/fhir-authz-core/policy"
)

// PolicyRepository implements policycache.PolicyStorage plus the CRUD
// operations an admin API needs to manage AccessPolicy resources.
//
// Purpose: PostgreSQL implementation of access-policy persistence.
// Domain: Authz (Infrastructure)
type PolicyRepository struct {
	db *DB
}

// NewPolicyRepository creates a new policy repository.
func NewPolicyRepository(db *DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

const policyColumns = `id, name, priority, engine, script, matcher, active, created_at, updated_at`

func scanPolicy(row rowScanner) (*policy.AccessPolicy, error) {
	var p policy.AccessPolicy
	var engine string
	err := row.Scan(&p.ID, &p.Name, &p.Priority, &engine, &p.Script, &p.Matcher, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Engine = policy.EngineKind(engine)
	return &p, nil
}

// ListActive returns every policy currently marked active, the set the
// policycache.ReloadService compiles into a fresh policy.Snapshot.
func (r *PolicyRepository) ListActive(ctx context.Context) ([]policy.AccessPolicy, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+policyColumns+`
		FROM access_policies
		WHERE active = TRUE
		ORDER BY priority DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active policies: %w", err)
	}
	defer rows.Close()

	var policies []policy.AccessPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

// Create persists a new access policy.
func (r *PolicyRepository) Create(ctx context.Context, p *policy.AccessPolicy) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO access_policies (id, name, priority, engine, script, matcher, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, p.ID, p.Name, p.Priority, string(p.Engine), p.Script, p.Matcher, p.Active)
	if err != nil {
		return fmt.Errorf("failed to insert policy: %w", err)
	}
	return nil
}

// GetByID retrieves a single policy by ID, active or not.
func (r *PolicyRepository) GetByID(ctx context.Context, id string) (*policy.AccessPolicy, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM access_policies WHERE id = $1`, id)
	p, err := scanPolicy(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, policy.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return p, nil
}

// List returns every policy, active or not, for the admin API.
func (r *PolicyRepository) List(ctx context.Context) ([]*policy.AccessPolicy, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT `+policyColumns+` FROM access_policies ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []*policy.AccessPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// Update persists changes to an existing policy.
func (r *PolicyRepository) Update(ctx context.Context, p *policy.AccessPolicy) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE access_policies SET
			name = $2, priority = $3, engine = $4, script = $5, matcher = $6, active = $7, updated_at = NOW()
		WHERE id = $1
	`, p.ID, p.Name, p.Priority, string(p.Engine), p.Script, p.Matcher, p.Active)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if result.RowsAffected() == 0 {
		return policy.ErrPolicyNotFound
	}
	return nil
}

// Delete removes a policy outright; policies have no soft-delete
// semantics since a retired policy carries no retention requirement.
func (r *PolicyRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM access_policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if result.RowsAffected() == 0 {
		return policy.ErrPolicyNotFound
	}
	return nil
}
