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
	"github.com/opentrusty/fhir-authz-core/consent"
)

// ConsentRepository implements consent.ConsentRepository.
//
// Purpose: PostgreSQL implementation of consent-directive persistence.
// Domain: Authz (Infrastructure)
type ConsentRepository struct {
	db *DB
}

// NewConsentRepository creates a new consent repository
func NewConsentRepository(db *DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

// Create creates a new consent directive
func (r *ConsentRepository) Create(ctx context.Context, c *consent.Consent) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO consents (
			id, patient_id, status, provision_type, provision_action,
			provision_start, provision_end, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		c.ID, c.PatientID, c.Status, c.ProvisionType, c.ProvisionAction,
		c.ProvisionStart, c.ProvisionEnd, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create consent: %w", err)
	}
	return nil
}

// GetByID retrieves a consent directive by ID
func (r *ConsentRepository) GetByID(ctx context.Context, id string) (*consent.Consent, error) {
	var c consent.Consent
	var deletedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, patient_id, status, provision_type, provision_action,
			provision_start, provision_end, created_at, updated_at, deleted_at
		FROM consents
		WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(
		&c.ID, &c.PatientID, &c.Status, &c.ProvisionType, &c.ProvisionAction,
		&c.ProvisionStart, &c.ProvisionEnd, &c.CreatedAt, &c.UpdatedAt, &deletedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, consent.ErrConsentNotFound
		}
		return nil, fmt.Errorf("failed to get consent: %w", err)
	}

	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}

	return &c, nil
}

// Update updates a consent directive
func (r *ConsentRepository) Update(ctx context.Context, c *consent.Consent) error {
	c.UpdatedAt = time.Now()
	result, err := r.db.pool.Exec(ctx, `
		UPDATE consents SET
			status = $2,
			provision_type = $3,
			provision_action = $4,
			provision_start = $5,
			provision_end = $6,
			updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL
	`,
		c.ID, c.Status, c.ProvisionType, c.ProvisionAction,
		c.ProvisionStart, c.ProvisionEnd, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update consent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return consent.ErrConsentNotFound
	}
	return nil
}

// Delete soft-deletes a consent directive
func (r *ConsentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE consents SET deleted_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to delete consent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return consent.ErrConsentNotFound
	}
	return nil
}

// ListActiveForPatient returns every consent directive on file for a patient.
func (r *ConsentRepository) ListActiveForPatient(ctx context.Context, patientID string) ([]*consent.Consent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, patient_id, status, provision_type, provision_action,
			provision_start, provision_end, created_at, updated_at, deleted_at
		FROM consents
		WHERE patient_id = $1 AND deleted_at IS NULL
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	defer rows.Close()

	var consents []*consent.Consent
	for rows.Next() {
		var c consent.Consent
		var deletedAt sql.NullTime
		if err := rows.Scan(
			&c.ID, &c.PatientID, &c.Status, &c.ProvisionType, &c.ProvisionAction,
			&c.ProvisionStart, &c.ProvisionEnd, &c.CreatedAt, &c.UpdatedAt, &deletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan consent: %w", err)
		}
		if deletedAt.Valid {
			c.DeletedAt = &deletedAt.Time
		}
		consents = append(consents, &c)
	}
	return consents, nil
}
