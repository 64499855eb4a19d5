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
	"github.com/opentrusty/fhir-authz-core/launch"
)

// LaunchRepository implements launch.LaunchContextStorage.
//
// Purpose: PostgreSQL implementation of single-use SMART launch context
// persistence.
// Domain: Authz (Infrastructure)
type LaunchRepository struct {
	db *DB
}

// NewLaunchRepository creates a new launch context repository.
func NewLaunchRepository(db *DB) *LaunchRepository {
	return &LaunchRepository{db: db}
}

// Put persists a newly created launch context.
func (r *LaunchRepository) Put(ctx context.Context, lc *launch.StoredLaunchContext) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO launch_contexts (
			launch_id, patient, encounter, intent, need_patient_banner, fhir_context, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, lc.LaunchID, lc.Patient, lc.Encounter, lc.Intent, lc.NeedPatientBanner, lc.FHIRContext, lc.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert launch context: %w", err)
	}
	return nil
}

// Consume atomically retrieves and deletes the context for launchID.
func (r *LaunchRepository) Consume(ctx context.Context, launchID string) (*launch.StoredLaunchContext, error) {
	var lc launch.StoredLaunchContext
	err := r.db.pool.QueryRow(ctx, `
		DELETE FROM launch_contexts
		WHERE launch_id = $1
		RETURNING launch_id, patient, encounter, intent, need_patient_banner, fhir_context, expires_at
	`, launchID).Scan(
		&lc.LaunchID, &lc.Patient, &lc.Encounter, &lc.Intent, &lc.NeedPatientBanner, &lc.FHIRContext, &lc.ExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, launch.ErrLaunchNotFound
		}
		return nil, fmt.Errorf("failed to consume launch context: %w", err)
	}
	return &lc, nil
}
