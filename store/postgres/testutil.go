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
	"os"
	"testing"

	"github.com/opentrusty/fhir-authz-core/role"
)

// allTables lists every table the schema defines, children before
// parents so a sweep without CASCADE would also work. Truncated before
// and after each test run so state never leaks across runs.
var allTables = []string{
	"audit_events",
	"consents",
	"user_roles",
	"roles",
	"credentials",
	"access_policies",
	"sso_sessions",
	"launch_contexts",
	"revoked_tokens",
	"refresh_tokens",
	"authorization_sessions",
	"clients",
	"users",
}

// SetupTestDB creates a connection to the test database and runs migrations.
func SetupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("TEST_DB_PORT")
	if port == "" {
		port = "5434" // Default port in docker-compose.test.yml
	}

	cfg := Config{
		Host:         host,
		Port:         port,
		User:         "opentrusty",
		Password:     "opentrusty_test_password",
		Database:     "opentrusty_test",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 10,
	}

	ctx := context.Background()
	db, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	// Run initial schema first (IF NOT EXISTS throughout), then sweep
	// any rows a previously failed run left behind.
	if err := db.MigrateInitial(ctx); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	truncateAll(ctx, db)

	if err := seedRoles(ctx, db); err != nil {
		db.Close()
		t.Fatalf("failed to seed roles: %v", err)
	}

	cleanup := func() {
		truncateAll(ctx, db)
		db.Close()
	}

	return db, cleanup
}

func truncateAll(ctx context.Context, db *DB) {
	for _, table := range allTables {
		_, _ = db.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
	}
}

// seedRoles inserts the canonical clinical-context roles most tests
// assign to users. IDs are fixed so tests can reference them directly.
func seedRoles(ctx context.Context, db *DB) error {
	roles := []role.Role{
		{ID: "00000000-0000-0000-0000-000000000001", Name: role.RoleAdmin,
			Description: "System administrator", Permissions: []string{"*"}},
		{ID: "00000000-0000-0000-0000-000000000002", Name: role.RolePractitioner,
			Description: "Clinician acting as themselves", Permissions: []string{}},
		{ID: "00000000-0000-0000-0000-000000000003", Name: role.RolePatient,
			Description: "Patient acting as themselves", Permissions: []string{}},
		{ID: "00000000-0000-0000-0000-000000000004", Name: role.RoleSystem,
			Description: "Backend service with no human user present", Permissions: []string{}},
	}

	for _, r := range roles {
		_, err := db.pool.Exec(ctx, `
			INSERT INTO roles (id, name, description, permissions)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO NOTHING
		`, r.ID, r.Name, r.Description, r.Permissions)
		if err != nil {
			return err
		}
	}
	return nil
}
