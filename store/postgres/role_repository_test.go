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
	"testing"

	"github.com/opentrusty/fhir-authz-core/role"
)

func TestRoleRepository(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewRoleRepository(db)

	r := &role.Role{
		ID:          "00000000-0000-0000-0000-000000000201",
		Name:        "care_coordinator",
		Description: "Can read and write clinical documents",
		Permissions: []string{"DocumentReference.read", "DocumentReference.write"},
	}

	t.Run("Create and Get", func(t *testing.T) {
		err := repo.Create(ctx, r)
		if err != nil {
			t.Fatalf("failed to create role: %v", err)
		}

		got, err := repo.GetByID(ctx, r.ID)
		if err != nil {
			t.Fatalf("failed to get role: %v", err)
		}
		if got.Name != r.Name {
			t.Errorf("expected name %s, got %s", r.Name, got.Name)
		}
		if len(got.Permissions) != 2 || got.Permissions[0] != "DocumentReference.read" {
			t.Errorf("expected permission DocumentReference.read, got %v", got.Permissions)
		}
	})

	t.Run("GetByName", func(t *testing.T) {
		got, err := repo.GetByName(ctx, r.Name)
		if err != nil {
			t.Fatalf("failed to get role by name: %v", err)
		}
		if got.ID != r.ID {
			t.Errorf("expected ID %s, got %s", r.ID, got.ID)
		}
	})

	t.Run("List", func(t *testing.T) {
		roles, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("failed to list roles: %v", err)
		}
		if len(roles) == 0 {
			t.Errorf("expected at least one role")
		}
	})

	t.Run("Update", func(t *testing.T) {
		r.Description = "Updated description"
		err := repo.Update(ctx, r)
		if err != nil {
			t.Fatalf("failed to update role: %v", err)
		}

		got, err := repo.GetByID(ctx, r.ID)
		if err != nil {
			t.Fatalf("failed to get role: %v", err)
		}
		if got.Description != "Updated description" {
			t.Errorf("expected updated description, got %s", got.Description)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		err := repo.Delete(ctx, r.ID)
		if err != nil {
			t.Fatalf("failed to delete role: %v", err)
		}

		_, err = repo.GetByID(ctx, r.ID)
		if err == nil {
			t.Errorf("expected error after delete, got nil")
		}
	})
}
