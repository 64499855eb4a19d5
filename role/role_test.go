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

package role

import (
	"testing"
)

func TestRoleHasPermission(t *testing.T) {
	tests := []struct {
		name       string
		role       Role
		permission string
		want       bool
	}{
		{
			name: "exact match",
			role: Role{
				Permissions: []string{"read:Patient", "write:Patient"},
			},
			permission: "read:Patient",
			want:       true,
		},
		{
			name: "wildcard match",
			role: Role{
				Permissions: []string{"*"},
			},
			permission: "any:permission",
			want:       true,
		},
		{
			name: "no match",
			role: Role{
				Permissions: []string{"read:Patient"},
			},
			permission: "write:Patient",
			want:       false,
		},
		{
			name: "empty permissions",
			role: Role{
				Permissions: []string{},
			},
			permission: "read:Patient",
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.role.HasPermission(tt.permission); got != tt.want {
				t.Errorf("Role.HasPermission() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAdminRoleWildcard(t *testing.T) {
	admin := Role{Name: RoleAdmin, Permissions: []string{"*"}}
	if !admin.HasPermission("Patient.read") {
		t.Error("admin role should have all permissions via wildcard")
	}

	practitioner := Role{Name: RolePractitioner, Permissions: []string{"Patient.read", "Observation.read"}}
	if practitioner.HasPermission("Patient.delete") {
		t.Error("practitioner role should not have permissions it was not granted")
	}
}
