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

// Package consent is a minimal projection of FHIR Consent resources,
// consulted by the policy engine when a policy or script wants to defer a
// decision to a patient's consent directive.
package consent

import (
	"context"
	"errors"
	"time"
)

// ErrConsentNotFound is returned when a consent lookup finds no record.
var ErrConsentNotFound = errors.New("consent not found")

// ProvisionType mirrors FHIR Consent.provision.type.
type ProvisionType string

const (
	ProvisionPermit ProvisionType = "permit"
	ProvisionDeny   ProvisionType = "deny"
)

// Consent represents a resource boundary for authorization: a patient's
// directive permitting or denying some category of access.
//
// Purpose: Entity consulted by the PolicyEngine/scripts for consent-gated
// access decisions.
// Domain: Authz
// Invariants: ID must be unique. PatientID must reference an existing
// patient compartment.
type Consent struct {
	ID              string     `json:"id"`
	PatientID       string     `json:"patient_id"`
	Status          string     `json:"status"` // active | inactive | entered-in-error
	ProvisionType   string     `json:"provision_type"`
	ProvisionAction string     `json:"provision_action,omitempty"`
	ProvisionStart  *time.Time `json:"provision_start,omitempty"`
	ProvisionEnd    *time.Time `json:"provision_end,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the consent is currently in force at t.
func (c *Consent) Active(t time.Time) bool {
	if c.Status != "active" {
		return false
	}
	if c.ProvisionStart != nil && t.Before(*c.ProvisionStart) {
		return false
	}
	if c.ProvisionEnd != nil && t.After(*c.ProvisionEnd) {
		return false
	}
	return true
}

// ConsentRepository defines the interface for consent persistence.
//
// Purpose: Abstraction for managing consent-directive storage, and the
// ConsentStorage contract the PolicyEngine's script helpers read from.
// Domain: Authz
type ConsentRepository interface {
	Create(ctx context.Context, c *Consent) error
	GetByID(ctx context.Context, id string) (*Consent, error)
	Update(ctx context.Context, c *Consent) error
	Delete(ctx context.Context, id string) error

	// ListActiveForPatient returns every consent record on file for a
	// patient, active or not; callers filter with Active() themselves so
	// the repository stays a thin read path.
	ListActiveForPatient(ctx context.Context, patientID string) ([]*Consent, error)
}
