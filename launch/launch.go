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

// Package launch stores and consumes SMART-on-FHIR launch context:
// the patient/encounter/intent bundle a launching EHR hands the
// authorization server ahead of an /authorize redirect.
package launch

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	ErrLaunchNotFound = errors.New("launch: context not found")
	ErrLaunchExpired  = errors.New("launch: context expired")
)

// DefaultTTL is the lifetime of a launch context before it expires
// unconsumed.
const DefaultTTL = 10 * time.Minute

// StoredLaunchContext is the SMART launch-context bundle a launching EHR
// registers, referenced from /authorize by its LaunchID and consumed
// exactly once during the token exchange.
//
// Purpose: Carries patient/encounter/intent context across the redirect
// to /authorize so the resulting access token can embed it.
// Domain: Authz
// Invariants: LaunchID is a cryptographically secure opaque token,
// consumed at most once, with a short (10 minute default) TTL.
type StoredLaunchContext struct {
	LaunchID          string
	Patient           string
	Encounter         string
	Intent            string
	NeedPatientBanner bool
	FHIRContext       []map[string]any
	ExpiresAt         time.Time
}

// IsExpired reports whether the context's TTL has elapsed.
func (l *StoredLaunchContext) IsExpired() bool {
	return time.Now().After(l.ExpiresAt)
}

// LaunchContextStorage is the persistence contract for launch contexts.
//
// Purpose: Abstraction over launch-context persistence and single-use
// consumption.
// Domain: Authz
type LaunchContextStorage interface {
	Put(ctx context.Context, lc *StoredLaunchContext) error
	// Consume atomically retrieves and deletes the context for launchID.
	// Returns ErrLaunchNotFound if launchID is unknown or already
	// consumed.
	Consume(ctx context.Context, launchID string) (*StoredLaunchContext, error)
}

// Service creates and consumes launch contexts.
//
// Purpose: Implementation of the /auth/launch endpoint's business logic.
// Domain: Authz
type Service struct {
	storage LaunchContextStorage
	ttl     time.Duration
}

// NewService constructs a launch Service. A non-positive ttl falls back
// to DefaultTTL.
func NewService(storage LaunchContextStorage, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{storage: storage, ttl: ttl}
}

// CreateParams configures a new launch context.
type CreateParams struct {
	Patient           string
	Encounter         string
	Intent            string
	NeedPatientBanner bool
	FHIRContext       []map[string]any
}

// Create registers a new launch context and returns its opaque ID and
// the TTL in seconds, matching the /auth/launch response shape
// {launch, expiresIn}.
func (s *Service) Create(ctx context.Context, p CreateParams) (launchID string, expiresIn int64, err error) {
	id, err := generateLaunchID()
	if err != nil {
		return "", 0, err
	}

	lc := &StoredLaunchContext{
		LaunchID:          id,
		Patient:           p.Patient,
		Encounter:         p.Encounter,
		Intent:            p.Intent,
		NeedPatientBanner: p.NeedPatientBanner,
		FHIRContext:       p.FHIRContext,
		ExpiresAt:         time.Now().Add(s.ttl),
	}
	if err := s.storage.Put(ctx, lc); err != nil {
		return "", 0, fmt.Errorf("launch: persist context: %w", err)
	}
	return id, int64(s.ttl.Seconds()), nil
}

// Consume retrieves and invalidates the launch context for launchID,
// called once during the authorization_code token exchange.
func (s *Service) Consume(ctx context.Context, launchID string) (*StoredLaunchContext, error) {
	lc, err := s.storage.Consume(ctx, launchID)
	if err != nil {
		return nil, ErrLaunchNotFound
	}
	if lc.IsExpired() {
		return nil, ErrLaunchExpired
	}
	return lc, nil
}

func generateLaunchID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("launch: random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
