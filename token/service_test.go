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

package token

import (
	"context"
	"sync"
	"testing"
	"time"
)

// memRefreshStorage is a minimal in-memory RefreshTokenStorage used only
// to exercise Service's rotation/breach-detection logic in isolation from
// any real persistence layer.
type memRefreshStorage struct {
	mu      sync.Mutex
	records map[string]*RefreshTokenRecord
}

func newMemRefreshStorage() *memRefreshStorage {
	return &memRefreshStorage{records: make(map[string]*RefreshTokenRecord)}
}

func (m *memRefreshStorage) Put(ctx context.Context, rec *RefreshTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.TokenHash] = &cp
	return nil
}

func (m *memRefreshStorage) Get(ctx context.Context, hash string) (*RefreshTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[hash]
	if !ok {
		return nil, ErrRefreshTokenNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memRefreshStorage) ConsumeAndRotate(ctx context.Context, hash string, next *RefreshTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[hash]
	if !ok {
		return ErrRefreshTokenNotFound
	}
	rec.RotatedTo = next.TokenHash
	cp := *next
	m.records[next.TokenHash] = &cp
	return nil
}

func (m *memRefreshStorage) RevokeChain(ctx context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash != "" {
		rec, ok := m.records[hash]
		if !ok {
			return nil
		}
		rec.Revoked = true
		hash = rec.RotatedTo
	}
	return nil
}

type memRevokedStorage struct {
	mu  sync.Mutex
	set map[string]time.Time
}

func newMemRevokedStorage() *memRevokedStorage {
	return &memRevokedStorage{set: make(map[string]time.Time)}
}

func (m *memRevokedStorage) Insert(ctx context.Context, entry RevokedTokenEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set[entry.JTI] = entry.ExpiresAt
	return nil
}

func (m *memRevokedStorage) Contains(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.set[jti]
	return ok, nil
}

func (m *memRevokedStorage) PurgeExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := time.Now()
	for jti, exp := range m.set {
		if now.After(exp) {
			delete(m.set, jti)
			n++
		}
	}
	return n, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	key, err := GenerateRSAKey("test-key-1", AlgRS256)
	if err != nil {
		t.Fatalf("GenerateRSAKey: %v", err)
	}
	ring := NewRing(&KeyRing{Active: key})
	return NewService(ring, "https://authz.example.org", newMemRevokedStorage(), newMemRefreshStorage(), 0)
}

func TestMintAccessValidateRoundTripYieldsIdenticalClaims(t *testing.T) {
	svc := newTestService(t)
	signed, claims, err := svc.MintAccess(MintAccessParams{
		Subject:  "user-1",
		ClientID: "client-1",
		Audience: "https://fhir.example.org",
		Scope:    "patient/Observation.rs launch openid",
		FHIRUser: "Patient/42",
	})
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}

	got, err := svc.ValidateAccess(context.Background(), signed, "https://fhir.example.org")
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if got.Subject != claims.Subject || got.Scope != claims.Scope || got.ClientID != claims.ClientID {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, claims)
	}
	if got.ID != claims.ID {
		t.Fatalf("jti mismatch: got %q, want %q", got.ID, claims.ID)
	}
}

func TestValidateAccessRejectsWrongAudience(t *testing.T) {
	svc := newTestService(t)
	signed, _, err := svc.MintAccess(MintAccessParams{
		Subject:  "user-1",
		ClientID: "client-1",
		Audience: "https://fhir.example.org",
		Scope:    "patient/Observation.rs",
	})
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}

	if _, err := svc.ValidateAccess(context.Background(), signed, "https://someone-else.example.org"); err == nil {
		t.Fatal("expected ValidateAccess to reject a mismatched audience")
	}
}

func TestRevokedJTIFailsValidationBeforeExpiry(t *testing.T) {
	svc := newTestService(t)
	signed, claims, err := svc.MintAccess(MintAccessParams{
		Subject:  "user-1",
		ClientID: "client-1",
		Audience: "https://fhir.example.org",
		Scope:    "patient/Observation.rs",
	})
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}

	if _, err := svc.ValidateAccess(context.Background(), signed, ""); err != nil {
		t.Fatalf("expected token to validate before revocation: %v", err)
	}

	if err := svc.RevokeAccess(context.Background(), claims.ID, "client-1", claims.ExpiresAt.Time); err != nil {
		t.Fatalf("RevokeAccess: %v", err)
	}

	if _, err := svc.ValidateAccess(context.Background(), signed, ""); err == nil {
		t.Fatal("expected ValidateAccess to reject a revoked jti before its natural expiry")
	}
}

func TestIntrospectCollapsesEveryNegativeCaseToInactive(t *testing.T) {
	svc := newTestService(t)
	signed, claims, err := svc.MintAccess(MintAccessParams{
		Subject:  "user-1",
		ClientID: "client-1",
		Audience: "https://fhir.example.org",
		Scope:    "patient/Observation.rs",
	})
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}

	if resp := svc.Introspect(context.Background(), signed, "client-1"); !resp.Active {
		t.Fatal("expected introspection of a live token owned by the requester to be active")
	}

	// Bound to a different client than the one requesting introspection.
	if resp := svc.Introspect(context.Background(), signed, "someone-else"); resp.Active {
		t.Fatal("expected introspection to report inactive for a token owned by another client")
	}

	// Malformed token.
	if resp := svc.Introspect(context.Background(), "not-a-jwt", "client-1"); resp.Active {
		t.Fatal("expected introspection of a malformed token to report inactive")
	}

	// Revoked token.
	if err := svc.RevokeAccess(context.Background(), claims.ID, "client-1", claims.ExpiresAt.Time); err != nil {
		t.Fatalf("RevokeAccess: %v", err)
	}
	if resp := svc.Introspect(context.Background(), signed, "client-1"); resp.Active {
		t.Fatal("expected introspection of a revoked token to report inactive")
	}
}

func TestRefreshRotationAndBreachDetection(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	grant1, err := svc.MintRefresh(ctx, "client-1", "user-1", "patient/Observation.rs", time.Hour)
	if err != nil {
		t.Fatalf("MintRefresh: %v", err)
	}

	grant2, err := svc.RotateRefresh(ctx, grant1.PlainToken, "client-1", "", time.Hour)
	if err != nil {
		t.Fatalf("RotateRefresh (first use): %v", err)
	}
	if grant2.PlainToken == grant1.PlainToken {
		t.Fatal("expected rotation to mint a distinct successor token")
	}

	// Presenting the already-rotated token again is a breach signal: it
	// must fail, and it must revoke the entire chain including grant2.
	if _, err := svc.RotateRefresh(ctx, grant1.PlainToken, "client-1", "", time.Hour); err == nil {
		t.Fatal("expected reuse of a rotated refresh token to fail")
	}

	if _, err := svc.RotateRefresh(ctx, grant2.PlainToken, "client-1", "", time.Hour); err == nil {
		t.Fatal("expected the rotated-in token to be revoked as part of chain revocation")
	}
}

func TestRefreshRotationKeepsNarrowedScope(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	grant, err := svc.MintRefresh(ctx, "client-1", "user-1", "patient/Observation.rs patient/Patient.r", time.Hour)
	if err != nil {
		t.Fatalf("MintRefresh: %v", err)
	}

	rotated, err := svc.RotateRefresh(ctx, grant.PlainToken, "client-1", "patient/Observation.r", time.Hour)
	if err != nil {
		t.Fatalf("RotateRefresh: %v", err)
	}
	if rotated.Record.Scope != "patient/Observation.r" {
		t.Fatalf("expected narrowed scope to stick, got %q", rotated.Record.Scope)
	}
}

func TestJWKSExposesActiveKey(t *testing.T) {
	svc := newTestService(t)
	set, err := svc.JWKS()
	if err != nil {
		t.Fatalf("JWKS: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 key in a fresh ring, got %d", set.Len())
	}
}
