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

package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/opentrusty/fhir-authz-core/client"
)

// fakeClientRepo is a minimal in-memory client.Repository backing only
// the lookups Authorize needs.
type fakeClientRepo struct {
	byClientID map[string]*client.Client
}

func newFakeClientRepo(clients ...*client.Client) *fakeClientRepo {
	r := &fakeClientRepo{byClientID: make(map[string]*client.Client)}
	for _, c := range clients {
		r.byClientID[c.ClientID] = c
	}
	return r
}

func (r *fakeClientRepo) Create(ctx context.Context, c *client.Client) error { return nil }
func (r *fakeClientRepo) GetByID(ctx context.Context, id string) (*client.Client, error) {
	return nil, client.ErrClientNotFound
}
func (r *fakeClientRepo) GetByClientID(ctx context.Context, clientID string) (*client.Client, error) {
	c, ok := r.byClientID[clientID]
	if !ok {
		return nil, client.ErrClientNotFound
	}
	return c, nil
}
func (r *fakeClientRepo) Update(ctx context.Context, c *client.Client) error { return nil }
func (r *fakeClientRepo) Delete(ctx context.Context, id string) error        { return nil }
func (r *fakeClientRepo) List(ctx context.Context, limit, offset int) ([]*client.Client, error) {
	return nil, nil
}

// memSessionStorage is a minimal in-memory AuthorizeSessionStorage.
type memSessionStorage struct {
	byCode map[string]*AuthorizationSession
}

func newMemSessionStorage() *memSessionStorage {
	return &memSessionStorage{byCode: make(map[string]*AuthorizationSession)}
}

func (m *memSessionStorage) Put(ctx context.Context, sess *AuthorizationSession) error {
	m.byCode[sess.Code] = sess
	return nil
}

func (m *memSessionStorage) Consume(ctx context.Context, code string) (*AuthorizationSession, error) {
	sess, ok := m.byCode[code]
	if !ok {
		return nil, ErrSessionNotFound
	}
	delete(m.byCode, code)
	return sess, nil
}

func testClient() *client.Client {
	return &client.Client{
		ID:            "internal-1",
		ClientID:      "c1",
		Type:          client.TypePublic,
		RedirectURIs:  []string{"https://app.example.org/callback"},
		AllowedScopes: []string{"patient/Observation.rs", "launch", "openid"},
		GrantTypes:    []string{GrantAuthorizationCode, GrantRefreshToken},
		IsActive:      true,
	}
}

func newTestOAuthService(clients ...*client.Client) *Service {
	return NewService(newFakeClientRepo(clients...), nil, nil, nil, nil, nil, nil, nil, "https://authz.example.org")
}

func codeChallengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestAuthorizeHappyPath(t *testing.T) {
	svc := newTestOAuthService(testClient())
	req := &AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "c1",
		RedirectURI:         "https://app.example.org/callback",
		Scope:               "patient/Observation.rs launch openid",
		CodeChallenge:       codeChallengeFor("verifier123"),
		CodeChallengeMethod: "S256",
		State:               "xyz",
	}
	c, err := svc.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %+v", err)
	}
	if c.ClientID != "c1" {
		t.Fatalf("expected resolved client c1, got %q", c.ClientID)
	}
}

func TestAuthorizeRejectsPlainPKCEMethod(t *testing.T) {
	svc := newTestOAuthService(testClient())
	req := &AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "c1",
		RedirectURI:         "https://app.example.org/callback",
		Scope:               "patient/Observation.rs",
		CodeChallenge:       "plaintext-challenge",
		CodeChallengeMethod: "plain",
	}
	_, err := svc.Authorize(context.Background(), req)
	if err == nil || err.Code != ErrInvalidRequest {
		t.Fatalf("expected invalid_request for method=plain, got %+v", err)
	}
}

func TestAuthorizeRequiresCodeChallenge(t *testing.T) {
	svc := newTestOAuthService(testClient())
	req := &AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "c1",
		RedirectURI:  "https://app.example.org/callback",
		Scope:        "patient/Observation.rs",
	}
	_, err := svc.Authorize(context.Background(), req)
	if err == nil || err.Code != ErrInvalidRequest {
		t.Fatalf("expected invalid_request for missing code_challenge, got %+v", err)
	}
}

func TestAuthorizeUnregisteredRedirectURIIsDirectRender(t *testing.T) {
	svc := newTestOAuthService(testClient())
	req := &AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "c1",
		RedirectURI:         "https://evil.example.org/callback",
		Scope:               "patient/Observation.rs",
		CodeChallenge:       codeChallengeFor("v"),
		CodeChallengeMethod: "S256",
	}
	_, err := svc.Authorize(context.Background(), req)
	if err == nil {
		t.Fatal("expected an error for an unregistered redirect_uri")
	}
	if !err.IsDirectRender() {
		t.Fatal("expected an unregistered redirect_uri to be flagged for direct rendering, not a redirect")
	}
}

func TestAuthorizeUnknownClientIsDirectRender(t *testing.T) {
	svc := newTestOAuthService()
	req := &AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "does-not-exist",
		RedirectURI:         "https://app.example.org/callback",
		CodeChallenge:       codeChallengeFor("v"),
		CodeChallengeMethod: "S256",
	}
	_, err := svc.Authorize(context.Background(), req)
	if err == nil || !err.IsDirectRender() {
		t.Fatalf("expected a direct-render error for an unknown client_id, got %+v", err)
	}
}

func TestAuthorizeRejectsScopeOutsideAllowedSet(t *testing.T) {
	svc := newTestOAuthService(testClient())
	req := &AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "c1",
		RedirectURI:         "https://app.example.org/callback",
		Scope:               "system/*.cruds", // not in AllowedScopes
		CodeChallenge:       codeChallengeFor("v"),
		CodeChallengeMethod: "S256",
	}
	_, err := svc.Authorize(context.Background(), req)
	if err == nil || err.Code != ErrInvalidScope {
		t.Fatalf("expected invalid_scope, got %+v", err)
	}
}

func TestVerifyPKCEExactMatchOnly(t *testing.T) {
	verifier := "a-very-random-code-verifier-value"
	challenge := codeChallengeFor(verifier)

	if !verifyPKCE(challenge, verifier) {
		t.Fatal("expected matching verifier/challenge pair to verify")
	}
	if verifyPKCE(challenge, verifier+"x") {
		t.Fatal("expected a single-character verifier mismatch to fail verification")
	}
	if verifyPKCE("", verifier) {
		t.Fatal("expected an empty challenge to never verify")
	}
	if verifyPKCE(challenge, "") {
		t.Fatal("expected an empty verifier to never verify")
	}
}

func TestIsScopeSubsetNarrowingRules(t *testing.T) {
	original := "patient/Observation.rs patient/Patient.r launch"
	if !isScopeSubset("patient/Observation.rs", original) {
		t.Fatal("expected a narrower scope string to be accepted")
	}
	if !isScopeSubset(original, original) {
		t.Fatal("expected the identical scope string to be accepted")
	}
	if isScopeSubset("patient/Observation.rs system/*.cruds", original) {
		t.Fatal("expected a scope string widening beyond the original to be rejected")
	}
}

func TestIssueCodeExpiresWithinSpecBound(t *testing.T) {
	if DefaultAuthorizationCodeTTL > 60*time.Second {
		t.Fatalf("authorization code TTL must not exceed 60s, got %s", DefaultAuthorizationCodeTTL)
	}
}

func TestIssueCodeNarrowsGrantedScopeAgainstRequested(t *testing.T) {
	sessions := newMemSessionStorage()
	svc := NewService(newFakeClientRepo(testClient()), nil, sessions, nil, nil, nil, nil, nil, "https://authz.example.org")

	req := &AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "c1",
		RedirectURI:         "https://app.example.org/callback",
		Scope:               "patient/Observation.rs openid",
		CodeChallenge:       codeChallengeFor("v"),
		CodeChallengeMethod: "S256",
	}

	// The consent step hands back a scope that widens past what was
	// requested (extra "u" permission, an unrequested scope entirely) —
	// IssueCode must narrow this down rather than persist it verbatim.
	code, err := svc.IssueCode(context.Background(), IssueCodeParams{
		Request:      req,
		UserID:       "u1",
		GrantedScope: "patient/Observation.rsu launch openid",
	})
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}

	sess, ok := sessions.byCode[code]
	if !ok {
		t.Fatalf("expected session to be persisted under code %q", code)
	}
	if sess.ScopesGranted != "patient/Observation.rs openid" {
		t.Fatalf("expected granted scope narrowed to %q, got %q", "patient/Observation.rs openid", sess.ScopesGranted)
	}
}
