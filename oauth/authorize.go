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
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/opentrusty/fhir-authz-core/client"
	"github.com/opentrusty/fhir-authz-core/smartscope"
)

// DefaultAuthorizationCodeTTL bounds how long an authorization code lives
// before the token exchange must consume it. Never raise this past 60
// seconds.
const DefaultAuthorizationCodeTTL = 60 * time.Second

// AuthorizeRequest is the parsed query-string of a GET /auth/authorize
// call (RFC 6749 §4.1.1, RFC 7636, SMART launch context).
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	LaunchID            string
}

// Authorize validates an /authorize request against the
// registered client (RFC 6749 §4.1.1, RFC 7636 §4.3). It returns the
// resolved Client on success, or an *Error classifying the failure.
//
// An invalid client_id or an unregistered redirect_uri must be rendered
// directly to the caller (Error.IsDirectRender reports this) rather than
// delivered via a redirect — every other failure redirects to
// req.RedirectURI with the error in the query string.
func (s *Service) Authorize(ctx context.Context, req *AuthorizeRequest) (*client.Client, *Error) {
	c, err := s.clients.GetByClientID(ctx, req.ClientID)
	if err != nil {
		return nil, NewError(ErrInvalidClient, "invalid client_id")
	}
	if !c.IsActive {
		return nil, NewError(ErrInvalidClient, "client is disabled")
	}
	if !c.HasRedirectURI(req.RedirectURI) {
		return nil, NewError(ErrInvalidClient, "redirect_uri is not registered for this client")
	}

	if req.ResponseType != "code" {
		return c, NewError(ErrUnsupportedResponseType, "response_type must be 'code'")
	}
	if !c.ValidateScope(req.Scope) {
		return c, NewError(ErrInvalidScope, "requested scope exceeds what this client is allowed")
	}

	// PKCE is mandatory for every client, and only S256 is accepted —
	// "plain" is rejected outright rather than downgraded.
	if req.CodeChallenge == "" {
		return c, NewError(ErrInvalidRequest, "code_challenge is required")
	}
	if req.CodeChallengeMethod != "S256" {
		return c, NewError(ErrInvalidRequest, "code_challenge_method must be S256")
	}

	return c, nil
}

// IssueCodeParams carries the outcome of a successful interactive
// login+consent step, needed to mint the AuthorizationSession.
type IssueCodeParams struct {
	Request *AuthorizeRequest
	UserID  string
	// GrantedScope is what the user actually consented to; it may narrow
	// Request.Scope but never widen it.
	GrantedScope string
}

// IssueCode creates and persists the AuthorizationSession backing a new
// authorization code, to be delivered to the client via
// "redirect_uri?code=...&state=...".
//
// Purpose: Final step of the /authorize flow once authentication and
// consent have both succeeded.
// Domain: Authz
// Audited: No (audit has no authorization-granted event type)
// Errors: System errors
func (s *Service) IssueCode(ctx context.Context, p IssueCodeParams) (code string, err error) {
	code, err = generateAuthorizationCode()
	if err != nil {
		return "", err
	}

	// GrantedScope comes from an interactive consent step outside this
	// package's control, so it is never trusted verbatim: intersecting it
	// against what was actually requested is what turns "may narrow, never
	// widen" from a doc comment into an enforced invariant.
	grantedScope := smartscope.IntersectScopeStrings(p.GrantedScope, p.Request.Scope)

	now := time.Now()
	sess := &AuthorizationSession{
		Code:            code,
		ClientID:        p.Request.ClientID,
		RedirectURI:     p.Request.RedirectURI,
		ScopesRequested: p.Request.Scope,
		ScopesGranted:   grantedScope,
		UserID:          p.UserID,
		LaunchID:        p.Request.LaunchID,
		Nonce:           p.Request.Nonce,
		State:           p.Request.State,
		PKCEChallenge:   p.Request.CodeChallenge,
		PKCEMethod:      p.Request.CodeChallengeMethod,
		IssuedAt:        now,
		ExpiresAt:       now.Add(DefaultAuthorizationCodeTTL),
	}

	if err := s.sessions.Put(ctx, sess); err != nil {
		return "", fmt.Errorf("oauth: persist authorization session: %w", err)
	}
	return code, nil
}

func generateAuthorizationCode() (string, error) {
	b := make([]byte, 16) // 128 bits of entropy
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauth: random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
