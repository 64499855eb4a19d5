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
	"errors"
	"strings"
	"time"

	"github.com/opentrusty/fhir-authz-core/audit"
	"github.com/opentrusty/fhir-authz-core/client"
	"github.com/opentrusty/fhir-authz-core/smartscope"
	"github.com/opentrusty/fhir-authz-core/token"
)

// Grant type identifiers accepted at /auth/token.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// TokenRequest is the parsed form body of a POST /auth/token call,
// covering the fields any of the three supported grants may use.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
}

// Token dispatches req to the grant handler named by req.GrantType,
// authenticating creds against it first.
//
// Purpose: Single entry point for the token endpoint's three grants.
// Domain: Authz
func (s *Service) Token(ctx context.Context, req *TokenRequest, creds ClientCredentials) (*TokenResponse, *Error) {
	c, authErr := s.clientAuth.Authenticate(ctx, creds)
	if authErr != nil {
		return nil, authErr
	}

	switch req.GrantType {
	case GrantAuthorizationCode:
		return s.grantAuthorizationCode(ctx, req, c)
	case GrantRefreshToken:
		return s.grantRefreshToken(ctx, req, c)
	case GrantClientCredentials:
		return s.grantClientCredentials(ctx, req, c)
	default:
		return nil, NewError(ErrUnsupportedGrantType, "unsupported grant_type")
	}
}

func (s *Service) grantAuthorizationCode(ctx context.Context, req *TokenRequest, c *client.Client) (*TokenResponse, *Error) {
	if !c.AllowsGrant(GrantAuthorizationCode) {
		return nil, NewError(ErrUnauthorizedClient, "authorization_code grant not allowed for this client")
	}

	sess, err := s.sessions.Consume(ctx, req.Code)
	if err != nil {
		return nil, NewError(ErrInvalidGrant, "authorization code is invalid, expired, or already used")
	}
	if sess.ClientID != c.ClientID {
		return nil, NewError(ErrInvalidGrant, "authorization code was not issued to this client")
	}
	if sess.IsExpired() {
		return nil, NewError(ErrInvalidGrant, "authorization code expired")
	}
	if sess.RedirectURI != req.RedirectURI {
		return nil, NewError(ErrInvalidGrant, "redirect_uri does not match the authorization request")
	}
	if !verifyPKCE(sess.PKCEChallenge, req.CodeVerifier) {
		return nil, NewError(ErrInvalidGrant, "code_verifier does not match code_challenge")
	}

	var smart *token.SmartContext
	if sess.LaunchID != "" {
		if lc, lerr := s.launches.Consume(ctx, sess.LaunchID); lerr == nil {
			smart = &token.SmartContext{
				Patient:           lc.Patient,
				Encounter:         lc.Encounter,
				NeedPatientBanner: lc.NeedPatientBanner,
			}
		}
	}

	_, nonResource := smartscope.ParseAll(sess.ScopesGranted)
	fhirUser := ""
	if hasNonResourceScope(nonResource, smartscope.ScopeFHIRUser) {
		fhirUser = sess.UserID
	}

	accessToken, claims, merr := s.tokens.MintAccess(token.MintAccessParams{
		Subject:  sess.UserID,
		ClientID: c.ClientID,
		Audience: s.issuer,
		Scope:    sess.ScopesGranted,
		FHIRUser: fhirUser,
		SMART:    smart,
		TTL:      c.Lifetimes.AccessTokenTTL,
	})
	if merr != nil {
		return nil, NewError(ErrServerError, "failed to mint access token")
	}

	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(claims.ExpiresAt.Sub(claims.IssuedAt.Time).Seconds()),
		Scope:       sess.ScopesGranted,
	}

	if c.AllowsGrant(GrantRefreshToken) {
		rg, rerr := s.tokens.MintRefresh(ctx, c.ClientID, sess.UserID, sess.ScopesGranted, refreshTTL(c))
		if rerr == nil {
			resp.RefreshToken = rg.PlainToken
		}
	}

	if hasNonResourceScope(nonResource, smartscope.ScopeOpenID) {
		idToken, ierr := s.tokens.MintIDToken(token.MintIDTokenParams{
			Subject:     sess.UserID,
			Audience:    c.ClientID,
			Nonce:       sess.Nonce,
			AuthTime:    sess.IssuedAt,
			AccessToken: accessToken,
			FHIRUser:    fhirUser,
			TTL:         c.Lifetimes.IDTokenTTL,
		})
		if ierr == nil {
			resp.IDToken = idToken
		}
	}

	if smart != nil {
		resp.Patient = smart.Patient
		resp.Encounter = smart.Encounter
		resp.NeedPatientBanner = smart.NeedPatientBanner
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:       audit.TypeTokenIssued,
		ActorID:    sess.UserID,
		Resource:   audit.ResourceToken,
		TargetID:   c.ClientID,
		TargetName: c.Name,
		Metadata: map[string]any{
			"grant_type": GrantAuthorizationCode,
			"scope":      sess.ScopesGranted,
			"has_rt":     resp.RefreshToken != "",
			"has_it":     resp.IDToken != "",
		},
	})

	return resp, nil
}

func (s *Service) grantRefreshToken(ctx context.Context, req *TokenRequest, c *client.Client) (*TokenResponse, *Error) {
	if !c.AllowsGrant(GrantRefreshToken) {
		return nil, NewError(ErrUnauthorizedClient, "refresh_token grant not allowed for this client")
	}
	if req.RefreshToken == "" {
		return nil, NewError(ErrInvalidRequest, "refresh_token is required")
	}

	oldScope, serr := s.tokens.RefreshScope(ctx, req.RefreshToken)
	if serr != nil {
		return nil, NewError(ErrInvalidGrant, "refresh token is invalid or unknown")
	}
	if req.Scope != "" && !isScopeSubset(req.Scope, oldScope) {
		return nil, NewError(ErrInvalidScope, "requested scope must not exceed the original grant")
	}

	grant, rerr := s.tokens.RotateRefresh(ctx, req.RefreshToken, c.ClientID, req.Scope, refreshTTL(c))
	if rerr != nil {
		if errors.Is(rerr, token.ErrRefreshTokenRotated) {
			// The token was already rotated out once — a second
			// presentation means it leaked, and RotateRefresh has
			// already revoked the whole chain.
			s.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeRefreshTokenReused,
				Resource: audit.ResourceToken,
				TargetID: c.ClientID,
			})
		}
		return nil, NewError(ErrInvalidGrant, "refresh token is invalid or was already used")
	}

	accessToken, claims, merr := s.tokens.MintAccess(token.MintAccessParams{
		Subject:  grant.Record.UserID,
		ClientID: c.ClientID,
		Audience: s.issuer,
		Scope:    grant.Record.Scope,
		TTL:      c.Lifetimes.AccessTokenTTL,
	})
	if merr != nil {
		return nil, NewError(ErrServerError, "failed to mint access token")
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  grant.Record.UserID,
		Resource: audit.ResourceToken,
		TargetID: c.ClientID,
		Metadata: map[string]any{"grant_type": GrantRefreshToken, "scope": grant.Record.Scope},
	})

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(claims.ExpiresAt.Sub(claims.IssuedAt.Time).Seconds()),
		RefreshToken: grant.PlainToken,
		Scope:        grant.Record.Scope,
	}, nil
}

func (s *Service) grantClientCredentials(ctx context.Context, req *TokenRequest, c *client.Client) (*TokenResponse, *Error) {
	if !c.IsConfidential() {
		return nil, NewError(ErrUnauthorizedClient, "client_credentials requires a confidential client")
	}
	if !c.AllowsGrant(GrantClientCredentials) {
		return nil, NewError(ErrUnauthorizedClient, "client_credentials grant not allowed for this client")
	}
	if !c.ValidateScope(req.Scope) {
		return nil, NewError(ErrInvalidScope, "requested scope exceeds what this client is allowed")
	}

	accessToken, claims, merr := s.tokens.MintAccess(token.MintAccessParams{
		Subject:  c.ClientID,
		ClientID: c.ClientID,
		Audience: s.issuer,
		Scope:    req.Scope,
		TTL:      c.Lifetimes.AccessTokenTTL,
	})
	if merr != nil {
		return nil, NewError(ErrServerError, "failed to mint access token")
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  c.ClientID,
		Resource: audit.ResourceToken,
		TargetID: c.ClientID,
		Metadata: map[string]any{"grant_type": GrantClientCredentials, "scope": req.Scope},
	})

	// client_credentials never issues a refresh token (no end user to
	// re-authenticate as, and the client can always mint a fresh one).
	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(claims.ExpiresAt.Sub(claims.IssuedAt.Time).Seconds()),
		Scope:       req.Scope,
	}, nil
}

func verifyPKCE(challenge, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return computed == challenge
}

func isScopeSubset(narrowed, original string) bool {
	allowed := make(map[string]bool)
	for _, tok := range strings.Fields(original) {
		allowed[tok] = true
	}
	for _, tok := range strings.Fields(narrowed) {
		if !allowed[tok] {
			return false
		}
	}
	return true
}

func hasNonResourceScope(scopes []smartscope.NonResourceScope, want smartscope.NonResourceScope) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

func refreshTTL(c *client.Client) time.Duration {
	if c.Lifetimes.RefreshTokenTTL > 0 {
		return c.Lifetimes.RefreshTokenTTL
	}
	return 30 * 24 * time.Hour
}
