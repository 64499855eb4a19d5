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

// Package oauth implements the authorization_code, refresh_token, and
// client_credentials grants; client authentication; discovery metadata;
// UserInfo; and RP-initiated logout.
package oauth

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrSessionNotFound = errors.New("oauth: authorization session not found")
	ErrSessionConsumed = errors.New("oauth: authorization code already used")
)

// AuthorizationSession is the server-side record created by a successful
// /authorize request and consumed exactly once by the subsequent
// authorization_code /token exchange.
//
// Purpose: Binds an issued authorization code to the exact request that
// produced it, so the token exchange can re-verify redirect_uri and PKCE
// without trusting the client's say-so.
// Domain: Authz
// Invariants: Code is single-use; RedirectURI is immutable once issued.
type AuthorizationSession struct {
	Code            string
	ClientID        string
	RedirectURI     string
	ScopesRequested string
	ScopesGranted   string
	UserID          string
	LaunchID        string
	Nonce           string
	State           string
	PKCEChallenge   string
	PKCEMethod      string
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// IsExpired reports whether the session's short authorization-code
// lifetime has elapsed.
func (s *AuthorizationSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// AuthorizeSessionStorage is the persistence contract for
// AuthorizationSession records.
//
// Purpose: Abstraction over authorization-code persistence and
// single-use consumption.
// Domain: Authz
type AuthorizeSessionStorage interface {
	Put(ctx context.Context, sess *AuthorizationSession) error
	// Consume atomically retrieves and deletes (or marks consumed) the
	// session for code. Returns ErrSessionNotFound if code is unknown or
	// was already consumed — callers must never distinguish "unknown"
	// from "already used" in the response they send back.
	Consume(ctx context.Context, code string) (*AuthorizationSession, error)
}

// TokenResponse is the JSON body returned from a successful /token call.
type TokenResponse struct {
	AccessToken       string `json:"access_token"`
	TokenType         string `json:"token_type"`
	ExpiresIn         int64  `json:"expires_in"`
	RefreshToken      string `json:"refresh_token,omitempty"`
	Scope             string `json:"scope,omitempty"`
	IDToken           string `json:"id_token,omitempty"`
	Patient           string `json:"patient,omitempty"`
	Encounter         string `json:"encounter,omitempty"`
	NeedPatientBanner bool   `json:"need_patient_banner,omitempty"`
	SMARTStyleURL     string `json:"smart_style_url,omitempty"`
}

// UserInfoResponse is the JSON body returned from /auth/userinfo.
type UserInfoResponse struct {
	Sub      string `json:"sub"`
	FHIRUser string `json:"fhirUser,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// DiscoveryDocument covers the fields shared by the SMART configuration
// and OIDC discovery documents; Service renders each endpoint's specific
// variant from the same issuer configuration.
type DiscoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	Capabilities                      []string `json:"capabilities,omitempty"`
}
