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
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Default lifetimes and clock-skew tolerance. Server-configured maximums
// (passed into NewService) always win over a caller-requested TTL.
const (
	DefaultAccessTokenTTL = 1 * time.Hour
	DefaultClockSkew      = 60 * time.Second
)

// FailureKind distinguishes why ValidateAccess rejected a token, for logging
// only. Every FailureKind MUST collapse to a single "invalid_token"
// response at the HTTP boundary — callers must never let the kind leak
// to the client.
type FailureKind string

const (
	FailureInvalidSignature FailureKind = "invalid_signature"
	FailureExpired          FailureKind = "expired"
	FailureNotYetValid      FailureKind = "not_yet_valid"
	FailureRevoked          FailureKind = "revoked"
	FailureWrongAudience    FailureKind = "wrong_audience"
	FailureMalformed        FailureKind = "malformed"
)

// ValidationError reports why ValidateAccess rejected a token.
type ValidationError struct {
	Kind FailureKind
	Err  error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("token: %s: %v", e.Kind, e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

// SmartContext carries the SMART launch-context fields an access token's
// extensions.smart claim, and the token response's top-level fields,
// surface when a launch was consumed during the grant.
type SmartContext struct {
	Patient           string `json:"patient,omitempty"`
	Encounter         string `json:"encounter,omitempty"`
	NeedPatientBanner bool   `json:"need_patient_banner,omitempty"`
}

type smartExtensions struct {
	SMART *SmartContext `json:"smart,omitempty"`
}

// AccessClaims is the claim set minted into, and parsed back out of, an
// access token JWT.
type AccessClaims struct {
	jwt.RegisteredClaims
	Scope      string           `json:"scope"`
	ClientID   string           `json:"client_id"`
	FHIRUser   string           `json:"fhirUser,omitempty"`
	Extensions *smartExtensions `json:"extensions,omitempty"`
}

// IDTokenClaims is the OIDC ID token claim set.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	Nonce    string `json:"nonce,omitempty"`
	AuthTime int64  `json:"auth_time,omitempty"`
	ATHash   string `json:"at_hash,omitempty"`
	FHIRUser string `json:"fhirUser,omitempty"`
}

// IntrospectionResponse is the RFC 7662 response body. A token that is
// missing, expired, revoked, malformed, or bound to a different client
// than the one introspecting it always renders as the bare
// {"active": false} — these cases are never distinguished from each other.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// Service mints and validates tokens for the authorization server.
//
// Purpose: Central JWT/opaque-token authority: signing, verification,
// introspection, and revocation for access, ID, and refresh tokens.
// Domain: Authz
type Service struct {
	ring         *Ring
	issuer       string
	revoked      RevokedTokenStorage
	refresh      RefreshTokenStorage
	maxAccessTTL time.Duration
}

// NewService constructs a token Service. maxAccessTTL of 0 disables
// clamping (not recommended outside tests).
func NewService(ring *Ring, issuer string, revoked RevokedTokenStorage, refresh RefreshTokenStorage, maxAccessTTL time.Duration) *Service {
	return &Service{ring: ring, issuer: issuer, revoked: revoked, refresh: refresh, maxAccessTTL: maxAccessTTL}
}

// MintAccessParams configures an access token mint.
type MintAccessParams struct {
	Subject  string // user id, or client id for client_credentials
	ClientID string
	Audience string
	Scope    string
	FHIRUser string
	SMART    *SmartContext
	TTL      time.Duration // 0 => DefaultAccessTokenTTL, clamped to maxAccessTTL
}

// MintAccess signs and returns a new access token.
//
// Purpose: Issues the bearer access token returned from every grant type.
// Domain: Authz
// Audited: No (caller logs the grant outcome)
// Errors: System errors only
func (s *Service) MintAccess(p MintAccessParams) (string, *AccessClaims, error) {
	key := s.ring.Load().Active
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	if s.maxAccessTTL > 0 && ttl > s.maxAccessTTL {
		ttl = s.maxAccessTTL
	}

	now := time.Now()
	jti, err := randomToken(16)
	if err != nil {
		return "", nil, err
	}

	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings{p.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
		},
		Scope:    p.Scope,
		ClientID: p.ClientID,
		FHIRUser: p.FHIRUser,
	}
	if p.SMART != nil {
		claims.Extensions = &smartExtensions{SMART: p.SMART}
	}

	tok := jwt.NewWithClaims(key.signingMethod(), claims)
	tok.Header["kid"] = key.Kid
	signed, err := tok.SignedString(key.Private)
	if err != nil {
		return "", nil, fmt.Errorf("token: sign access token: %w", err)
	}
	return signed, claims, nil
}

// MintIDTokenParams configures an ID token mint.
type MintIDTokenParams struct {
	Subject     string
	Audience    string
	Nonce       string
	AuthTime    time.Time
	AccessToken string // source for at_hash; omit to skip at_hash
	FHIRUser    string
	TTL         time.Duration
}

// MintIDToken signs and returns an OIDC ID token. Callers must only call
// this when the granted scope includes "openid".
func (s *Service) MintIDToken(p MintIDTokenParams) (string, error) {
	key := s.ring.Load().Active
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	now := time.Now()

	claims := &IDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings{p.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Nonce:    p.Nonce,
		FHIRUser: p.FHIRUser,
	}
	if !p.AuthTime.IsZero() {
		claims.AuthTime = p.AuthTime.Unix()
	}
	if p.AccessToken != "" {
		claims.ATHash = atHash(p.AccessToken)
	}

	tok := jwt.NewWithClaims(key.signingMethod(), claims)
	tok.Header["kid"] = key.Kid
	signed, err := tok.SignedString(key.Private)
	if err != nil {
		return "", fmt.Errorf("token: sign id token: %w", err)
	}
	return signed, nil
}

// RefreshGrant is the result of minting or rotating a refresh token: the
// plaintext token returned to the client, and the record persisted under
// its hash.
type RefreshGrant struct {
	PlainToken string
	Record     *RefreshTokenRecord
}

// MintRefresh creates and persists a brand-new refresh token (the start
// of a rotation chain), used on the initial authorization_code exchange.
func (s *Service) MintRefresh(ctx context.Context, clientID, userID, scope string, ttl time.Duration) (*RefreshGrant, error) {
	plain, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	rec := &RefreshTokenRecord{
		TokenHash: hashToken(plain),
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.refresh.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("token: persist refresh token: %w", err)
	}
	return &RefreshGrant{PlainToken: plain, Record: rec}, nil
}

// RotateRefresh consumes plainToken and, if it is the live end of its
// chain and owned by clientID, mints and persists its successor. If
// plainToken was already rotated or revoked (presented a second time — a
// breach signal), the whole chain is revoked and ErrRefreshTokenRotated is
// returned. An unknown or expired token, or one owned by another client,
// yields ErrRefreshTokenNotFound without touching the chain. The caller
// maps either to RFC 6749 invalid_grant. narrowedScope, if non-empty,
// replaces the original scope as given: RotateRefresh does not check it,
// so the caller must already have validated it as a subset.
func (s *Service) RotateRefresh(ctx context.Context, plainToken, clientID, narrowedScope string, ttl time.Duration) (*RefreshGrant, error) {
	hash := hashToken(plainToken)
	old, err := s.refresh.Get(ctx, hash)
	if err != nil {
		return nil, ErrRefreshTokenNotFound
	}
	if old.Revoked || old.RotatedTo != "" {
		_ = s.refresh.RevokeChain(ctx, hash)
		return nil, ErrRefreshTokenRotated
	}
	if old.ClientID != clientID || time.Now().After(old.ExpiresAt) {
		return nil, ErrRefreshTokenNotFound
	}

	scope := old.Scope
	if narrowedScope != "" {
		scope = narrowedScope
	}

	newPlain, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	next := &RefreshTokenRecord{
		TokenHash: hashToken(newPlain),
		ClientID:  old.ClientID,
		UserID:    old.UserID,
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	if err := s.refresh.ConsumeAndRotate(ctx, hash, next); err != nil {
		return nil, fmt.Errorf("token: rotate refresh token: %w", err)
	}
	return &RefreshGrant{PlainToken: newPlain, Record: next}, nil
}

// RefreshScope reports the scope currently bound to plainToken, without
// consuming it — used by the refresh_token grant to validate that a
// caller-requested scope narrows rather than widens the original grant
// before calling RotateRefresh.
func (s *Service) RefreshScope(ctx context.Context, plainToken string) (string, error) {
	rec, err := s.refresh.Get(ctx, hashToken(plainToken))
	if err != nil {
		return "", ErrRefreshTokenNotFound
	}
	return rec.Scope, nil
}

// ValidateAccess parses and verifies tokenString: signature against any
// active or retained key, exp/nbf within DefaultClockSkew, issuer and
// (if audience is non-empty) audience, and jti not revoked.
func (s *Service) ValidateAccess(ctx context.Context, tokenString, audience string) (*AccessClaims, error) {
	ring := s.ring.Load()
	claims := &AccessClaims{}

	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := ring.byKid(kid)
		if !ok {
			return nil, fmt.Errorf("token: unknown kid %q", kid)
		}
		return key.Private.Public(), nil
	}, jwt.WithLeeway(DefaultClockSkew), jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !parsed.Valid {
		return nil, &ValidationError{Kind: FailureMalformed, Err: errors.New("token not valid")}
	}
	if audience != "" && !claimsHaveAudience(claims.Audience, audience) {
		return nil, &ValidationError{Kind: FailureWrongAudience, Err: errors.New("audience mismatch")}
	}

	revoked, err := s.revoked.Contains(ctx, claims.ID)
	if err != nil {
		return nil, &ValidationError{Kind: FailureMalformed, Err: err}
	}
	if revoked {
		return nil, &ValidationError{Kind: FailureRevoked, Err: errors.New("jti revoked")}
	}
	return claims, nil
}

// Introspect implements RFC 7662: every failure mode — not found,
// expired, revoked, malformed, or bound to a different client than
// requestingClientID — renders identically as {"active": false}. The
// token's audience is not checked.
func (s *Service) Introspect(ctx context.Context, tokenString, requestingClientID string) IntrospectionResponse {
	claims, err := s.ValidateAccess(ctx, tokenString, "")
	if err != nil {
		return IntrospectionResponse{Active: false}
	}
	if requestingClientID != "" && claims.ClientID != requestingClientID {
		return IntrospectionResponse{Active: false}
	}
	return IntrospectionResponse{
		Active:    true,
		Scope:     claims.Scope,
		ClientID:  claims.ClientID,
		Sub:       claims.Subject,
		Exp:       claims.ExpiresAt.Unix(),
		Iat:       claims.IssuedAt.Unix(),
		TokenType: "Bearer",
	}
}

// RevokeAccess implements RFC 7009 for an access token: insert its jti
// into the revocation store so it is rejected for the rest of its
// natural lifetime.
func (s *Service) RevokeAccess(ctx context.Context, jti, clientID string, exp time.Time) error {
	return s.revoked.Insert(ctx, RevokedTokenEntry{JTI: jti, ClientID: clientID, ExpiresAt: exp})
}

// RevokeRefresh implements RFC 7009 for a refresh token: revokes its
// whole rotation chain.
func (s *Service) RevokeRefresh(ctx context.Context, plainToken string) error {
	return s.refresh.RevokeChain(ctx, hashToken(plainToken))
}

// JWKS renders the current key ring as a public JWK Set for /auth/jwks.
func (s *Service) JWKS() (jwk.Set, error) {
	return s.ring.Load().JWKS()
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &ValidationError{Kind: FailureExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return &ValidationError{Kind: FailureNotYetValid, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &ValidationError{Kind: FailureInvalidSignature, Err: err}
	default:
		return &ValidationError{Kind: FailureMalformed, Err: err}
	}
}

func claimsHaveAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func atHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	half := sum[:len(sum)/2]
	return base64.RawURLEncoding.EncodeToString(half)
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
