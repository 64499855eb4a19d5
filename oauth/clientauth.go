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
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/opentrusty/fhir-authz-core/client"
)

// ClientCredentials carries whatever authentication material the caller
// presented, regardless of which TokenEndpointAuthMethod it turns out to
// match — HTTP Basic, form-body secret, or a private_key_jwt assertion.
type ClientCredentials struct {
	ClientID            string
	ClientSecret        string
	ClientAssertionType string
	ClientAssertion     string
}

const jwtBearerAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// assertionClaims is the claim set a private_key_jwt client assertion
// must carry (RFC 7523 §3).
type assertionClaims struct {
	jwt.RegisteredClaims
}

// ClientAuthenticator authenticates a client presenting itself to the
// token, introspection, or revocation endpoint, dispatching on the
// client's registered TokenEndpointAuthMethod.
//
// Purpose: Single point implementing HTTP Basic, form-body secret, and
// private_key_jwt client authentication (RFC 6749 §3.2.1, RFC 7523).
// Domain: Authz
type ClientAuthenticator struct {
	clients       client.Repository
	clientSvc     *client.Service
	tokenEndpoint string // expected audience for private_key_jwt assertions
}

// NewClientAuthenticator constructs a ClientAuthenticator. tokenEndpoint
// is this server's token endpoint URL, the only audience a private_key_jwt
// assertion may target.
func NewClientAuthenticator(clients client.Repository, clientSvc *client.Service, tokenEndpoint string) *ClientAuthenticator {
	return &ClientAuthenticator{clients: clients, clientSvc: clientSvc, tokenEndpoint: tokenEndpoint}
}

// Authenticate resolves creds.ClientID and verifies it against the
// client's registered auth method. It returns *Error (invalid_client) on
// any failure, never distinguishing "unknown client_id" from "wrong
// secret" in the returned description beyond what RFC 6749 requires.
func (a *ClientAuthenticator) Authenticate(ctx context.Context, creds ClientCredentials) (*client.Client, *Error) {
	if creds.ClientID == "" {
		return nil, NewError(ErrInvalidClient, "client_id is required")
	}

	c, err := a.clients.GetByClientID(ctx, creds.ClientID)
	if err != nil {
		return nil, NewError(ErrInvalidClient, "invalid client credentials")
	}
	if !c.IsActive {
		return nil, NewError(ErrInvalidClient, "client is disabled")
	}

	switch c.TokenEndpointAuthMethod {
	case client.AuthMethodNone:
		if c.IsConfidential() {
			return nil, NewError(ErrInvalidClient, "confidential client must authenticate")
		}
		return c, nil

	case client.AuthMethodPrivateKeyJWT:
		if creds.ClientAssertionType != jwtBearerAssertionType || creds.ClientAssertion == "" {
			return nil, NewError(ErrInvalidClient, "missing client assertion")
		}
		if err := a.verifyAssertion(c, creds.ClientAssertion); err != nil {
			return nil, NewError(ErrInvalidClient, "invalid client assertion")
		}
		return c, nil

	default: // client_secret_basic, client_secret_post
		if creds.ClientSecret == "" {
			return nil, NewError(ErrInvalidClient, "client secret is required")
		}
		if err := a.clientSvc.AuthenticateSecret(c, creds.ClientSecret); err != nil {
			return nil, NewError(ErrInvalidClient, "invalid client credentials")
		}
		return c, nil
	}
}

// verifyAssertion validates a private_key_jwt client assertion against
// the client's registered JWKS: signature, iss==sub==client_id,
// aud==token endpoint, and a live exp.
func (a *ClientAuthenticator) verifyAssertion(c *client.Client, assertion string) error {
	if c.JWKS == "" {
		return fmt.Errorf("oauth: client %s has no JWKS configured", c.ClientID)
	}
	set, err := jwk.Parse([]byte(c.JWKS))
	if err != nil {
		return fmt.Errorf("oauth: parse client JWKS: %w", err)
	}

	claims := &assertionClaims{}
	token, err := jwt.ParseWithClaims(assertion, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		var key jwk.Key
		if kid != "" {
			k, ok := set.LookupKeyID(kid)
			if !ok {
				return nil, fmt.Errorf("oauth: unknown kid %q", kid)
			}
			key = k
		} else {
			if set.Len() != 1 {
				return nil, fmt.Errorf("oauth: assertion omits kid and JWKS has %d keys", set.Len())
			}
			key, _ = set.Key(0)
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("oauth: materialize client JWK: %w", err)
		}
		return raw, nil
	}, jwt.WithLeeway(60*time.Second), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("oauth: parse client assertion: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("oauth: client assertion not valid")
	}

	if claims.Issuer != c.ClientID || claims.Subject != c.ClientID {
		return fmt.Errorf("oauth: client assertion iss/sub must equal client_id")
	}
	if !audienceContains(claims.Audience, a.tokenEndpoint) {
		return fmt.Errorf("oauth: client assertion audience mismatch")
	}
	return nil
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if strings.EqualFold(a, want) {
			return true
		}
	}
	return false
}
