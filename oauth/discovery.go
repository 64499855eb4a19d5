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

// commonDiscovery builds the fields every discovery document variant
// shares; SmartConfiguration and OpenIDConfiguration each layer their own
// endpoint-specific additions on top.
func (s *Service) commonDiscovery() DiscoveryDocument {
	return DiscoveryDocument{
		Issuer:                            s.issuer,
		AuthorizationEndpoint:             s.issuer + "/auth/authorize",
		TokenEndpoint:                     s.issuer + "/auth/token",
		IntrospectionEndpoint:             s.issuer + "/auth/introspect",
		RevocationEndpoint:                s.issuer + "/auth/revoke",
		JWKSURI:                           s.issuer + "/auth/jwks",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{GrantAuthorizationCode, GrantRefreshToken, GrantClientCredentials},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "private_key_jwt", "none"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	}
}

// SmartConfiguration renders the GET /.well-known/smart-configuration
// document (SMART App Launch §6).
func (s *Service) SmartConfiguration() DiscoveryDocument {
	doc := s.commonDiscovery()
	doc.ScopesSupported = []string{
		"openid", "fhirUser", "launch", "launch/patient", "launch/encounter", "offline_access",
		"patient/*.cruds", "user/*.cruds", "system/*.cruds",
	}
	doc.Capabilities = []string{
		"launch-ehr",
		"launch-standalone",
		"client-public",
		"client-confidential-symmetric",
		"client-confidential-asymmetric",
		"sso-openid-connect",
		"context-passthrough-banner",
		"permission-offline",
		"permission-patient",
		"permission-user",
	}
	return doc
}

// OpenIDConfiguration renders the GET /.well-known/openid-configuration
// document (OIDC Discovery 1.0 §3).
func (s *Service) OpenIDConfiguration() DiscoveryDocument {
	doc := s.commonDiscovery()
	doc.UserinfoEndpoint = s.issuer + "/auth/userinfo"
	doc.ScopesSupported = []string{"openid", "profile", "email", "fhirUser", "offline_access"}
	return doc
}
