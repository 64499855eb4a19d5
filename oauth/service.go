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
	"github.com/opentrusty/fhir-authz-core/audit"
	"github.com/opentrusty/fhir-authz-core/client"
	"github.com/opentrusty/fhir-authz-core/launch"
	"github.com/opentrusty/fhir-authz-core/session"
	"github.com/opentrusty/fhir-authz-core/token"
	"github.com/opentrusty/fhir-authz-core/user"
)

// Service implements the authorization_code/refresh_token/client_credentials
// grants, the /authorize request-validation step, discovery metadata,
// UserInfo, and RP-initiated logout.
//
// Purpose: Top-level orchestrator for every OAuth2/OIDC/SMART endpoint
// this core exposes, wiring together client authentication, session
// storage, token minting, and launch-context consumption.
// Domain: Authz
type Service struct {
	clients     client.Repository
	clientAuth  *ClientAuthenticator
	sessions    AuthorizeSessionStorage
	tokens      *token.Service
	launches    *launch.Service
	sso         *session.Service
	users       user.UserRepository
	auditLogger audit.Logger
	issuer      string
}

// NewService constructs an oauth Service. issuer is this server's base
// URL, used both as the JWT issuer/audience and to render discovery
// endpoint URLs.
func NewService(
	clients client.Repository,
	clientSvc *client.Service,
	sessions AuthorizeSessionStorage,
	tokens *token.Service,
	launches *launch.Service,
	sso *session.Service,
	users user.UserRepository,
	auditLogger audit.Logger,
	issuer string,
) *Service {
	return &Service{
		clients:     clients,
		clientAuth:  NewClientAuthenticator(clients, clientSvc, issuer+"/auth/token"),
		sessions:    sessions,
		tokens:      tokens,
		launches:    launches,
		sso:         sso,
		users:       users,
		auditLogger: auditLogger,
		issuer:      issuer,
	}
}
