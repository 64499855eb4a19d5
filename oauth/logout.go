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

	"github.com/opentrusty/fhir-authz-core/audit"
)

// LogoutRequest carries the parameters of an RP-initiated logout
// (OIDC RP-Initiated Logout 1.0).
type LogoutRequest struct {
	SessionID             string
	PostLogoutRedirectURI string
	State                 string
}

// Logout revokes the user's SSO session. Access and refresh tokens
// already minted are not revoked here (the token layer doesn't
// cross-reference sessions) — this is purely "end the browser-facing
// login", separate from revoking individual access/refresh tokens via
// RFC 7009.
//
// Purpose: Implements GET/POST /auth/logout.
// Domain: Authz
// Audited: Yes (TypeLogout)
func (s *Service) Logout(ctx context.Context, req *LogoutRequest) *Error {
	sess, err := s.sso.Get(ctx, req.SessionID)
	if err != nil {
		// An already-gone session still logs out successfully — logout
		// is idempotent by design.
		return nil
	}

	if err := s.sso.Revoke(ctx, req.SessionID); err != nil {
		return NewError(ErrServerError, "failed to revoke session")
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLogout,
		ActorID:  sess.UserID,
		Resource: audit.ResourceSession,
		TargetID: sess.ID,
	})
	return nil
}
