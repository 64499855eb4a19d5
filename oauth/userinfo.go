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

	"github.com/opentrusty/fhir-authz-core/smartscope"
)

// UserInfo implements the OIDC UserInfo endpoint: the bearer access token
// has already been validated by the caller (token.Service.ValidateAccess)
// and its claims passed in here.
//
// Purpose: Renders the subset of identity claims the granted scope
// authorizes, per OIDC Core §5.3.2.
// Domain: Authz
func (s *Service) UserInfo(ctx context.Context, subject, scope, fhirUser string) (*UserInfoResponse, *Error) {
	resp := &UserInfoResponse{Sub: subject}

	_, nonResource := smartscope.ParseAll(scope)
	if hasNonResourceScope(nonResource, smartscope.ScopeFHIRUser) {
		resp.FHIRUser = fhirUser
	}

	u, err := s.users.GetByID(ctx, subject)
	if err != nil {
		// A validated access token with a subject the user store no
		// longer knows about (deleted account) still returns the bare
		// sub claim rather than erroring — OIDC doesn't mandate a
		// specific failure shape here and the caller already vetted
		// the token itself.
		return resp, nil
	}

	resp.Name = u.Profile.FullName
	if u.EmailPlain != nil {
		resp.Email = *u.EmailPlain
	}
	return resp, nil
}
