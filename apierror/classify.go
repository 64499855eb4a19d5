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

package apierror

import (
	"context"
	"errors"

	"github.com/opentrusty/fhir-authz-core/client"
	"github.com/opentrusty/fhir-authz-core/consent"
	"github.com/opentrusty/fhir-authz-core/launch"
	"github.com/opentrusty/fhir-authz-core/oauth"
	"github.com/opentrusty/fhir-authz-core/policy"
	"github.com/opentrusty/fhir-authz-core/role"
	"github.com/opentrusty/fhir-authz-core/session"
	"github.com/opentrusty/fhir-authz-core/token"
	"github.com/opentrusty/fhir-authz-core/user"
)

// notFoundErrors lists every domain "not found" sentinel this module
// defines. A lookup failure on any of them is a ClientError (the caller
// asked for something that doesn't exist), never an InternalError.
var notFoundErrors = []error{
	client.ErrClientNotFound,
	user.ErrUserNotFound,
	role.ErrRoleNotFound,
	session.ErrSessionNotFound,
	consent.ErrConsentNotFound,
	policy.ErrPolicyNotFound,
	token.ErrRefreshTokenNotFound,
	launch.ErrLaunchNotFound,
	oauth.ErrSessionNotFound,
}

// Classify maps a plain domain error into the apierror.Error a router
// boundary renders. If err already carries classification (was produced
// by one of the New* constructors), it is returned unchanged. Anything
// unrecognized becomes an InternalError, logged under requestID — the
// fallback for invariant-broken failures that weren't anticipated by
// name.
func Classify(ctx context.Context, err error, requestID string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		e.Log(ctx, requestID)
		return e
	}

	for _, nf := range notFoundErrors {
		if errors.Is(err, nf) {
			return NewClient("not_found", err.Error())
		}
	}

	switch {
	case errors.Is(err, client.ErrInvalidClientSecret):
		return NewAuthentication()
	case errors.Is(err, user.ErrInvalidCredentials):
		return NewAuthentication()
	case errors.Is(err, client.ErrClientAlreadyExists):
		return NewConflict(err.Error())
	case errors.Is(err, token.ErrRefreshTokenRotated):
		return NewClient("invalid_grant", "refresh token already rotated")
	}

	e := NewInternal(err)
	e.Log(ctx, requestID)
	return e
}
