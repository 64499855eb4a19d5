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

import "fmt"

// ErrorCode is one of the RFC 6749 §4.1.2.1 / §5.2 error codes.
type ErrorCode string

const (
	ErrInvalidRequest          ErrorCode = "invalid_request"
	ErrUnauthorizedClient      ErrorCode = "unauthorized_client"
	ErrAccessDenied            ErrorCode = "access_denied"
	ErrUnsupportedResponseType ErrorCode = "unsupported_response_type"
	ErrUnsupportedGrantType    ErrorCode = "unsupported_grant_type"
	ErrInvalidScope            ErrorCode = "invalid_scope"
	ErrInvalidClient           ErrorCode = "invalid_client"
	ErrInvalidGrant            ErrorCode = "invalid_grant"
	ErrServerError             ErrorCode = "server_error"
	ErrTemporarilyUnavailable  ErrorCode = "temporarily_unavailable"
)

// Error is the RFC 6749 error DTO, also satisfying the error interface so
// domain code can return it directly.
type Error struct {
	Code        ErrorCode
	Description string
	URI         string
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("oauth: %s", e.Code)
}

// NewError constructs an Error with the given code and description.
func NewError(code ErrorCode, description string) *Error {
	return &Error{Code: code, Description: description}
}

// IsDirectRender reports whether this error must be rendered directly to
// the caller rather than delivered via a redirect to redirect_uri. An
// invalid client_id or invalid/unregistered redirect_uri is never
// redirected, since doing so would make this endpoint an open redirector
// (RFC 6749 §4.1.2.1).
func (e *Error) IsDirectRender() bool {
	switch e.Code {
	case ErrInvalidClient:
		return true
	default:
		return false
	}
}
