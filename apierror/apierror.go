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

// Package apierror centralizes the error taxonomy this core raises and
// its mapping to an HTTP status and response body. It is the only
// package in this module that knows about HTTP: every domain package
// returns plain sentinel errors (errors.New/fmt.Errorf("%w")) and an
// (out-of-scope) router translates them through Wrap/Classify before
// writing a response.
package apierror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Kind classifies an error into one of the six response shapes this
// module renders.
type Kind string

const (
	KindClient             Kind = "client_error"
	KindAuthorization      Kind = "authorization_error"
	KindAuthentication     Kind = "authentication_error"
	KindConflict           Kind = "conflict_error"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindInternal           Kind = "internal_error"
)

// httpStatus is the HTTP status code each Kind maps to.
var httpStatus = map[Kind]int{
	KindClient:             400,
	KindAuthorization:      403,
	KindAuthentication:     401,
	KindConflict:           409,
	KindStorageUnavailable: 503,
	KindInternal:           500,
}

// Error is the typed error every handler-shaped method in this module
// returns instead of a bare error, once it reaches an external
// boundary. It carries enough to render the exact response body without
// the router needing to know the originating domain.
type Error struct {
	Kind Kind
	// Code is the machine-readable reason, e.g. an oauth.ErrorCode
	// string or a policy.DenyReason string. Optional.
	Code string
	// Message is safe to reveal to the caller. For KindInternal this
	// must never be anything but a generic phrase — the real detail
	// goes to RequestID via Log, not Message.
	Message string
	// RequestID ties an InternalError response to the server-side log
	// line that recorded the real cause.
	RequestID string
	// cause is the wrapped underlying error, used only for logging —
	// Error() and the HTTP body never include it directly.
	cause error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("apierror: %s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("apierror: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code this error maps to.
func (e *Error) Status() int { return httpStatus[e.Kind] }

// WWWAuthenticate returns the WWW-Authenticate header value a
// KindAuthentication error must be sent with (RFC 6750 §3). Empty for
// every other Kind.
func (e *Error) WWWAuthenticate() string {
	if e.Kind == KindAuthentication {
		return `Bearer error="invalid_token"`
	}
	return ""
}

// NewClient constructs a ClientError: a malformed request, invalid
// grant, or invalid scope — surfaced to the caller as-is.
func NewClient(code, message string) *Error {
	return &Error{Kind: KindClient, Code: code, Message: message}
}

// NewAuthorization constructs an AuthorizationError from a policy Deny
// or scope-insufficiency outcome. reason is safe to reveal and becomes
// the OperationOutcome diagnostics.
func NewAuthorization(reason string) *Error {
	return &Error{Kind: KindAuthorization, Code: reason, Message: reason}
}

// NewAuthentication constructs an AuthenticationError. It
// never carries caller-visible detail beyond the fixed
// WWW-Authenticate challenge, regardless of why the token was rejected
// (missing, malformed, expired, or revoked all collapse to the same
// response).
func NewAuthentication() *Error {
	return &Error{Kind: KindAuthentication, Code: "invalid_token"}
}

// NewConflict constructs a ConflictError for a duplicate resource or
// version mismatch.
func NewConflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// NewStorageUnavailable constructs a StorageUnavailable error, to be
// returned once the caller's retry budget against a transient storage
// failure has been exhausted.
func NewStorageUnavailable(cause error) *Error {
	return &Error{Kind: KindStorageUnavailable, Message: "storage temporarily unavailable", cause: cause}
}

// NewInternal constructs an InternalError. cause is never exposed to
// the caller — Log must be called with it before the response is
// written so the request_id in the response body is traceable.
func NewInternal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", cause: cause}
}

// Log records the real cause of an InternalError or StorageUnavailable
// error against requestID, then stamps requestID onto e so the caller
// can echo it back to the client without leaking anything else.
//
// Purpose: Ensures an internal failure is always logged with its
// request_id at the one place that renders a response.
// Domain: Platform
func (e *Error) Log(ctx context.Context, requestID string) {
	e.RequestID = requestID
	if e.cause == nil {
		return
	}
	level := slog.LevelError
	if e.Kind == KindStorageUnavailable {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "request failed",
		"kind", e.Kind,
		"request_id", requestID,
		"error", e.cause,
	)
}

// OperationOutcome is the FHIR resource body an AuthorizationError
// response carries.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

// OperationOutcomeIssue is one entry in an OperationOutcome.issue array.
type OperationOutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// NewOperationOutcome renders e (which must be a KindAuthorization
// error) as the FHIR OperationOutcome body a 403 response carries:
// severity=error, code=forbidden, diagnostics carrying the DenyReason
// when it is safe to reveal.
func NewOperationOutcome(e *Error) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    "error",
				Code:        "forbidden",
				Diagnostics: e.Message,
			},
		},
	}
}

// As extracts an *Error from err, unwrapping through any wrapper chain.
// Reports false for a plain domain sentinel error, leaving the caller to
// Classify it.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
