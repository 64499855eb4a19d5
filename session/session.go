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

// Package session tracks the browser-facing SSO session a user's
// interactive login establishes, independent of any OAuth token minted
// for a relying party against it.
package session

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")
)

// SsoSession is the server-side record behind the opaque session token a
// user's browser carries after interactive login.
//
// Purpose: Tracks an authenticated browser session independent of any
// OAuth access/refresh token minted against it; revoking a session does
// not revoke those tokens.
// Domain: Authz
// Invariants: ID is a cryptographically secure opaque token. A revoked
// session is never resurrected.
type SsoSession struct {
	ID        string
	UserID    string
	IPAddress string
	UserAgent string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsExpired reports whether the session's lifetime has elapsed.
func (s *SsoSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IsValid reports whether the session can still be relied on to identify
// its user: not expired, not revoked.
func (s *SsoSession) IsValid() bool {
	return !s.Revoked && !s.IsExpired()
}

// Repository defines storage for SsoSession records.
//
// Purpose: Abstraction over SSO session persistence.
// Domain: Authz
type Repository interface {
	Create(ctx context.Context, s *SsoSession) error
	Get(ctx context.Context, id string) (*SsoSession, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	CountActiveForUser(ctx context.Context, userID string) (int, error)
	DeleteExpired(ctx context.Context) (int, error)
}
