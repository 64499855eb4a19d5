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

package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// Service provides SSO session lifecycle management.
//
// Purpose: Implementation of session creation, lookup, and revocation
// rules, independent of the OAuth grants issued during a session's life.
// Domain: Authz
type Service struct {
	repo     Repository
	lifetime time.Duration
}

// NewService creates a new session service. A non-positive lifetime
// falls back to 12 hours.
func NewService(repo Repository, lifetime time.Duration) *Service {
	if lifetime <= 0 {
		lifetime = 12 * time.Hour
	}
	return &Service{repo: repo, lifetime: lifetime}
}

// Create establishes a new SSO session for userID after a successful
// interactive login.
//
// Purpose: Initializes a new persistent session after authentication.
// Domain: Authz
// Audited: No (caller logs TypeLoginSuccess with the session ID as metadata)
// Errors: System errors
func (s *Service) Create(ctx context.Context, userID, ipAddress, userAgent string) (*SsoSession, error) {
	now := time.Now()
	sess := &SsoSession{
		ID:        generateSessionID(),
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		ExpiresAt: now.Add(s.lifetime),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}

	return sess, nil
}

// Get retrieves and validates a session by its opaque token.
func (s *Service) Get(ctx context.Context, sessionID string) (*SsoSession, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if sess.Revoked {
		return nil, ErrSessionRevoked
	}
	if sess.IsExpired() {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Revoke revokes a single session, e.g. on explicit RP-initiated logout.
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	return s.repo.Revoke(ctx, sessionID)
}

// RevokeAllForUser revokes every session belonging to userID — "log out
// everywhere".
func (s *Service) RevokeAllForUser(ctx context.Context, userID string) error {
	return s.repo.RevokeAllForUser(ctx, userID)
}

// CountActive reports how many non-expired, non-revoked sessions userID
// currently holds, for concurrent-session-limit enforcement.
func (s *Service) CountActive(ctx context.Context, userID string) (int, error) {
	return s.repo.CountActiveForUser(ctx, userID)
}

// CleanupExpired purges sessions past their ExpiresAt.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	return s.repo.DeleteExpired(ctx)
}

// generateSessionID generates a cryptographically secure 256-bit opaque
// session token, URL-safe for embedding in a cookie value.
func generateSessionID() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
