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

package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opentrusty/fhir-authz-core/audit"
	"github.com/opentrusty/fhir-authz-core/crypto"
	"github.com/opentrusty/fhir-authz-core/id"
	"github.com/opentrusty/fhir-authz-core/password"
)

// PasswordHasher is this package's name for the Argon2id hasher every
// credential write and check goes through; it is an alias rather than a
// second implementation so there is exactly one encoded-hash format in
// play across the module.
type PasswordHasher = password.Hasher

// NewPasswordHasher creates a new Argon2id password hasher.
func NewPasswordHasher(memory, iterations uint32, parallelism uint8, saltLength, keyLength uint32) *PasswordHasher {
	return password.NewHasher(memory, iterations, parallelism, saltLength, keyLength)
}

// Service provides identity-related business logic
type Service struct {
	repo               UserRepository
	hasher             *PasswordHasher
	auditLogger        audit.Logger
	lockoutMaxAttempts int
	lockoutDuration    time.Duration
	hmacKey            string
}

// NewService creates a new identity service
func NewService(
	repo UserRepository,
	hasher *PasswordHasher,
	auditLogger audit.Logger,
	lockoutMaxAttempts int,
	lockoutDuration time.Duration,
	hmacKey string,
) *Service {
	return &Service{
		repo:               repo,
		hasher:             hasher,
		auditLogger:        auditLogger,
		lockoutMaxAttempts: lockoutMaxAttempts,
		lockoutDuration:    lockoutDuration,
		hmacKey:            hmacKey,
	}
}

// ProvisionIdentity creates a new user identity without credentials
func (s *Service) ProvisionIdentity(ctx context.Context, emailPlain string, profile Profile) (*User, error) {
	// Validate email
	if !isValidEmail(emailPlain) {
		return nil, ErrInvalidEmail
	}

	// Compute Identity Key
	emailHash := crypto.ComputeEmailHash(s.hmacKey, emailPlain)

	// Check if user already exists
	existing, err := s.repo.GetByHash(ctx, emailHash)
	if err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}

	// Create user
	if profile.Nickname == "" {
		// Use email prefix as nickname if not provided
		parts := strings.Split(emailPlain, "@")
		if len(parts) > 0 {
			profile.Nickname = parts[0]
		}
	}

	user := &User{
		ID:            id.NewUUIDv7(),
		EmailHash:     emailHash,
		EmailPlain:    &emailPlain,
		EmailVerified: false,
		Profile:       profile,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	return user, nil
}

// AddPassword adds a password credential to an existing user
func (s *Service) AddPassword(ctx context.Context, userID, password string) error {
	// Validate password strength
	if !isStrongPassword(password) {
		return ErrWeakPassword
	}

	// Hash password
	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	credentials := &Credentials{
		UserID:       userID,
		PasswordHash: passwordHash,
	}

	if err := s.repo.AddCredentials(ctx, credentials); err != nil {
		return fmt.Errorf("failed to add credentials: %w", err)
	}

	return nil
}

// SetPassword sets or updates a user's password without requiring the old password (administrative action)
func (s *Service) SetPassword(ctx context.Context, userID, password string) error {
	// Validate password strength
	if !isStrongPassword(password) {
		return ErrWeakPassword
	}

	// Hash password
	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	// Check if credentials exist
	_, err = s.repo.GetCredentials(ctx, userID)
	if err != nil {
		if err == ErrUserNotFound {
			// Add new credentials
			credentials := &Credentials{
				UserID:       userID,
				PasswordHash: passwordHash,
			}
			return s.repo.AddCredentials(ctx, credentials)
		}
		return fmt.Errorf("failed to check existing credentials: %w", err)
	}

	// Update existing credentials
	if err := s.repo.UpdatePassword(ctx, userID, passwordHash); err != nil {
		return fmt.Errorf("failed to update credentials: %w", err)
	}

	return nil
}

// Authenticate authenticates a user with email and password.
// It uses the global HMAC key to derive the user's identity hash.
func (s *Service) Authenticate(ctx context.Context, emailPlain, password string) (*User, error) {
	// 1. Compute Hash from EmailPlain
	emailHash := crypto.ComputeEmailHash(s.hmacKey, emailPlain)

	// 2. Lookup by Hash
	user, err := s.repo.GetByHash(ctx, emailHash)
	if err != nil {
		// Audit failed attempt (unknown user)
		// SECURITY: We log the HASH, never the plaintext email
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: "login_attempt",
			Metadata: map[string]any{
				audit.AttrReason: "user_not_found",
				"target_hash":    emailHash, // Safe to log internal hash for debugging
			},
		})
		return nil, ErrInvalidCredentials
	}

	// Check if locked out
	if user.LockedUntil != nil && user.LockedUntil.After(time.Now()) {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "locked_out"},
		})
		return nil, ErrAccountLocked
	}

	// Get credentials
	credentials, err := s.repo.GetCredentials(ctx, user.ID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	// Verify password
	valid, err := s.hasher.Verify(password, credentials.PasswordHash)
	if err != nil || !valid {
		// Increment failed attempts
		newAttempts := user.FailedLoginAttempts + 1
		var newLockedUntil *time.Time

		if newAttempts >= s.lockoutMaxAttempts {
			until := time.Now().Add(s.lockoutDuration)
			newLockedUntil = &until
			// Audit lockout
			s.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeUserLocked,
				ActorID:  user.ID,
				Resource: "login",
				Metadata: map[string]any{audit.AttrAttempts: newAttempts},
			})
		}

		// Update lockout status
		_ = s.repo.UpdateLockout(ctx, user.ID, newAttempts, newLockedUntil)

		// Audit failed attempt
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{
				audit.AttrReason:   "invalid_password",
				audit.AttrAttempts: newAttempts,
			},
		})

		return nil, ErrInvalidCredentials
	}

	// Reset failed attempts if > 0
	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		_ = s.repo.UpdateLockout(ctx, user.ID, 0, nil)
	}

	// Audit success
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  user.ID,
		Resource: "login",
		TargetID: user.ID,
		// TargetName deliberately omitted if PII is sensitive, or use ID
	})

	return user, nil
}

// GetByEmail retrieves a user by email globally (convenience wrapper around Hash lookup)
func (s *Service) GetByEmail(ctx context.Context, emailPlain string) (*User, error) {
	// Compute Hash
	hash := crypto.ComputeEmailHash(s.hmacKey, emailPlain)
	return s.repo.GetByHash(ctx, hash)
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile updates user profile information
func (s *Service) UpdateProfile(ctx context.Context, userID string, profile Profile) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	user.Profile = profile
	return s.repo.Update(ctx, user)
}

// ChangePassword changes user password
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	// Get credentials
	credentials, err := s.repo.GetCredentials(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	// Verify old password
	valid, err := s.hasher.Verify(oldPassword, credentials.PasswordHash)
	if err != nil || !valid {
		return ErrInvalidCredentials
	}

	// Validate new password
	if !isStrongPassword(newPassword) {
		return ErrWeakPassword
	}

	// Hash new password
	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.repo.UpdatePassword(ctx, userID, newHash)
}

// Helper functions
func isValidEmail(email string) bool {
	// Basic email validation
	// In production, use a proper email validation library
	return len(email) > 3 && len(email) < 255
}

func isStrongPassword(password string) bool {
	// Password must be at least 8 characters
	// In production, implement more sophisticated password strength checking
	return len(password) >= 8
}
