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

package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/opentrusty/fhir-authz-core/audit"
	"github.com/opentrusty/fhir-authz-core/id"
)

// Service provides OAuth2 client management business logic.
//
// Purpose: Implementation of client registration, validation, and lifecycle rules.
// Domain: Authz
type Service struct {
	repo        Repository
	auditLogger audit.Logger
	secretCost  int
}

// NewService creates a new client management service. A non-positive
// secretCost falls back to DefaultSecretCost.
func NewService(repo Repository, auditLogger audit.Logger, secretCost int) *Service {
	return &Service{repo: repo, auditLogger: auditLogger, secretCost: secretCost}
}

// RegisterClient validates and creates a new OAuth2 client. For a
// confidential client whose token endpoint auth method is neither
// private_key_jwt nor none (i.e. it will authenticate with
// client_secret_basic/post), it generates and returns the plaintext
// secret exactly once; only its bcrypt hash is persisted.
//
// Purpose: Enforces system rules on new client registrations and persists them.
// Domain: Authz
// Audited: Yes (ClientCreated)
// Errors: ErrInvalidClientURI, ErrInvalidRedirectURI, System errors
func (s *Service) RegisterClient(ctx context.Context, actorID string, c *Client) (plaintextSecret string, created *Client, err error) {
	if err := s.validateClient(c); err != nil {
		return "", nil, err
	}

	if c.ID == "" {
		c.ID = id.NewUUIDv7()
	}
	if c.ClientID == "" {
		c.ClientID = id.NewUUIDv7()
	}

	if c.Type == TypeConfidential && c.TokenEndpointAuthMethod != AuthMethodPrivateKeyJWT && c.TokenEndpointAuthMethod != AuthMethodNone {
		plaintextSecret = GenerateClientSecret()
		hash, herr := HashSecret(plaintextSecret, s.secretCost)
		if herr != nil {
			return "", nil, herr
		}
		c.SecretHash = hash
	}

	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if !c.IsActive {
		c.IsActive = true
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return "", nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:       audit.TypeClientCreated,
		ActorID:    actorID,
		Resource:   audit.ResourceClient,
		TargetName: c.Name,
		TargetID:   c.ClientID,
		Metadata: map[string]any{
			"client_id":   c.ClientID,
			"client_name": c.Name,
			"client_type": string(c.Type),
		},
	})

	return plaintextSecret, c, nil
}

// ListClients retrieves a page of registered clients.
func (s *Service) ListClients(ctx context.Context, limit, offset int) ([]*Client, error) {
	return s.repo.List(ctx, limit, offset)
}

// GetClient retrieves a client by internal ID.
func (s *Service) GetClient(ctx context.Context, id string) (*Client, error) {
	return s.repo.GetByID(ctx, id)
}

// GetClientByClientID retrieves a client by its external client_id.
func (s *Service) GetClientByClientID(ctx context.Context, clientID string) (*Client, error) {
	return s.repo.GetByClientID(ctx, clientID)
}

// AuthenticateSecret verifies secret against the client's stored bcrypt
// hash. It returns ErrInvalidClientSecret on any mismatch or if the
// client has no secret configured (public or private_key_jwt clients).
func (s *Service) AuthenticateSecret(c *Client, secret string) error {
	if c.SecretHash == "" {
		return ErrInvalidClientSecret
	}
	if !VerifySecret(secret, c.SecretHash) {
		return ErrInvalidClientSecret
	}
	return nil
}

// RotateSecret issues a fresh client secret, persists its hash, and
// returns the new plaintext value.
func (s *Service) RotateSecret(ctx context.Context, c *Client, actorID string) (string, error) {
	secret := GenerateClientSecret()
	hash, err := HashSecret(secret, s.secretCost)
	if err != nil {
		return "", err
	}
	c.SecretHash = hash
	c.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, c); err != nil {
		return "", err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:       audit.TypeSecretRotated,
		ActorID:    actorID,
		Resource:   audit.ResourceClient,
		TargetName: c.Name,
		TargetID:   c.ClientID,
	})

	return secret, nil
}

// DeleteClient soft-deletes a client registration.
func (s *Service) DeleteClient(ctx context.Context, id string, actorID string) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:       audit.TypeClientDeleted,
		ActorID:    actorID,
		Resource:   audit.ResourceClient,
		TargetName: c.Name,
		TargetID:   c.ClientID,
	})
	return nil
}

// UpdateClient persists changes to an existing client registration.
func (s *Service) UpdateClient(ctx context.Context, c *Client, actorID string) error {
	if err := s.validateClient(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:       audit.TypeClientUpdated,
		ActorID:    actorID,
		Resource:   audit.ResourceClient,
		TargetName: c.Name,
		TargetID:   c.ClientID,
	})
	return nil
}

func (s *Service) validateClient(c *Client) error {
	if c.ClientURI != "" {
		if _, err := url.ParseRequestURI(c.ClientURI); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidClientURI, err)
		}
	}

	for _, uri := range c.RedirectURIs {
		if _, err := url.ParseRequestURI(uri); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidRedirectURI, uri)
		}
	}
	return nil
}
