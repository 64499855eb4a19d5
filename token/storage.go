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

package token

import (
	"context"
	"errors"
	"time"
)

// Domain errors returned by RefreshTokenStorage implementations.
var (
	ErrRefreshTokenNotFound = errors.New("token: refresh token not found")
	ErrRefreshTokenRotated  = errors.New("token: refresh token already rotated")
)

// RefreshTokenRecord is the persisted (hashed) state of a single refresh
// token in a rotation chain.
type RefreshTokenRecord struct {
	TokenHash string
	ClientID  string
	UserID    string
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RotatedTo string // hash of the token this one rotated into; empty while still live
	Revoked   bool
}

// RefreshTokenStorage is the persistence contract for refresh token
// rotation and breach detection. Presenting a token whose RotatedTo is
// already set (or whose Revoked flag is set) must cause the caller to
// invalidate the whole chain via RevokeChain.
type RefreshTokenStorage interface {
	Put(ctx context.Context, rec *RefreshTokenRecord) error
	Get(ctx context.Context, hash string) (*RefreshTokenRecord, error)
	// ConsumeAndRotate atomically marks the record at hash as rotated to
	// next.TokenHash and inserts next as a new live record. Returns
	// ErrRefreshTokenNotFound if hash is unknown.
	ConsumeAndRotate(ctx context.Context, hash string, next *RefreshTokenRecord) error
	// RevokeChain revokes the record at hash and, transitively, every
	// record it was ever rotated into.
	RevokeChain(ctx context.Context, hash string) error
}

// RevokedTokenEntry marks a minted access token's jti as revoked ahead of
// its natural expiry (RFC 7009 revocation of an access token).
type RevokedTokenEntry struct {
	JTI       string
	ClientID  string
	ExpiresAt time.Time
}

// RevokedTokenStorage is the persistence contract backing access-token
// jti revocation.
type RevokedTokenStorage interface {
	Insert(ctx context.Context, entry RevokedTokenEntry) error
	Contains(ctx context.Context, jti string) (bool, error)
	PurgeExpired(ctx context.Context) (int, error)
}
