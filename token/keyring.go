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

// Package token mints and validates JWT access/id tokens and opaque
// refresh tokens, publishes JWKS, and implements RFC 7662 introspection
// and RFC 7009 revocation.
package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Algorithm enumerates the signing algorithms the service supports.
type Algorithm string

const (
	AlgRS256 Algorithm = "RS256"
	AlgRS384 Algorithm = "RS384"
	AlgES384 Algorithm = "ES384"
)

// SigningKey is one key in the rotation set: a kid, its algorithm, and
// the private key material used to sign new tokens (or, for a retained
// previous key, only to validate tokens it already signed).
type SigningKey struct {
	Kid       string
	Algorithm Algorithm
	Private   crypto.Signer
	NotBefore time.Time
}

func (k *SigningKey) signingMethod() jwt.SigningMethod {
	switch k.Algorithm {
	case AlgRS384:
		return jwt.SigningMethodRS384
	case AlgES384:
		return jwt.SigningMethodES384
	default:
		return jwt.SigningMethodRS256
	}
}

// KeyRing is the immutable snapshot of signing keys: one active key used
// to mint new tokens, plus previously-active keys retained only so
// tokens they already signed keep validating until they expire naturally.
type KeyRing struct {
	Active   *SigningKey
	Previous []*SigningKey
}

// All returns every key this ring can validate against, active first.
func (r *KeyRing) All() []*SigningKey {
	out := make([]*SigningKey, 0, 1+len(r.Previous))
	out = append(out, r.Active)
	out = append(out, r.Previous...)
	return out
}

func (r *KeyRing) byKid(kid string) (*SigningKey, bool) {
	for _, k := range r.All() {
		if k.Kid == kid {
			return k, true
		}
	}
	return nil, false
}

// JWKS renders every key in the ring (active + previous) as a public JWK
// Set, suitable for the /auth/jwks endpoint.
func (r *KeyRing) JWKS() (jwk.Set, error) {
	set := jwk.NewSet()
	for _, k := range r.All() {
		pub, err := jwk.PublicKeyOf(k.Private)
		if err != nil {
			return nil, fmt.Errorf("token: public key of %s: %w", k.Kid, err)
		}
		if err := pub.Set(jwk.KeyIDKey, k.Kid); err != nil {
			return nil, fmt.Errorf("token: set kid on %s: %w", k.Kid, err)
		}
		if err := pub.Set(jwk.AlgorithmKey, string(k.Algorithm)); err != nil {
			return nil, fmt.Errorf("token: set alg on %s: %w", k.Kid, err)
		}
		if err := set.AddKey(pub); err != nil {
			return nil, fmt.Errorf("token: add key %s to set: %w", k.Kid, err)
		}
	}
	return set, nil
}

// Ring is an atomic-pointer-guarded holder for the current KeyRing. A
// rotation publishes a whole new KeyRing value; readers always see a
// coherent snapshot and never block.
type Ring struct {
	ptr atomic.Pointer[KeyRing]
}

// NewRing constructs a Ring seeded with initial.
func NewRing(initial *KeyRing) *Ring {
	r := &Ring{}
	r.ptr.Store(initial)
	return r
}

// Load returns the current KeyRing snapshot.
func (r *Ring) Load() *KeyRing { return r.ptr.Load() }

// Rotate publishes next as the new active key, demoting the current
// active key to the front of Previous. If retain > 0, Previous is
// truncated to that many entries, letting the oldest previously-active
// keys finally drop out once every token they signed has expired.
func (r *Ring) Rotate(next *SigningKey, retain int) {
	cur := r.ptr.Load()
	previous := append([]*SigningKey{cur.Active}, cur.Previous...)
	if retain > 0 && len(previous) > retain {
		previous = previous[:retain]
	}
	r.ptr.Store(&KeyRing{Active: next, Previous: previous})
}

// GenerateRSAKey creates a new 2048-bit RSA signing key for RS256/RS384.
func GenerateRSAKey(kid string, alg Algorithm) (*SigningKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("token: generate RSA key: %w", err)
	}
	return &SigningKey{Kid: kid, Algorithm: alg, Private: priv, NotBefore: time.Now()}, nil
}

// GenerateECKey creates a new P-384 signing key for ES384.
func GenerateECKey(kid string) (*SigningKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("token: generate EC key: %w", err)
	}
	return &SigningKey{Kid: kid, Algorithm: AlgES384, Private: priv, NotBefore: time.Now()}, nil
}
