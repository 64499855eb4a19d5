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
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultSecretCost is the bcrypt work factor used unless a deployment
// overrides it. 12 trades a ~250ms hash for meaningful resistance to
// offline brute force on a stolen secret hash.
const DefaultSecretCost = 12

// HashSecret hashes a client secret for storage with bcrypt at cost. A
// non-positive cost falls back to DefaultSecretCost.
func HashSecret(secret string, cost int) (string, error) {
	if cost <= 0 {
		cost = DefaultSecretCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("client: hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret reports whether secret matches the bcrypt hash produced by
// HashSecret. A mismatch and a malformed hash both yield false.
func VerifySecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
