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

// Package policycache holds the live, hot-reloadable policy.Snapshot the
// policy engine evaluates against, and the background service that keeps
// it in sync with storage.
package policycache

import (
	"context"
	"sync/atomic"

	"github.com/opentrusty/fhir-authz-core/policy"
)

// PolicyStorage is the storage contract a ReloadService pulls from. It
// is expected to return only active policies; Cache never filters.
type PolicyStorage interface {
	ListActive(ctx context.Context) ([]policy.AccessPolicy, error)
}

// Cache holds an atomically-swappable policy.Snapshot. Reads never block
// writers and writers never block readers: Snapshot() is a single
// pointer load.
//
// Purpose: Lock-free shared view of the active policy set.
// Domain: Authz (Infrastructure)
type Cache struct {
	snapshot atomic.Pointer[policy.Snapshot]
}

// NewCache builds a Cache. initial may be nil, in which case Snapshot()
// returns nil until the first Store.
func NewCache(initial *policy.Snapshot) *Cache {
	c := &Cache{}
	if initial != nil {
		c.snapshot.Store(initial)
	}
	return c
}

// Snapshot returns the current snapshot. Satisfies policy.Cache.
func (c *Cache) Snapshot() *policy.Snapshot {
	return c.snapshot.Load()
}

// Store atomically replaces the current snapshot.
func (c *Cache) Store(snap *policy.Snapshot) {
	c.snapshot.Store(snap)
}
