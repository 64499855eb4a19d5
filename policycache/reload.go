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

package policycache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opentrusty/fhir-authz-core/policy"
)

const (
	// DefaultDebounce coalesces reload triggers that arrive within this
	// window into a single storage fetch.
	DefaultDebounce = 500 * time.Millisecond
	// DefaultMaxBackoff caps the exponential retry delay after a failed
	// reload.
	DefaultMaxBackoff = 30 * time.Second

	initialBackoff = time.Second
)

// ReloadStats reports the health of the background reload loop.
type ReloadStats struct {
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
	ConsecutiveFailures int
	ReloadsTotal        int64
	PoliciesLoaded      int
}

// ReloadService watches PolicyStorage for changes (via explicit Trigger
// calls from an event hook, a webhook, or a poll loop owned by the
// caller) and rebuilds the Cache's snapshot, debouncing bursts of
// triggers and backing off exponentially on repeated failure.
//
// Purpose: Keeps the policy engine's view of AccessPolicy resources
// current without blocking request-path evaluation on storage.
// Domain: Authz (Infrastructure)
type ReloadService struct {
	storage    PolicyStorage
	cache      *Cache
	debounce   time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger

	triggerCh chan struct{}

	mu    sync.Mutex
	stats ReloadStats
}

// NewReloadService constructs a ReloadService. A zero debounce or
// maxBackoff falls back to the package defaults. If logger is nil,
// slog.Default() is used.
func NewReloadService(storage PolicyStorage, cache *Cache, debounce, maxBackoff time.Duration, logger *slog.Logger) *ReloadService {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReloadService{
		storage:    storage,
		cache:      cache,
		debounce:   debounce,
		maxBackoff: maxBackoff,
		logger:     logger,
		triggerCh:  make(chan struct{}, 1),
	}
}

// Trigger requests a reload. Calls that arrive while one is already
// pending are coalesced; Trigger never blocks.
func (s *ReloadService) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the current reload health.
func (s *ReloadService) Stats() ReloadStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run loops until ctx is cancelled, debouncing triggers and reloading
// the cache. Call it from a single long-lived goroutine; an initial
// Trigger() (or calling it once yourself before Run) performs the first
// load.
func (s *ReloadService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.triggerCh:
			if !s.waitOutDebounce(ctx) {
				return
			}
			s.reloadWithBackoff(ctx)
		}
	}
}

// waitOutDebounce blocks until s.debounce has elapsed with no further
// trigger arriving, collapsing a burst of triggers into one reload.
// Returns false if ctx was cancelled first.
func (s *ReloadService) waitOutDebounce(ctx context.Context) bool {
	timer := time.NewTimer(s.debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.triggerCh:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(s.debounce)
		case <-timer.C:
			return true
		}
	}
}

func (s *ReloadService) reloadWithBackoff(ctx context.Context) {
	err := s.reloadOnce(ctx)

	s.mu.Lock()
	if err != nil {
		s.stats.ConsecutiveFailures++
		s.stats.LastFailureAt = time.Now()
		failures := s.stats.ConsecutiveFailures
		s.mu.Unlock()

		backoff := nextBackoff(failures, s.maxBackoff)
		s.logger.Error("policy reload failed, backing off", "error", err,
			"consecutive_failures", failures, "backoff", backoff)
		time.AfterFunc(backoff, s.Trigger)
		return
	}

	s.stats.ConsecutiveFailures = 0
	s.stats.LastSuccessAt = time.Now()
	s.stats.ReloadsTotal++
	s.mu.Unlock()
}

func (s *ReloadService) reloadOnce(ctx context.Context) error {
	policies, err := s.storage.ListActive(ctx)
	if err != nil {
		return err
	}
	snap, err := policy.NewSnapshot(policies)
	if err != nil {
		return err
	}
	s.cache.Store(snap)

	s.mu.Lock()
	s.stats.PoliciesLoaded = snap.Len()
	s.mu.Unlock()

	s.logger.Info("policy cache reloaded", "policies_loaded", snap.Len())
	return nil
}

// nextBackoff returns 1s * 2^(failures-1), capped at max.
func nextBackoff(failures int, max time.Duration) time.Duration {
	d := initialBackoff
	for i := 1; i < failures && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}
