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

package event

import (
	"sync"
	"sync/atomic"
)

// subscriberBuffer is the default capacity of a subscriber's channel. Once
// full, the Broadcaster drops the event rather than blocking the
// producer — subscribers never exert backpressure.
const subscriberBuffer = 256

// subscriber is one registered channel and the lag counter tracking
// events dropped because its buffer was full.
type subscriber struct {
	ch     chan Event
	lagged atomic.Uint64
}

// Broadcaster is a process-wide, multi-subscriber fan-out of Event
// values. Publish never blocks: a subscriber whose buffer is full loses
// the event and its lagged counter increments instead.
//
// Purpose: In-process pub/sub for resource/auth/system events, driving
// the policy reload trigger and any out-of-process hook forwarding.
// Domain: Platform
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextID    atomic.Uint64
	published atomic.Uint64
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]*subscriber)}
}

// Subscription is a live registration returned by Subscribe. The caller
// ranges over C until Unsubscribe closes it.
type Subscription struct {
	id uint64
	C  <-chan Event
}

// Subscribe registers a new subscriber and returns its subscription. The
// caller must eventually call Unsubscribe to release it.
func (b *Broadcaster) Subscribe() *Subscription {
	id := b.nextID.Add(1)
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	return &Subscription{id: id, C: s.ch}
}

// Unsubscribe removes the subscription and closes its channel. Safe to
// call more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	s, ok := b.subs[sub.id]
	if ok {
		delete(b.subs, sub.id)
	}
	b.mu.Unlock()

	if ok {
		close(s.ch)
	}
}

// Publish fans ev out to every current subscriber without blocking.
// Events to a single subscriber preserve publish order; no ordering is
// guaranteed across subscribers or across concurrent publishers.
func (b *Broadcaster) Publish(ev Event) {
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			s.lagged.Add(1)
		}
	}
}

// Lagged returns the number of events dropped on sub's channel because
// its buffer was full when Publish tried to deliver.
func (b *Broadcaster) Lagged(sub *Subscription) uint64 {
	b.mu.RLock()
	s, ok := b.subs[sub.id]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return s.lagged.Load()
}

// SubscriberCount reports how many subscriptions are currently live.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published returns the total number of events ever passed to Publish.
func (b *Broadcaster) Published() uint64 {
	return b.published.Load()
}
