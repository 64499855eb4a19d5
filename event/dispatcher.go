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
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultHookTimeout bounds how long a single hook invocation may run
// before the dispatcher cancels it and logs the failure.
const DefaultHookTimeout = 30 * time.Second

// Handler is a hook's async callback. It receives the event and must
// return promptly after ctx is cancelled.
type Handler func(ctx context.Context, ev Event) error

// Hook declares the event families it wants delivered and the handler to
// invoke for each matching Event.
type Hook struct {
	Name    string
	Kinds   []Kind // nil means "every kind"
	Handler Handler
	Timeout time.Duration // zero means DefaultHookTimeout
}

func (h *Hook) wants(kind Kind) bool {
	if len(h.Kinds) == 0 {
		return true
	}
	for _, k := range h.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// HookDispatcher subscribes to a Broadcaster and fans every Event out to
// the registered hooks, each running in its own goroutine with a bounded
// timeout and panic isolation so one failing hook never affects another.
//
// Purpose: Out-of-process-style side-effect delivery (metrics, SIEM
// forwarding, webhook notification) decoupled from the request path that
// raised the event.
// Domain: Platform
type HookDispatcher struct {
	hooks []*Hook
}

// NewHookDispatcher constructs a dispatcher over hooks. The slice is not
// copied defensively; callers should not mutate it after construction.
func NewHookDispatcher(hooks ...*Hook) *HookDispatcher {
	return &HookDispatcher{hooks: hooks}
}

// Run subscribes to b and dispatches events to every matching hook until
// ctx is cancelled. It blocks; callers run it in its own goroutine.
func (d *HookDispatcher) Run(ctx context.Context, b *Broadcaster) {
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			d.dispatch(ctx, ev)
		}
	}
}

func (d *HookDispatcher) dispatch(ctx context.Context, ev Event) {
	for _, h := range d.hooks {
		if !h.wants(ev.Kind) {
			continue
		}
		go d.invoke(ctx, h, ev)
	}
}

func (d *HookDispatcher) invoke(ctx context.Context, h *Hook, ev Event) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("hook %q panicked: %v", h.Name, r)
			}
		}()
		done <- h.Handler(hctx, ev)
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.ErrorContext(ctx, "hook invocation failed", "hook", h.Name, "error", err)
		}
	case <-hctx.Done():
		slog.ErrorContext(ctx, "hook invocation timed out", "hook", h.Name, "timeout", timeout)
	}
}
