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

package scriptengine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/opentrusty/fhir-authz-core/policy"
)

const gojaInterruptMarker = "policy script cancelled"

// JSEngine evaluates QuickJS-slot policy scripts with a round-robin pool
// of reused goja runtimes, one per CPU. Runtimes are expensive enough to
// construct (global object, prototype chain) that the pool reuses them
// across calls rather than creating one per evaluation; each runtime's
// globals are wiped and re-seeded before every script to keep
// evaluations isolated from one another.
//
// Purpose: Sandboxed scripted policy evaluation (Allow/Deny/Abstain).
// Domain: Authz
type JSEngine struct {
	Timeout          time.Duration
	MemoryLimitBytes int64

	runtimes []*goja.Runtime
	locks    []sync.Mutex
	next     uint64
}

// NewJSEngine constructs a pool of runtime.NumCPU() goja runtimes.
// Non-positive timeout/memoryLimitBytes fall back to the package
// defaults.
func NewJSEngine(timeout time.Duration, memoryLimitBytes int64) *JSEngine {
	if timeout <= 0 {
		timeout = DefaultQuickJSTimeout
	}
	if memoryLimitBytes <= 0 {
		memoryLimitBytes = DefaultMemoryLimitBytes
	}
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	e := &JSEngine{
		Timeout:          timeout,
		MemoryLimitBytes: memoryLimitBytes,
		runtimes:         make([]*goja.Runtime, n),
		locks:            make([]sync.Mutex, n),
	}
	for i := range e.runtimes {
		e.runtimes[i] = goja.New()
	}
	return e
}

// acquire picks the next runtime round-robin and blocks until it's free.
func (e *JSEngine) acquire() (int, *goja.Runtime) {
	idx := int(atomic.AddUint64(&e.next, 1) % uint64(len(e.runtimes)))
	e.locks[idx].Lock()
	return idx, e.runtimes[idx]
}

func (e *JSEngine) release(idx int) {
	e.locks[idx].Unlock()
}

type gojaResult struct {
	decision *policy.AccessDecision
	err      error
}

// Run evaluates script against pc. The script must call exactly one of
// allow(), deny(reason), or abstain(); an evaluation that returns
// without doing so yields DenyReasonInvalidResult. MemoryLimitBytes is
// advisory only — goja exposes no runtime heap-size hook, so the only
// enforcement mechanism available is the cooperative interrupt that
// Timeout already drives; a script that blows its memory budget is
// expected to blow its time budget too under realistic policy-script
// workloads.
func (e *JSEngine) Run(ctx context.Context, script string, pc policy.PolicyContext) (policy.AccessDecision, error) {
	idx, vm := e.acquire()
	defer e.release(idx)

	resetGlobals(vm)

	var decision *policy.AccessDecision
	if err := bindPolicyHelpers(vm, pc, &decision); err != nil {
		return policy.AccessDecision{}, fmt.Errorf("goja policy script: binding helpers: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	done := make(chan gojaResult, 1)
	go func() {
		_, err := vm.RunString(script)
		done <- gojaResult{decision: decision, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if isInterrupted(res.err, gojaInterruptMarker) {
				return policy.DenyWithMessage(policy.DenyReasonTimeout, "", "policy script timed out"), nil
			}
			return policy.AccessDecision{}, fmt.Errorf("goja policy script: %w", res.err)
		}
		if res.decision == nil {
			return policy.DenyWithMessage(policy.DenyReasonInvalidResult, "", "script produced no decision"), nil
		}
		return *res.decision, nil
	case <-runCtx.Done():
		vm.Interrupt(gojaInterruptMarker)
		res := <-done
		if res.decision != nil {
			return *res.decision, nil
		}
		if ctx.Err() != nil {
			return policy.Deny(policy.DenyReasonCancelled, ""), nil
		}
		return policy.DenyWithMessage(policy.DenyReasonTimeout, "", "policy script timed out"), nil
	}
}

// resetGlobals clears every own property a prior evaluation left on the
// runtime's global object, so scripts never observe state left behind
// by an unrelated policy.
func resetGlobals(vm *goja.Runtime) {
	g := vm.GlobalObject()
	for _, key := range g.Keys() {
		g.Delete(key)
	}
}

// bindPolicyHelpers seeds vm's global object with the decision
// constructors and has_role family, closed over pc and decision.
func bindPolicyHelpers(vm *goja.Runtime, pc policy.PolicyContext, decision **policy.AccessDecision) error {
	set := func(d policy.AccessDecision) { *decision = &d }

	user, client, request, resource, env := contextFields(pc)

	bindings := map[string]interface{}{
		"allow": func() { set(policy.Allow()) },
		"deny": func(reason string) {
			set(policy.DenyWithMessage(policy.DenyReasonPolicy, "", reason))
		},
		"abstain": func() { set(policy.Abstain()) },
		"has_role": func(role string) bool {
			return hasRole(pc, role)
		},
		"has_any_role": func(roles ...string) bool {
			return hasAnyRole(pc, roles)
		},
		"is_patient_user":      func() bool { return isPatientUser(pc) },
		"is_practitioner_user": func() bool { return isPractitionerUser(pc) },
		"in_patient_compartment": func(patientID string) bool {
			return inPatientCompartment(pc, patientID)
		},
		"client_id":     pc.Client.ID,
		"user_id":       pc.User.ID,
		"resource_type": pc.Request.ResourceType,
		"operation":     pc.Request.Operation,
		"scopes":        scopeStrings(pc),

		// user, client, request, resource, and env are the structured
		// context objects a script reads field-by-field (e.g.
		// "user.roles", "request.resource_type", "env.timestamp" — the
		// only clock a script may consult). ctx groups all five under one
		// object for scripts that prefer "ctx.user.id"-style access.
		"user":     user,
		"client":   client,
		"request":  request,
		"resource": resource,
		"env":      env,
		"ctx": map[string]interface{}{
			"user":     user,
			"client":   client,
			"request":  request,
			"resource": resource,
			"env":      env,
		},

		// console.log/warn/error route to the host log, stamped with
		// the request id so a noisy policy script can be traced back to
		// the request that ran it.
		"console": map[string]interface{}{
			"log": func(args ...interface{}) {
				slog.Info("policy script", consoleAttrs(pc, args)...)
			},
			"warn": func(args ...interface{}) {
				slog.Warn("policy script", consoleAttrs(pc, args)...)
			},
			"error": func(args ...interface{}) {
				slog.Error("policy script", consoleAttrs(pc, args)...)
			},
		},
	}

	for name, val := range bindings {
		if err := vm.Set(name, val); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

func consoleAttrs(pc policy.PolicyContext, args []interface{}) []any {
	return []any{
		"message", strings.TrimSuffix(fmt.Sprintln(args...), "\n"),
		"request_id", pc.Environment.RequestID,
	}
}
