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
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/opentrusty/fhir-authz-core/policy"
)

var starlarkFileOptions = &syntax.FileOptions{TopLevelControl: true}

const starlarkInterruptMarker = "policy script cancelled"

// StarlarkEngine evaluates Rhai-slot policy scripts with go.starlark.net.
// Each Run gets a fresh Thread and a fresh set of predeclared bindings,
// so there is no cross-evaluation state to isolate — unlike the
// QuickJS-equivalent pool, nothing here needs to be reused for cost
// reasons; compiling and executing a short starlark script is cheap.
//
// Purpose: Sandboxed scripted policy evaluation (Allow/Deny/Abstain).
// Domain: Authz
type StarlarkEngine struct {
	Timeout time.Duration
}

// NewStarlarkEngine constructs a StarlarkEngine. A non-positive timeout
// falls back to DefaultRhaiTimeout.
func NewStarlarkEngine(timeout time.Duration) *StarlarkEngine {
	if timeout <= 0 {
		timeout = DefaultRhaiTimeout
	}
	return &StarlarkEngine{Timeout: timeout}
}

type starlarkResult struct {
	decision *policy.AccessDecision
	err      error
}

// Run evaluates script against pc. The script must call exactly one of
// allow(), deny(reason), or abstain() at module scope; if it returns
// without doing so, the result is DenyReasonInvalidResult.
func (e *StarlarkEngine) Run(ctx context.Context, script string, pc policy.PolicyContext) (policy.AccessDecision, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	var decision *policy.AccessDecision
	thread := &starlark.Thread{Name: "access-policy"}

	done := make(chan starlarkResult, 1)
	go func() {
		predeclared := e.predeclared(pc, &decision)
		_, err := starlark.ExecFileOptions(starlarkFileOptions, thread, "policy.star", script, predeclared)
		done <- starlarkResult{decision: decision, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if isInterrupted(res.err, starlarkInterruptMarker) {
				return policy.DenyWithMessage(policy.DenyReasonTimeout, "", "policy script timed out"), nil
			}
			return policy.AccessDecision{}, fmt.Errorf("starlark policy script: %w", res.err)
		}
		if res.decision == nil {
			return policy.DenyWithMessage(policy.DenyReasonInvalidResult, "", "script produced no decision"), nil
		}
		return *res.decision, nil
	case <-runCtx.Done():
		thread.Cancel(starlarkInterruptMarker)
		res := <-done // Cancel causes ExecFile to return promptly.
		if res.decision != nil {
			return *res.decision, nil
		}
		if ctx.Err() != nil {
			return policy.Deny(policy.DenyReasonCancelled, ""), nil
		}
		return policy.DenyWithMessage(policy.DenyReasonTimeout, "", "policy script timed out"), nil
	}
}

// predeclared builds the global bindings visible to a policy script:
// the allow/deny/abstain decision constructors and the has_role family
// of helpers, each closed over this evaluation's PolicyContext.
func (e *StarlarkEngine) predeclared(pc policy.PolicyContext, decision **policy.AccessDecision) starlark.StringDict {
	set := func(d policy.AccessDecision) { *decision = &d }

	allowFn := starlark.NewBuiltin("allow", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		set(policy.Allow())
		return starlark.None, nil
	})

	denyFn := starlark.NewBuiltin("deny", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var reason string
		if err := starlark.UnpackArgs("deny", args, kwargs, "reason?", &reason); err != nil {
			return nil, err
		}
		set(policy.DenyWithMessage(policy.DenyReasonPolicy, "", reason))
		return starlark.None, nil
	})

	abstainFn := starlark.NewBuiltin("abstain", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		set(policy.Abstain())
		return starlark.None, nil
	})

	hasRoleFn := starlark.NewBuiltin("has_role", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var role string
		if err := starlark.UnpackArgs("has_role", args, kwargs, "role", &role); err != nil {
			return nil, err
		}
		return starlark.Bool(hasRole(pc, role)), nil
	})

	hasAnyRoleFn := starlark.NewBuiltin("has_any_role", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		roles := make([]string, 0, len(args))
		for _, a := range args {
			s, ok := starlark.AsString(a)
			if !ok {
				return nil, fmt.Errorf("has_any_role: expected string arguments")
			}
			roles = append(roles, s)
		}
		return starlark.Bool(hasAnyRole(pc, roles)), nil
	})

	isPatientUserFn := starlark.NewBuiltin("is_patient_user", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return starlark.Bool(isPatientUser(pc)), nil
	})

	isPractitionerUserFn := starlark.NewBuiltin("is_practitioner_user", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return starlark.Bool(isPractitionerUser(pc)), nil
	})

	inPatientCompartmentFn := starlark.NewBuiltin("in_patient_compartment", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var patientID string
		if err := starlark.UnpackArgs("in_patient_compartment", args, kwargs, "patient_id", &patientID); err != nil {
			return nil, err
		}
		return starlark.Bool(inPatientCompartment(pc, patientID)), nil
	})

	scopeValues := make([]starlark.Value, 0, len(pc.Scopes))
	for _, s := range scopeStrings(pc) {
		scopeValues = append(scopeValues, starlark.String(s))
	}

	user, client, request, resource, env := contextFields(pc)
	userDict := toStarlarkDict(user)
	clientDict := toStarlarkDict(client)
	requestDict := toStarlarkDict(request)
	resourceDict := toStarlarkDict(resource)
	envDict := toStarlarkDict(env)

	return starlark.StringDict{
		"allow":                  allowFn,
		"deny":                   denyFn,
		"abstain":                abstainFn,
		"has_role":               hasRoleFn,
		"has_any_role":           hasAnyRoleFn,
		"is_patient_user":        isPatientUserFn,
		"is_practitioner_user":   isPractitionerUserFn,
		"in_patient_compartment": inPatientCompartmentFn,
		"client_id":              starlark.String(pc.Client.ID),
		"user_id":                starlark.String(pc.User.ID),
		"resource_type":          starlark.String(pc.Request.ResourceType),
		"operation":              starlark.String(pc.Request.Operation),
		"scopes":                 starlark.NewList(scopeValues),

		// user, client, request, resource, and env are the structured
		// context objects a script indexes by key (e.g. user["roles"],
		// request["resource_type"], env["timestamp"] — the only clock a
		// script may consult). ctx groups all five for scripts that
		// prefer a single entry point.
		"user":     userDict,
		"client":   clientDict,
		"request":  requestDict,
		"resource": resourceDict,
		"env":      envDict,
		"ctx": toStarlarkDict(map[string]interface{}{
			"user":     user,
			"client":   client,
			"request":  request,
			"resource": resource,
			"env":      env,
		}),
	}
}

// toStarlarkValue converts a plain Go value produced by contextFields
// (strings, bools, integers, []interface{}, map[string]interface{}, or
// nil) into its starlark.Value equivalent.
func toStarlarkValue(v interface{}) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case string:
		return starlark.String(val)
	case bool:
		return starlark.Bool(val)
	case int:
		return starlark.MakeInt(val)
	case int64:
		return starlark.MakeInt64(val)
	case float64:
		return starlark.Float(val)
	case []string:
		items := make([]starlark.Value, len(val))
		for i, e := range val {
			items[i] = starlark.String(e)
		}
		return starlark.NewList(items)
	case []interface{}:
		items := make([]starlark.Value, len(val))
		for i, e := range val {
			items[i] = toStarlarkValue(e)
		}
		return starlark.NewList(items)
	case map[string]interface{}:
		return toStarlarkDict(val)
	default:
		return starlark.String(fmt.Sprintf("%v", val))
	}
}

// toStarlarkDict converts a map[string]interface{} into a *starlark.Dict,
// recursively converting nested maps and slices.
func toStarlarkDict(m map[string]interface{}) *starlark.Dict {
	d := starlark.NewDict(len(m))
	for k, v := range m {
		_ = d.SetKey(starlark.String(k), toStarlarkValue(v))
	}
	return d
}
