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

package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/opentrusty/fhir-authz-core/smartscope"
)

type staticCache struct {
	snapshot *Snapshot
}

func (c *staticCache) Snapshot() *Snapshot { return c.snapshot }

type stubScriptRunner struct {
	decision AccessDecision
	err      error
}

func (s *stubScriptRunner) Run(ctx context.Context, kind EngineKind, script string, pc PolicyContext) (AccessDecision, error) {
	return s.decision, s.err
}

func mustSnapshot(t *testing.T, policies ...AccessPolicy) *Snapshot {
	t.Helper()
	snap, err := NewSnapshot(policies)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	return snap
}

func baseContext(resourceType, operation string) PolicyContext {
	return PolicyContext{
		Client:  ClientContext{ID: "app-1", Type: "confidential"},
		User:    UserContext{ID: "u1", Roles: []string{"practitioner"}},
		Request: RequestContext{ResourceType: resourceType, Operation: operation},
	}
}

func TestEngineEvaluateAllowPolicyWins(t *testing.T) {
	snap := mustSnapshot(t, AccessPolicy{
		ID: "allow-1", Engine: EngineAllow, Active: true, Priority: 10,
		Matcher: PolicyMatchers{ResourceTypes: MatchClause{Values: []string{"Patient"}}},
	})
	engine := NewEngine(&staticCache{snapshot: snap}, nil, EngineConfig{DefaultDecision: DecisionDeny}, nil)

	pc := baseContext("Patient", "read")
	pc.Scopes = mustScopes(t, "patient/Patient.r")

	decision, err := engine.Evaluate(context.Background(), pc)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Kind != DecisionAllow {
		t.Fatalf("expected allow, got %+v", decision)
	}
	if decision.PolicyID != "allow-1" {
		t.Errorf("expected policy_id allow-1, got %q", decision.PolicyID)
	}
}

func TestEngineEvaluateScopeGateBlocksBeforePolicies(t *testing.T) {
	snap := mustSnapshot(t, AccessPolicy{
		ID: "allow-1", Engine: EngineAllow, Active: true,
		Matcher: PolicyMatchers{ResourceTypes: MatchClause{Values: []string{"Patient"}}},
	})
	engine := NewEngine(&staticCache{snapshot: snap}, nil, DefaultEngineConfig(), nil)

	pc := baseContext("Patient", "read")
	// No scopes granted at all: scope gate should reject before the
	// unconditionally-allowing policy ever runs.
	decision, err := engine.Evaluate(context.Background(), pc)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Kind != DecisionDeny || decision.Reason != DenyReasonScope {
		t.Fatalf("expected scope-gate deny, got %+v", decision)
	}
}

func TestEngineEvaluateHigherPriorityDenyBeatsLowerPriorityAllow(t *testing.T) {
	snap := mustSnapshot(t,
		AccessPolicy{ID: "allow-low", Engine: EngineAllow, Active: true, Priority: 1,
			Matcher: PolicyMatchers{ResourceTypes: MatchClause{Values: []string{"Patient"}}}},
		AccessPolicy{ID: "deny-high", Engine: EngineDeny, Active: true, Priority: 100,
			Matcher: PolicyMatchers{ResourceTypes: MatchClause{Values: []string{"Patient"}}}},
	)
	engine := NewEngine(&staticCache{snapshot: snap}, nil, DefaultEngineConfig(), nil)

	pc := baseContext("Patient", "read")
	pc.Scopes = mustScopes(t, "patient/Patient.r")

	decision, err := engine.Evaluate(context.Background(), pc)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Kind != DecisionDeny || decision.PolicyID != "deny-high" {
		t.Fatalf("expected deny from deny-high, got %+v", decision)
	}
}

func TestEngineEvaluateHigherPriorityWildcardDenyBeatsLowerPrioritySpecificAllow(t *testing.T) {
	snap := mustSnapshot(t,
		AccessPolicy{ID: "allow-specific", Engine: EngineAllow, Active: true, Priority: 1,
			Matcher: PolicyMatchers{ResourceTypes: MatchClause{Values: []string{"Patient"}}}},
		AccessPolicy{ID: "deny-wildcard", Engine: EngineDeny, Active: true, Priority: 100,
			Matcher: PolicyMatchers{}},
	)
	engine := NewEngine(&staticCache{snapshot: snap}, nil, DefaultEngineConfig(), nil)

	pc := baseContext("Patient", "read")
	pc.Scopes = mustScopes(t, "patient/Patient.r")

	decision, err := engine.Evaluate(context.Background(), pc)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Kind != DecisionDeny || decision.PolicyID != "deny-wildcard" {
		t.Fatalf("expected the higher-priority wildcard deny to win across buckets, got %+v", decision)
	}
}

func TestEngineEvaluateFallsBackToDefaultWhenNoPolicyMatches(t *testing.T) {
	snap := mustSnapshot(t)
	engine := NewEngine(&staticCache{snapshot: snap}, nil, EngineConfig{DefaultDecision: DecisionDeny}, nil)

	pc := baseContext("Patient", "read")
	pc.Scopes = mustScopes(t, "patient/Patient.r")

	decision, err := engine.Evaluate(context.Background(), pc)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Kind != DecisionDeny {
		t.Fatalf("expected default deny, got %+v", decision)
	}
}

func TestEngineEvaluateScriptErrorFailsClosedByDefault(t *testing.T) {
	snap := mustSnapshot(t, AccessPolicy{
		ID: "script-1", Engine: EngineRhai, Active: true, Script: "allow()",
		Matcher: PolicyMatchers{ResourceTypes: MatchClause{Values: []string{"Patient"}}},
	})
	runner := &stubScriptRunner{err: errors.New("script timed out")}
	engine := NewEngine(&staticCache{snapshot: snap}, runner, DefaultEngineConfig(), nil)

	pc := baseContext("Patient", "read")
	pc.Scopes = mustScopes(t, "patient/Patient.r")

	decision, err := engine.Evaluate(context.Background(), pc)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Kind != DecisionDeny || decision.Reason != DenyReasonScriptError {
		t.Fatalf("expected script-error deny, got %+v", decision)
	}
}

func TestEngineEvaluateAbstainFallsThroughToNextPolicy(t *testing.T) {
	snap := mustSnapshot(t,
		AccessPolicy{ID: "script-1", Engine: EngineRhai, Active: true, Priority: 10, Script: "abstain()",
			Matcher: PolicyMatchers{ResourceTypes: MatchClause{Values: []string{"Patient"}}}},
		AccessPolicy{ID: "allow-1", Engine: EngineAllow, Active: true, Priority: 1,
			Matcher: PolicyMatchers{ResourceTypes: MatchClause{Values: []string{"Patient"}}}},
	)
	runner := &stubScriptRunner{decision: Abstain()}
	engine := NewEngine(&staticCache{snapshot: snap}, runner, DefaultEngineConfig(), nil)

	pc := baseContext("Patient", "read")
	pc.Scopes = mustScopes(t, "patient/Patient.r")

	decision, err := engine.Evaluate(context.Background(), pc)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Kind != DecisionAllow || decision.PolicyID != "allow-1" {
		t.Fatalf("expected fallthrough to allow-1, got %+v", decision)
	}
}

func mustScopes(t *testing.T, raw ...string) []smartscope.SmartScope {
	t.Helper()
	scopes := make([]smartscope.SmartScope, 0, len(raw))
	for _, r := range raw {
		s, err := smartscope.Parse(r)
		if err != nil {
			t.Fatalf("parse scope %q: %v", r, err)
		}
		scopes = append(scopes, s)
	}
	return scopes
}
