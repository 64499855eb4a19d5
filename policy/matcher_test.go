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
	"errors"
	"testing"

	"github.com/opentrusty/fhir-authz-core/smartscope"
)

func samplePolicy(id string, matcher PolicyMatchers) AccessPolicy {
	return AccessPolicy{
		ID:      id,
		Name:    "test-policy-" + id,
		Engine:  EngineAllow,
		Matcher: matcher,
		Active:  true,
	}
}

func TestCompiledPolicyMatchesClientIDs(t *testing.T) {
	p := samplePolicy("p1", PolicyMatchers{
		ClientIDs: MatchClause{Values: []string{"app-1", "app-2"}, Modifier: ModifierAny},
	})
	cp, err := Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	pc := PolicyContext{Client: ClientContext{ID: "app-2"}}
	if !cp.Matches(pc) {
		t.Error("expected match for app-2")
	}

	pc.Client.ID = "app-3"
	if cp.Matches(pc) {
		t.Error("expected no match for app-3")
	}
}

func TestCompiledPolicyRolesAllModifier(t *testing.T) {
	p := samplePolicy("p2", PolicyMatchers{
		Roles: MatchClause{Values: []string{"practitioner", "admin"}, Modifier: ModifierAll},
	})
	cp, err := Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	pc := PolicyContext{User: UserContext{Roles: []string{"practitioner", "admin", "auditor"}}}
	if !cp.Matches(pc) {
		t.Error("expected match when user has both required roles")
	}

	pc.User.Roles = []string{"practitioner"}
	if cp.Matches(pc) {
		t.Error("expected no match when user is missing a required role")
	}
}

func TestCompiledPolicyIPNetworksNoneModifier(t *testing.T) {
	p := samplePolicy("p3", PolicyMatchers{
		IPNetworks: MatchClause{Values: []string{"10.0.0.0/8"}, Modifier: ModifierNone},
	})
	cp, err := Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	pc := PolicyContext{Environment: EnvironmentContext{SourceIP: "203.0.113.5"}}
	if !cp.Matches(pc) {
		t.Error("expected match for an IP outside the excluded range")
	}

	pc.Environment.SourceIP = "10.1.2.3"
	if cp.Matches(pc) {
		t.Error("expected no match for an IP inside the excluded range")
	}
}

func TestCompiledPolicyScopePatterns(t *testing.T) {
	p := samplePolicy("p4", PolicyMatchers{
		ScopePatterns: MatchClause{Values: []string{`^patient/.*\.r$`}, Modifier: ModifierAny},
	})
	cp, err := Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	scope, err := smartscope.Parse("patient/Patient.r")
	if err != nil {
		t.Fatalf("parse scope: %v", err)
	}

	pc := PolicyContext{Scopes: []smartscope.SmartScope{scope}}
	if !cp.Matches(pc) {
		t.Error("expected scope pattern to match")
	}

	pc.Scopes = nil
	if cp.Matches(pc) {
		t.Error("expected no match with no scopes granted")
	}
}

func TestCompileRejectsScriptEngineWithoutScript(t *testing.T) {
	p := samplePolicy("p5", PolicyMatchers{})
	p.Engine = EngineRhai
	if _, err := Compile(p); err == nil {
		t.Error("expected compile error for Rhai policy without a script")
	}
}

func TestCompileRejectsUnknownModifier(t *testing.T) {
	p := samplePolicy("p7", PolicyMatchers{
		Roles: MatchClause{Values: []string{"admin"}, Modifier: "some"},
	})
	_, err := Compile(p)
	if !errors.Is(err, ErrUnknownModifier) {
		t.Errorf("expected ErrUnknownModifier, got %v", err)
	}
}

func TestValidateRejectsPolicyWithoutID(t *testing.T) {
	p := samplePolicy("", PolicyMatchers{})
	if err := p.Validate(); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestInactivePolicyNeverMatches(t *testing.T) {
	p := samplePolicy("p6", PolicyMatchers{})
	p.Active = false
	cp, err := Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if cp.Matches(PolicyContext{}) {
		t.Error("expected inactive policy to never match")
	}
}
