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
	"testing"
	"time"

	"github.com/opentrusty/fhir-authz-core/policy"
)

func practitionerContext() policy.PolicyContext {
	return policy.PolicyContext{
		Client:  policy.ClientContext{ID: "app-1"},
		User:    policy.UserContext{ID: "u1", Roles: []string{"practitioner"}},
		Request: policy.RequestContext{ResourceType: "Patient", Operation: "read"},
	}
}

func fullContext() policy.PolicyContext {
	return policy.PolicyContext{
		Client: policy.ClientContext{ID: "app-1", Type: "confidential"},
		User:   policy.UserContext{ID: "u1", Roles: []string{"practitioner"}, FHIRUser: "Practitioner/u1"},
		Request: policy.RequestContext{
			Method: "GET", ResourceType: "Observation", Operation: "read", Compartment: "patient-1",
		},
		Resource: map[string]interface{}{"status": "final"},
		Environment: policy.EnvironmentContext{
			RequestID: "req-1",
			SourceIP:  "10.0.0.1",
			Timestamp: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestStarlarkEngineAllow(t *testing.T) {
	e := NewStarlarkEngine(50 * time.Millisecond)
	decision, err := e.Run(context.Background(), `
if has_role("practitioner"):
    allow()
else:
    deny("not a practitioner")
`, practitionerContext())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if decision.Kind != policy.DecisionAllow {
		t.Fatalf("expected allow, got %+v", decision)
	}
}

func TestStarlarkEngineDenyWithReason(t *testing.T) {
	e := NewStarlarkEngine(50 * time.Millisecond)
	decision, err := e.Run(context.Background(), `deny("insufficient role")`, policy.PolicyContext{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if decision.Kind != policy.DecisionDeny || decision.Message != "insufficient role" {
		t.Fatalf("expected deny with message, got %+v", decision)
	}
}

func TestStarlarkEngineNoDecisionIsInvalidResult(t *testing.T) {
	e := NewStarlarkEngine(50 * time.Millisecond)
	decision, err := e.Run(context.Background(), `x = 1 + 1`, policy.PolicyContext{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if decision.Kind != policy.DecisionDeny || decision.Reason != policy.DenyReasonInvalidResult {
		t.Fatalf("expected invalid-result deny, got %+v", decision)
	}
}

func TestStarlarkEngineTimeout(t *testing.T) {
	e := NewStarlarkEngine(5 * time.Millisecond)
	decision, err := e.Run(context.Background(), `
for i in range(100000000):
    pass
allow()
`, policy.PolicyContext{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if decision.Kind != policy.DecisionDeny || decision.Reason != policy.DenyReasonTimeout {
		t.Fatalf("expected timeout deny, got %+v", decision)
	}
}

func TestStarlarkEngineExposesStructuredContextObjects(t *testing.T) {
	e := NewStarlarkEngine(50 * time.Millisecond)
	decision, err := e.Run(context.Background(), `
if user["id"] != "u1" or user["roles"][0] != "practitioner":
    deny("bad user")
elif client["id"] != "app-1":
    deny("bad client")
elif request["resource_type"] != "Observation" or request["compartment"] != "patient-1":
    deny("bad request")
elif resource["status"] != "final":
    deny("bad resource")
elif env["timestamp"] != 1785499200 or env["request_id"] != "req-1":
    deny("bad env")
elif ctx["user"]["id"] != "u1":
    deny("bad ctx")
else:
    allow()
`, fullContext())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if decision.Kind != policy.DecisionAllow {
		t.Fatalf("expected allow, got %+v", decision)
	}
}

func TestJSEngineAllow(t *testing.T) {
	e := NewJSEngine(50*time.Millisecond, 0)
	decision, err := e.Run(context.Background(), `
if (has_role("practitioner")) { allow(); } else { deny("no"); }
`, practitionerContext())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if decision.Kind != policy.DecisionAllow {
		t.Fatalf("expected allow, got %+v", decision)
	}
}

func TestJSEngineExposesStructuredContextObjects(t *testing.T) {
	e := NewJSEngine(50*time.Millisecond, 0)
	decision, err := e.Run(context.Background(), `
if (user.id !== "u1" || user.roles[0] !== "practitioner") { deny("bad user"); }
else if (client.id !== "app-1") { deny("bad client"); }
else if (request.resource_type !== "Observation" || request.compartment !== "patient-1") { deny("bad request"); }
else if (resource.status !== "final") { deny("bad resource"); }
else if (env.timestamp !== 1785499200 || env.request_id !== "req-1") { deny("bad env"); }
else if (ctx.user.id !== "u1") { deny("bad ctx"); }
else { allow(); }
`, fullContext())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if decision.Kind != policy.DecisionAllow {
		t.Fatalf("expected allow, got %+v", decision)
	}
}

func TestJSEngineIsolationBetweenCalls(t *testing.T) {
	e := NewJSEngine(50*time.Millisecond, 0)
	if _, err := e.Run(context.Background(), `leaked = true; allow();`, policy.PolicyContext{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	decision, err := e.Run(context.Background(), `
if (typeof leaked !== "undefined") { deny("leaked global visible"); } else { allow(); }
`, policy.PolicyContext{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if decision.Kind != policy.DecisionAllow {
		t.Fatalf("expected no leaked global between runs, got %+v", decision)
	}
}

func TestJSEngineTimeout(t *testing.T) {
	e := NewJSEngine(5*time.Millisecond, 0)
	decision, err := e.Run(context.Background(), `while (true) {} `, policy.PolicyContext{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if decision.Kind != policy.DecisionDeny || decision.Reason != policy.DenyReasonTimeout {
		t.Fatalf("expected timeout deny, got %+v", decision)
	}
}

func TestPoolDispatchesByEngineKind(t *testing.T) {
	p := NewPool(50*time.Millisecond, 50*time.Millisecond, 0)

	d1, err := p.Run(context.Background(), policy.EngineRhai, `allow()`, policy.PolicyContext{})
	if err != nil {
		t.Fatalf("rhai run: %v", err)
	}
	if d1.Kind != policy.DecisionAllow {
		t.Errorf("expected allow from starlark, got %+v", d1)
	}

	d2, err := p.Run(context.Background(), policy.EngineQuickJS, `allow();`, policy.PolicyContext{})
	if err != nil {
		t.Fatalf("quickjs run: %v", err)
	}
	if d2.Kind != policy.DecisionAllow {
		t.Errorf("expected allow from goja, got %+v", d2)
	}

	if _, err := p.Run(context.Background(), policy.EngineAllow, "", policy.PolicyContext{}); err == nil {
		t.Error("expected error for non-script engine kind")
	}
}
