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

// Package scriptengine sandboxes the two script-backed policy engines:
// go.starlark.net standing in for Rhai, and goja standing in for
// QuickJS. Both expose the same helper vocabulary and decision
// constructors to policy scripts, and both enforce a cooperative
// per-evaluation timeout.
package scriptengine

import (
	"strings"
	"time"

	"github.com/opentrusty/fhir-authz-core/policy"
)

const (
	// DefaultRhaiTimeout is the cooperative evaluation budget for
	// starlark (Rhai-equivalent) scripts.
	DefaultRhaiTimeout = 50 * time.Millisecond
	// DefaultQuickJSTimeout is the cooperative evaluation budget for
	// goja (QuickJS-equivalent) scripts.
	DefaultQuickJSTimeout = 100 * time.Millisecond
	// DefaultMemoryLimitBytes is the advisory per-runtime heap budget
	// for the QuickJS-equivalent pool. goja has no API to enforce a hard
	// ceiling, so this value is configuration surface only, approximated
	// via the timeout interrupt.
	DefaultMemoryLimitBytes = 16 * 1024 * 1024
)

func hasRole(pc policy.PolicyContext, role string) bool {
	for _, r := range pc.User.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func hasAnyRole(pc policy.PolicyContext, roles []string) bool {
	for _, r := range roles {
		if hasRole(pc, r) {
			return true
		}
	}
	return false
}

func isPatientUser(pc policy.PolicyContext) bool { return hasRole(pc, "patient") }

func isPractitionerUser(pc policy.PolicyContext) bool { return hasRole(pc, "practitioner") }

// inPatientCompartment reports whether the acting user is scoped to
// patientID's compartment: either the request was already resolved to
// that compartment, or the user's FHIR identity is that patient.
func inPatientCompartment(pc policy.PolicyContext, patientID string) bool {
	if pc.Request.Compartment != "" {
		return pc.Request.Compartment == patientID
	}
	return pc.User.FHIRUser == "Patient/"+patientID
}

// scopeStrings renders pc.Scopes to their canonical string form, for
// scripts that want to inspect the raw scope list.
func scopeStrings(pc policy.PolicyContext) []string {
	out := make([]string, len(pc.Scopes))
	for i, s := range pc.Scopes {
		out[i] = s.String()
	}
	return out
}

// isInterrupted reports whether err is the sentinel each engine uses to
// signal that its own timeout interrupt fired (as opposed to a script
// bug or ctx cancellation).
func isInterrupted(err error, marker string) bool {
	return err != nil && strings.Contains(err.Error(), marker)
}

// contextFields flattens a PolicyContext into the plain-Go field maps
// both engines inject as the user/client/request/resource/env objects a
// script sees. Keeping this in one place means a field added to
// PolicyContext only needs wiring into one engine-neutral spot; each
// engine's binding code only has to convert these maps into its own
// value representation.
func contextFields(pc policy.PolicyContext) (user, client, request, resource, env map[string]interface{}) {
	roles := make([]interface{}, len(pc.User.Roles))
	for i, r := range pc.User.Roles {
		roles[i] = r
	}

	user = map[string]interface{}{
		"id":        pc.User.ID,
		"roles":     roles,
		"fhir_user": pc.User.FHIRUser,
	}
	client = map[string]interface{}{
		"id":   pc.Client.ID,
		"type": pc.Client.Type,
	}
	request = map[string]interface{}{
		"method":        pc.Request.Method,
		"path":          pc.Request.Path,
		"resource_type": pc.Request.ResourceType,
		"resource_id":   pc.Request.ResourceID,
		"operation":     pc.Request.Operation,
		"compartment":   pc.Request.Compartment,
		"query":         pc.Request.Query,
		"body_hash":     pc.Request.BodyHash,
	}
	resource = pc.Resource
	if resource == nil {
		resource = map[string]interface{}{}
	}
	env = map[string]interface{}{
		"request_id": pc.Environment.RequestID,
		"source_ip":  pc.Environment.SourceIP,
		// timestamp is the only clock a script may consult — no script
		// sandbox here exposes a host wall-clock call.
		"timestamp": pc.Environment.Timestamp.Unix(),
	}
	return user, client, request, resource, env
}
