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

// Package policy implements the access-policy decision engine: cached
// AccessPolicy resources with pattern matchers and optional sandboxed
// scripts, evaluated per request into an AccessDecision.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/opentrusty/fhir-authz-core/smartscope"
)

// Domain errors
var (
	ErrPolicyNotFound   = errors.New("policy not found")
	ErrInvalidPolicy    = errors.New("invalid policy")
	ErrScriptRequired   = errors.New("script engines require a script")
	ErrScriptNotAllowed = errors.New("allow/deny engines must not carry a script")
	ErrUnknownEngine    = errors.New("unknown policy engine")
	ErrUnknownModifier  = errors.New("unknown matcher modifier")
)

// EngineKind identifies how a policy's decision is produced.
type EngineKind string

const (
	EngineAllow   EngineKind = "Allow"
	EngineDeny    EngineKind = "Deny"
	EngineRhai    EngineKind = "Rhai"
	EngineQuickJS EngineKind = "QuickJS"
)

// Modifier controls how a MatchClause's values combine against the
// context attribute(s) they are compared with.
type Modifier string

const (
	// ModifierAny matches if at least one value matches (OR).
	ModifierAny Modifier = "any"
	// ModifierAll matches only if every value matches.
	ModifierAll Modifier = "all"
	// ModifierNone matches only if no value matches.
	ModifierNone Modifier = "none"
)

// MatchClause is one attribute predicate within a PolicyMatchers set.
// An empty/zero-value clause (no Values) is treated as "don't care" and
// always matches.
type MatchClause struct {
	Values   []string `json:"values,omitempty"`
	Modifier Modifier `json:"modifier,omitempty"`
}

// PolicyMatchers groups every supported clause. All clauses are AND'd
// together; within a clause, values combine per its Modifier.
type PolicyMatchers struct {
	ClientIDs     MatchClause `json:"client_ids,omitempty"`
	ClientTypes   MatchClause `json:"client_types,omitempty"`
	Roles         MatchClause `json:"roles,omitempty"`
	ResourceTypes MatchClause `json:"resource_types,omitempty"`
	Operations    MatchClause `json:"operations,omitempty"`
	Compartments  MatchClause `json:"compartments,omitempty"`
	IPNetworks    MatchClause `json:"ip_networks,omitempty"`
	ScopePatterns MatchClause `json:"scope_patterns,omitempty"`
}

// AccessPolicy is a FHIR-shaped configuration resource describing a
// matcher plus the decision engine that contributes to authorization.
//
// Purpose: Hot-reloadable authorization rule.
// Domain: Authz
// Invariants: script engines (Rhai/QuickJS) must carry Script; Allow/Deny
// engines must not.
type AccessPolicy struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Priority  int            `json:"priority"` // higher wins on tie-break order
	Engine    EngineKind     `json:"engine"`
	Script    string         `json:"script,omitempty"`
	Matcher   PolicyMatchers `json:"matcher"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Validate checks the script/engine invariant described in the AccessPolicy
// doc comment, plus the matcher's modifier vocabulary.
func (p *AccessPolicy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPolicy)
	}
	switch p.Engine {
	case EngineAllow, EngineDeny:
		if p.Script != "" {
			return ErrScriptNotAllowed
		}
	case EngineRhai, EngineQuickJS:
		if p.Script == "" {
			return ErrScriptRequired
		}
	default:
		return ErrUnknownEngine
	}
	return p.Matcher.validate()
}

// validate rejects a modifier outside the any/all/none vocabulary (the
// empty string is the zero value and means ModifierAny).
func (m *PolicyMatchers) validate() error {
	for _, c := range []MatchClause{
		m.ClientIDs, m.ClientTypes, m.Roles, m.ResourceTypes,
		m.Operations, m.Compartments, m.IPNetworks, m.ScopePatterns,
	} {
		switch c.Modifier {
		case "", ModifierAny, ModifierAll, ModifierNone:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownModifier, c.Modifier)
		}
	}
	return nil
}

// ClientContext is the client half of a PolicyContext.
type ClientContext struct {
	ID   string `json:"id"`
	Type string `json:"type"` // confidential | public
}

// UserContext is the user half of a PolicyContext.
type UserContext struct {
	ID       string   `json:"id"`
	Roles    []string `json:"roles"`
	FHIRUser string   `json:"fhir_user,omitempty"`
}

// RequestContext carries the attributes of the in-flight request.
type RequestContext struct {
	Method       string `json:"method"`
	Path         string `json:"path"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`
	Operation    string `json:"operation"` // read|write|create|update|delete|search|patch|history|vread
	Compartment  string `json:"compartment,omitempty"`
	Query        string `json:"query,omitempty"`
	BodyHash     string `json:"body_hash,omitempty"`
}

// EnvironmentContext carries request-independent ambient attributes.
type EnvironmentContext struct {
	RequestID string    `json:"request_id"`
	SourceIP  string    `json:"source_ip"`
	Timestamp time.Time `json:"timestamp"`
}

// PolicyContext is assembled once per request and passed unmodified
// through scope gating, matcher evaluation, and script evaluation.
type PolicyContext struct {
	Client      ClientContext          `json:"client"`
	User        UserContext            `json:"user"`
	Scopes      []smartscope.SmartScope `json:"scopes"`
	Request     RequestContext         `json:"request"`
	Resource    map[string]any         `json:"resource,omitempty"`
	Environment EnvironmentContext     `json:"environment"`
}

// DecisionKind is the tag of an AccessDecision.
type DecisionKind string

const (
	DecisionAllow   DecisionKind = "allow"
	DecisionDeny    DecisionKind = "deny"
	DecisionAbstain DecisionKind = "abstain"
)

// DenyReason classifies why a Deny decision was produced.
type DenyReason string

const (
	DenyReasonScope        DenyReason = "scope"
	DenyReasonPolicy       DenyReason = "policy"
	DenyReasonTimeout      DenyReason = "timeout"
	DenyReasonScriptError  DenyReason = "script_error"
	DenyReasonInvalidResult DenyReason = "invalid_result"
	DenyReasonCancelled    DenyReason = "cancelled"
)

// AccessDecision is the tagged-variant result of policy evaluation:
// Allow, Deny{reason, policy_id}, or Abstain.
type AccessDecision struct {
	Kind     DecisionKind `json:"kind"`
	Reason   DenyReason   `json:"reason,omitempty"`
	PolicyID string       `json:"policy_id,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// Allow constructs an Allow decision.
func Allow() AccessDecision { return AccessDecision{Kind: DecisionAllow} }

// AllowFromPolicy constructs an Allow decision attributed to the policy
// that produced it.
func AllowFromPolicy(policyID string) AccessDecision {
	return AccessDecision{Kind: DecisionAllow, PolicyID: policyID}
}

// Deny constructs a Deny decision attributed to a policy.
func Deny(reason DenyReason, policyID string) AccessDecision {
	return AccessDecision{Kind: DecisionDeny, Reason: reason, PolicyID: policyID}
}

// DenyWithMessage constructs a Deny decision carrying a free-text message
// (used for script-produced deny(reason) calls).
func DenyWithMessage(reason DenyReason, policyID, message string) AccessDecision {
	return AccessDecision{Kind: DecisionDeny, Reason: reason, PolicyID: policyID, Message: message}
}

// Abstain constructs an Abstain decision.
func Abstain() AccessDecision { return AccessDecision{Kind: DecisionAbstain} }

// IsAllow reports whether the decision grants access.
func (d AccessDecision) IsAllow() bool { return d.Kind == DecisionAllow }
