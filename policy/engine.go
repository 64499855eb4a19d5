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
	"log/slog"

	"github.com/opentrusty/fhir-authz-core/smartscope"
)

// ScriptRunner executes a Rhai- or QuickJS-engine policy script against a
// PolicyContext. Implemented by scriptengine.Pool; declared here so this
// package depends on an interface, not a concrete sandboxing library.
type ScriptRunner interface {
	Run(ctx context.Context, kind EngineKind, script string, pc PolicyContext) (AccessDecision, error)
}

// EngineConfig tunes the evaluation algorithm.
type EngineConfig struct {
	// EvaluateScopesFirst rejects a request whose granted scopes don't
	// cover the requested resource type/operation before any policy is
	// consulted. Defaults to true; FHIR deployments almost always want
	// the scope gate evaluated first since it's far cheaper than running
	// policies.
	EvaluateScopesFirst bool

	// DefaultDecision is returned when every matching policy abstains (or
	// none match at all). Must be DecisionAllow or DecisionDeny.
	DefaultDecision DecisionKind

	// ScriptErrorPolicy controls what happens when a script engine itself
	// fails (timeout, panic, non-boolean return). Must be DecisionAbstain
	// or DecisionDeny. DecisionAbstain lets later, lower-priority
	// policies still decide; DecisionDeny fails closed immediately.
	ScriptErrorPolicy DecisionKind
}

// DefaultEngineConfig returns the conservative default: scope gate
// enabled, fail-closed default decision, and fail-closed script errors.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		EvaluateScopesFirst: true,
		DefaultDecision:     DecisionDeny,
		ScriptErrorPolicy:   DecisionDeny,
	}
}

// Engine evaluates a PolicyContext against the active policy set held by
// a Cache, dispatching Rhai/QuickJS policies to a ScriptRunner.
//
// Purpose: Central authorization decision point for every FHIR request.
// Domain: Authz
type Engine struct {
	cache   Cache
	scripts ScriptRunner
	config  EngineConfig
	logger  *slog.Logger
}

// NewEngine constructs an Engine. If logger is nil, slog.Default() is
// used. A DefaultDecision of DecisionAllow is logged as a warning at
// construction time: it is a deliberate fail-open choice and every
// deployment that makes it should know it did.
func NewEngine(cache Cache, scripts ScriptRunner, config EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if config.DefaultDecision == DecisionAllow {
		logger.Warn("policy engine configured to fail open", "default_decision", config.DefaultDecision)
	}
	return &Engine{cache: cache, scripts: scripts, config: config, logger: logger}
}

// Evaluate runs the full decision algorithm for a single request: the
// scope gate (if enabled), then each candidate policy for the request's
// resource type in priority order, stopping at the first non-abstaining
// decision, falling back to config.DefaultDecision if every policy
// abstains.
func (e *Engine) Evaluate(ctx context.Context, pc PolicyContext) (AccessDecision, error) {
	if e.config.EvaluateScopesFirst {
		if decision, blocked := e.evaluateScopeGate(pc); blocked {
			return decision, nil
		}
	}

	snapshot := e.cache.Snapshot()
	candidates := snapshot.Candidates(pc.Request.ResourceType)

	for _, cp := range candidates {
		if err := ctx.Err(); err != nil {
			return Deny(DenyReasonCancelled, cp.Policy.ID), nil
		}
		if !cp.Matches(pc) {
			continue
		}

		decision, err := e.dispatch(ctx, cp, pc)
		if err != nil {
			e.logger.Error("policy evaluation failed", "policy_id", cp.Policy.ID, "error", err)
			if e.config.ScriptErrorPolicy == DecisionDeny {
				return Deny(DenyReasonScriptError, cp.Policy.ID), nil
			}
			continue
		}

		if decision.Kind == DecisionAbstain {
			continue
		}
		return decision, nil
	}

	if e.config.DefaultDecision == DecisionAllow {
		return Allow(), nil
	}
	return Deny(DenyReasonPolicy, ""), nil
}

// evaluateScopeGate reports (decision, true) if the request's granted
// scopes don't cover its resource type and operation, short-circuiting
// policy evaluation entirely.
func (e *Engine) evaluateScopeGate(pc PolicyContext) (AccessDecision, bool) {
	perm, ok := smartscope.OperationPermission(pc.Request.Operation)
	if !ok {
		return Deny(DenyReasonScope, ""), true
	}
	if !smartscope.ScopesAllow(pc.Scopes, pc.Request.ResourceType, perm) {
		return Deny(DenyReasonScope, ""), true
	}
	return AccessDecision{}, false
}

func (e *Engine) dispatch(ctx context.Context, cp *CompiledPolicy, pc PolicyContext) (AccessDecision, error) {
	switch cp.Policy.Engine {
	case EngineAllow:
		return AllowFromPolicy(cp.Policy.ID), nil
	case EngineDeny:
		return Deny(DenyReasonPolicy, cp.Policy.ID), nil
	case EngineRhai, EngineQuickJS:
		decision, err := e.scripts.Run(ctx, cp.Policy.Engine, cp.Policy.Script, pc)
		if err != nil {
			return AccessDecision{}, err
		}
		if decision.Kind == DecisionDeny && decision.PolicyID == "" {
			decision.PolicyID = cp.Policy.ID
		}
		return decision, nil
	default:
		return Abstain(), nil
	}
}
