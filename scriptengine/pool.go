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

	"github.com/opentrusty/fhir-authz-core/policy"
)

// Pool dispatches a policy script to the engine its AccessPolicy names.
// It satisfies policy.ScriptRunner.
type Pool struct {
	starlark *StarlarkEngine
	quickjs  *JSEngine
}

// NewPool constructs a Pool. Non-positive durations/memoryLimitBytes
// fall back to the package defaults.
func NewPool(rhaiTimeout, quickJSTimeout time.Duration, memoryLimitBytes int64) *Pool {
	return &Pool{
		starlark: NewStarlarkEngine(rhaiTimeout),
		quickjs:  NewJSEngine(quickJSTimeout, memoryLimitBytes),
	}
}

// Run implements policy.ScriptRunner.
func (p *Pool) Run(ctx context.Context, kind policy.EngineKind, script string, pc policy.PolicyContext) (policy.AccessDecision, error) {
	switch kind {
	case policy.EngineRhai:
		return p.starlark.Run(ctx, script, pc)
	case policy.EngineQuickJS:
		return p.quickjs.Run(ctx, script, pc)
	default:
		return policy.AccessDecision{}, fmt.Errorf("scriptengine: unsupported engine kind %q", kind)
	}
}
