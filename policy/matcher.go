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
	"fmt"
	"net"
	"regexp"
)

// CompiledPolicy pre-compiles the CIDR and regex clauses of an AccessPolicy
// once, at cache-build time, so request-path evaluation never parses a
// network or a pattern.
type CompiledPolicy struct {
	Policy AccessPolicy

	ipNetworks    []*net.IPNet
	scopePatterns []*regexp.Regexp
}

// Compile validates and precompiles p into a CompiledPolicy. It is called
// once per policy whenever the PolicyCache rebuilds its snapshot.
func Compile(p AccessPolicy) (*CompiledPolicy, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("policy %s: %w", p.ID, err)
	}

	cp := &CompiledPolicy{Policy: p}

	for _, cidr := range p.Matcher.IPNetworks.Values {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("policy %s: invalid CIDR %q: %w", p.ID, cidr, err)
		}
		cp.ipNetworks = append(cp.ipNetworks, ipnet)
	}

	for _, pattern := range p.Matcher.ScopePatterns.Values {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("policy %s: invalid scope pattern %q: %w", p.ID, pattern, err)
		}
		cp.scopePatterns = append(cp.scopePatterns, re)
	}

	return cp, nil
}

// evalClause applies a clause's Values against matchFn under its Modifier.
// A clause with no Values is unconstrained and always matches.
func evalClause(values []string, modifier Modifier, matchFn func(string) bool) bool {
	if len(values) == 0 {
		return true
	}
	switch modifier {
	case ModifierAll:
		for _, v := range values {
			if !matchFn(v) {
				return false
			}
		}
		return true
	case ModifierNone:
		for _, v := range values {
			if matchFn(v) {
				return false
			}
		}
		return true
	default: // ModifierAny, and the empty-string zero value
		for _, v := range values {
			if matchFn(v) {
				return true
			}
		}
		return false
	}
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// Matches reports whether every clause of the compiled policy's matcher is
// satisfied by pc. Clauses are ANDed; an inactive policy never matches.
func (cp *CompiledPolicy) Matches(pc PolicyContext) bool {
	if !cp.Policy.Active {
		return false
	}
	m := cp.Policy.Matcher

	if !evalClause(m.ClientIDs.Values, m.ClientIDs.Modifier, func(v string) bool {
		return v == pc.Client.ID
	}) {
		return false
	}

	if !evalClause(m.ClientTypes.Values, m.ClientTypes.Modifier, func(v string) bool {
		return v == pc.Client.Type
	}) {
		return false
	}

	if !evalClause(m.Roles.Values, m.Roles.Modifier, func(v string) bool {
		return contains(pc.User.Roles, v)
	}) {
		return false
	}

	if !evalClause(m.ResourceTypes.Values, m.ResourceTypes.Modifier, func(v string) bool {
		return v == "*" || v == pc.Request.ResourceType
	}) {
		return false
	}

	if !evalClause(m.Operations.Values, m.Operations.Modifier, func(v string) bool {
		return v == pc.Request.Operation
	}) {
		return false
	}

	if !evalClause(m.Compartments.Values, m.Compartments.Modifier, func(v string) bool {
		return v == pc.Request.Compartment
	}) {
		return false
	}

	if !cp.matchesIPNetworks(pc) {
		return false
	}

	if !cp.matchesScopePatterns(pc) {
		return false
	}

	return true
}

func (cp *CompiledPolicy) matchesIPNetworks(pc PolicyContext) bool {
	if len(cp.ipNetworks) == 0 {
		return true
	}
	ip := net.ParseIP(pc.Environment.SourceIP)

	modifier := cp.Policy.Matcher.IPNetworks.Modifier
	containsIP := func(i int) bool {
		if ip == nil {
			return false
		}
		return cp.ipNetworks[i].Contains(ip)
	}

	switch modifier {
	case ModifierAll:
		for i := range cp.ipNetworks {
			if !containsIP(i) {
				return false
			}
		}
		return true
	case ModifierNone:
		for i := range cp.ipNetworks {
			if containsIP(i) {
				return false
			}
		}
		return true
	default:
		for i := range cp.ipNetworks {
			if containsIP(i) {
				return true
			}
		}
		return false
	}
}

func (cp *CompiledPolicy) matchesScopePatterns(pc PolicyContext) bool {
	if len(cp.scopePatterns) == 0 {
		return true
	}
	scopeStrings := make([]string, len(pc.Scopes))
	for i, s := range pc.Scopes {
		scopeStrings[i] = s.String()
	}

	anyScopeMatches := func(i int) bool {
		for _, s := range scopeStrings {
			if cp.scopePatterns[i].MatchString(s) {
				return true
			}
		}
		return false
	}

	modifier := cp.Policy.Matcher.ScopePatterns.Modifier
	switch modifier {
	case ModifierAll:
		for i := range cp.scopePatterns {
			if !anyScopeMatches(i) {
				return false
			}
		}
		return true
	case ModifierNone:
		for i := range cp.scopePatterns {
			if anyScopeMatches(i) {
				return false
			}
		}
		return true
	default:
		for i := range cp.scopePatterns {
			if anyScopeMatches(i) {
				return true
			}
		}
		return false
	}
}
