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

// Package smartscope parses and evaluates SMART on FHIR v2 scopes of the
// form "<context>/<resourceType>.<permissions>?<filter>", along with the
// handful of non-resource scopes (openid, fhirUser, offline_access, launch,
// launch/patient, launch/encounter) that accompany them.
package smartscope

import (
	"fmt"
	"sort"
	"strings"
)

// Context is the compartment a SMART scope is evaluated against.
type Context string

const (
	ContextPatient Context = "patient"
	ContextUser    Context = "user"
	ContextSystem  Context = "system"
)

// cruds is the canonical permission-letter ordering. A scope's Permissions
// are always normalized (deduplicated, sorted) into this order so two
// scopes granting the same rights compare and print identically.
const cruds = "cruds"

var permissionRank = map[byte]int{'c': 0, 'r': 1, 'u': 2, 'd': 3, 's': 4}

// SmartScope is a single parsed resource-level SMART v2 scope.
//
// Purpose: Resource-access grant parsed from an OAuth scope string.
// Domain: Authz
// Invariants: Permissions is a sorted, deduplicated subset of "cruds";
// ResourceType "*" means every resource type.
type SmartScope struct {
	Context      Context
	ResourceType string
	Permissions  string // ordered subset of "cruds"
	Filter       string // raw FHIR search-parameter filter, e.g. "category=LAB"
}

// NonResourceScope enumerates the fixed vocabulary of non-resource scopes
// SMART apps request alongside resource scopes.
type NonResourceScope string

const (
	ScopeOpenID         NonResourceScope = "openid"
	ScopeFHIRUser       NonResourceScope = "fhirUser"
	ScopeOfflineAccess  NonResourceScope = "offline_access"
	ScopeLaunch         NonResourceScope = "launch"
	ScopeLaunchPatient  NonResourceScope = "launch/patient"
	ScopeLaunchEncounter NonResourceScope = "launch/encounter"
)

var nonResourceScopes = map[string]NonResourceScope{
	string(ScopeOpenID):          ScopeOpenID,
	string(ScopeFHIRUser):        ScopeFHIRUser,
	string(ScopeOfflineAccess):   ScopeOfflineAccess,
	string(ScopeLaunch):          ScopeLaunch,
	string(ScopeLaunchPatient):   ScopeLaunchPatient,
	string(ScopeLaunchEncounter): ScopeLaunchEncounter,
}

// IsNonResourceScope reports whether raw is one of the fixed non-resource
// scope strings.
func IsNonResourceScope(raw string) bool {
	_, ok := nonResourceScopes[raw]
	return ok
}

// Parse parses a single resource-level scope string. It returns an error
// for non-resource scopes (check IsNonResourceScope first) and for any
// scope that doesn't match "<context>/<resourceType>.<permissions>" with
// an optional "?<filter>" suffix.
func Parse(raw string) (SmartScope, error) {
	filter := ""
	body := raw
	if idx := strings.Index(raw, "?"); idx >= 0 {
		body = raw[:idx]
		filter = raw[idx+1:]
	}

	slashIdx := strings.Index(body, "/")
	if slashIdx < 0 {
		return SmartScope{}, fmt.Errorf("smartscope: not a resource scope: %q", raw)
	}
	ctx := Context(body[:slashIdx])
	switch ctx {
	case ContextPatient, ContextUser, ContextSystem:
	default:
		return SmartScope{}, fmt.Errorf("smartscope: invalid context %q: must be patient, user, or system", ctx)
	}

	remainder := body[slashIdx+1:]
	dotIdx := strings.LastIndex(remainder, ".")
	if dotIdx < 0 {
		return SmartScope{}, fmt.Errorf("smartscope: missing permissions in %q", raw)
	}
	resourceType := remainder[:dotIdx]
	permissions := remainder[dotIdx+1:]
	if resourceType == "" {
		return SmartScope{}, fmt.Errorf("smartscope: empty resource type in %q", raw)
	}

	normalized, err := normalizePermissions(permissions)
	if err != nil {
		return SmartScope{}, fmt.Errorf("smartscope: %q: %w", raw, err)
	}

	return SmartScope{
		Context:      ctx,
		ResourceType: resourceType,
		Permissions:  normalized,
		Filter:       filter,
	}, nil
}

// ParseAll parses a raw space-delimited scope string (as it appears in an
// OAuth "scope" parameter or claim), silently skipping any token that
// isn't a well-formed resource scope. Non-resource scopes are returned
// separately so callers can act on openid/launch/offline_access without
// re-parsing.
func ParseAll(scopeParam string) (resources []SmartScope, nonResource []NonResourceScope) {
	for _, tok := range strings.Fields(scopeParam) {
		if IsNonResourceScope(tok) {
			nonResource = append(nonResource, nonResourceScopes[tok])
			continue
		}
		s, err := Parse(tok)
		if err != nil {
			continue
		}
		resources = append(resources, s)
	}
	return resources, nonResource
}

func normalizePermissions(permissions string) (string, error) {
	if permissions == "" {
		return "", fmt.Errorf("empty permissions")
	}
	if permissions == "*" {
		return cruds, nil
	}
	seen := make(map[byte]bool, len(permissions))
	for i := 0; i < len(permissions); i++ {
		c := permissions[i]
		if _, ok := permissionRank[c]; !ok {
			return "", fmt.Errorf("invalid permission letter %q", string(c))
		}
		seen[c] = true
	}
	out := make([]byte, 0, len(seen))
	for _, c := range []byte(cruds) {
		if seen[c] {
			out = append(out, c)
		}
	}
	return string(out), nil
}

// String renders the scope back to its canonical form. Parsing String()'s
// output always reproduces an equal SmartScope (idempotent round-trip).
func (s SmartScope) String() string {
	out := fmt.Sprintf("%s/%s.%s", s.Context, s.ResourceType, s.Permissions)
	if s.Filter != "" {
		out += "?" + s.Filter
	}
	return out
}

// HasPermission reports whether the scope grants permission p ('c','r',
// 'u','d', or 's').
func (s SmartScope) HasPermission(p byte) bool {
	return strings.IndexByte(s.Permissions, p) >= 0
}

// CoversResourceType reports whether the scope applies to resourceType,
// honoring the "*" wildcard.
func (s SmartScope) CoversResourceType(resourceType string) bool {
	return s.ResourceType == "*" || s.ResourceType == resourceType
}

// Allows reports whether this scope grants permission p against
// resourceType in the given context.
func (s SmartScope) Allows(context Context, resourceType string, p byte) bool {
	return s.Context == context && s.CoversResourceType(resourceType) && s.HasPermission(p)
}

// Intersect returns the narrower of two scopes over the same context and
// resource type: the permission letters present in both, and (if both
// specify a filter) both filters joined with "&". If the scopes don't
// share a context or resource type, Intersect returns the zero value and
// false.
func Intersect(a, b SmartScope) (SmartScope, bool) {
	if a.Context != b.Context {
		return SmartScope{}, false
	}
	if a.ResourceType != b.ResourceType && a.ResourceType != "*" && b.ResourceType != "*" {
		return SmartScope{}, false
	}
	resourceType := a.ResourceType
	if resourceType == "*" {
		resourceType = b.ResourceType
	}

	var perms []byte
	for i := 0; i < len(cruds); i++ {
		c := cruds[i]
		if a.HasPermission(c) && b.HasPermission(c) {
			perms = append(perms, c)
		}
	}
	if len(perms) == 0 {
		return SmartScope{}, false
	}

	filter := a.Filter
	switch {
	case a.Filter == "":
		filter = b.Filter
	case b.Filter == "" || b.Filter == a.Filter:
		filter = a.Filter
	default:
		filter = a.Filter + "&" + b.Filter
	}

	return SmartScope{
		Context:      a.Context,
		ResourceType: resourceType,
		Permissions:  string(perms),
		Filter:       filter,
	}, true
}

// Implies reports whether scope s grants everything that other grants:
// same context, a resource type that covers other's, and a permission
// set that's a superset of other's. A filter on s additionally
// constrains what it implies: s only implies other if other carries the
// same filter (or no filter at all is required to imply an unfiltered
// grant request).
func (s SmartScope) Implies(other SmartScope) bool {
	if s.Context != other.Context {
		return false
	}
	if s.ResourceType != "*" && s.ResourceType != other.ResourceType {
		return false
	}
	for i := 0; i < len(other.Permissions); i++ {
		if !s.HasPermission(other.Permissions[i]) {
			return false
		}
	}
	if s.Filter != "" && s.Filter != other.Filter {
		return false
	}
	return true
}

// ScopesAllow reports whether any scope in the set grants permission p
// against resourceType, regardless of context. Used by the policy engine's
// scope gate, which only needs to know a permission was granted somewhere,
// not which compartment granted it.
func ScopesAllow(scopes []SmartScope, resourceType string, p byte) bool {
	for _, s := range scopes {
		if s.CoversResourceType(resourceType) && s.HasPermission(p) {
			return true
		}
	}
	return false
}

// OperationPermission maps a FHIR interaction name to the SMART v2
// permission letter it requires. patch and vread/history ride on the
// update and read letters respectively, since SMART v2 has no dedicated
// letter for them.
func OperationPermission(operation string) (byte, bool) {
	switch operation {
	case "create":
		return 'c', true
	case "read", "vread", "history":
		return 'r', true
	case "update", "patch":
		return 'u', true
	case "delete":
		return 'd', true
	case "search":
		return 's', true
	default:
		return 0, false
	}
}

// IntersectScopeStrings computes the actual grant from two raw
// space-delimited scope strings — typically what a user consented to and
// what the client originally requested — narrowing every resource scope
// in granted down to what allowed also covers and keeping only the
// non-resource scopes present in both. A resource scope with no
// counterpart in allowed, or one whose intersection is empty, is
// dropped entirely rather than carried through unnarrowed.
func IntersectScopeStrings(granted, allowed string) string {
	grantedResources, grantedNon := ParseAll(granted)
	allowedResources, allowedNon := ParseAll(allowed)

	allowedNonSet := make(map[NonResourceScope]bool, len(allowedNon))
	for _, s := range allowedNon {
		allowedNonSet[s] = true
	}

	var out []SmartScope
	for _, g := range grantedResources {
		for _, a := range allowedResources {
			if narrowed, ok := Intersect(g, a); ok {
				out = appendScopeIfNotImplied(out, narrowed)
			}
		}
	}
	SortScopes(out)

	parts := make([]string, 0, len(out)+len(grantedNon))
	for _, s := range out {
		parts = append(parts, s.String())
	}
	for _, n := range grantedNon {
		if allowedNonSet[n] {
			parts = append(parts, string(n))
		}
	}
	return strings.Join(parts, " ")
}

// appendScopeIfNotImplied adds s to scopes unless some scope already in
// the slice Implies it, keeping the accumulated grant free of
// redundant entries (e.g. a "patient/*.cruds" wildcard already covers a
// later "patient/Patient.r").
func appendScopeIfNotImplied(scopes []SmartScope, s SmartScope) []SmartScope {
	for _, existing := range scopes {
		if existing.Implies(s) {
			return scopes
		}
	}
	return append(scopes, s)
}

// SortScopes orders scopes deterministically (context, then resource
// type, then permissions) so a rendered scope list is stable across
// calls regardless of grant order.
func SortScopes(scopes []SmartScope) {
	sort.Slice(scopes, func(i, j int) bool {
		a, b := scopes[i], scopes[j]
		if a.Context != b.Context {
			return a.Context < b.Context
		}
		if a.ResourceType != b.ResourceType {
			return a.ResourceType < b.ResourceType
		}
		return a.Permissions < b.Permissions
	})
}
