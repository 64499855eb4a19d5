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

package smartscope

import "testing"

func TestParseCanonicalRoundTrip(t *testing.T) {
	cases := []string{
		"patient/Observation.rs",
		"patient/Observation.srcud", // scrambled input, canonical output sorted
		"user/*.r",
		"system/Patient.cruds",
		"patient/Observation.r?category=LAB",
	}
	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			s, err := Parse(raw)
			if err != nil {
				t.Fatalf("Parse(%q): %v", raw, err)
			}
			canon := s.String()
			s2, err := Parse(canon)
			if err != nil {
				t.Fatalf("Parse(canonical %q): %v", canon, err)
			}
			if s2.String() != canon {
				t.Fatalf("parse∘String not idempotent: %q != %q", s2.String(), canon)
			}
			if s2 != s {
				t.Fatalf("round-trip mismatch: %+v != %+v", s2, s)
			}
		})
	}
}

func TestParsePermissionsAreSortedAndDeduplicated(t *testing.T) {
	s, err := Parse("patient/Observation.sdcru")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Permissions != "cruds" {
		t.Fatalf("expected normalized cruds ordering, got %q", s.Permissions)
	}

	s2, err := Parse("patient/Observation.rr")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s2.Permissions != "r" {
		t.Fatalf("expected deduplicated 'r', got %q", s2.Permissions)
	}
}

func TestParseRejectsMalformedScopes(t *testing.T) {
	bad := []string{
		"Observation.r",        // no context
		"patient/Observation",  // no permissions
		"patient/.r",           // empty resource type
		"patient/Observation.x", // invalid permission letter
		"bogus/Observation.r",  // invalid context
	}
	for _, raw := range bad {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q): expected error, got none", raw)
		}
	}
}

func TestIntersectNarrowsToSharedPermissions(t *testing.T) {
	requested, _ := Parse("patient/Observation.cruds")
	allowed, _ := Parse("patient/Observation.rs")

	got, ok := Intersect(requested, allowed)
	if !ok {
		t.Fatal("expected Intersect to succeed")
	}
	if got.Permissions != "rs" {
		t.Fatalf("expected 'rs', got %q", got.Permissions)
	}
}

func TestIntersectHonorsWildcardResourceType(t *testing.T) {
	requested, _ := Parse("patient/Observation.r")
	allowed, _ := Parse("patient/*.rs")

	got, ok := Intersect(requested, allowed)
	if !ok {
		t.Fatal("expected Intersect to succeed across wildcard")
	}
	if got.ResourceType != "Observation" {
		t.Fatalf("expected concrete resource type to win, got %q", got.ResourceType)
	}
	if got.Permissions != "r" {
		t.Fatalf("expected 'r', got %q", got.Permissions)
	}
}

func TestIntersectFailsOnDisjointContextOrResourceType(t *testing.T) {
	a, _ := Parse("patient/Observation.r")
	b, _ := Parse("user/Observation.r")
	if _, ok := Intersect(a, b); ok {
		t.Fatal("expected Intersect to fail across different contexts")
	}

	c, _ := Parse("patient/Patient.r")
	if _, ok := Intersect(a, c); ok {
		t.Fatal("expected Intersect to fail across different resource types")
	}

	d, _ := Parse("patient/Observation.c")
	if _, ok := Intersect(a, d); ok {
		t.Fatal("expected Intersect to fail when permission sets don't overlap")
	}
}

func TestImpliesWildcardAndSuperset(t *testing.T) {
	granted, _ := Parse("patient/*.cruds")
	requested, _ := Parse("patient/Observation.rs")
	if !granted.Implies(requested) {
		t.Fatal("expected wildcard cruds grant to imply a narrower request")
	}

	narrow, _ := Parse("patient/Observation.r")
	if narrow.Implies(requested) {
		t.Fatal("expected narrower grant to not imply a broader request")
	}
}

func TestIntersectScopeStringsNarrowsToWhatBothGrant(t *testing.T) {
	got := IntersectScopeStrings(
		"patient/Observation.rsu launch openid offline_access",
		"patient/Observation.rs patient/Patient.r openid",
	)
	want := "patient/Observation.rs openid"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestIntersectScopeStringsDropsResourceScopeWithNoCounterpart(t *testing.T) {
	got := IntersectScopeStrings("patient/Patient.r", "patient/Observation.rs")
	if got != "" {
		t.Fatalf("expected empty narrowed scope, got %q", got)
	}
}

func TestIntersectScopeStringsWildcardCollapsesRedundantEntries(t *testing.T) {
	got := IntersectScopeStrings(
		"patient/*.cruds patient/Observation.r",
		"patient/*.cruds",
	)
	want := "patient/*.cruds"
	if got != want {
		t.Fatalf("expected the wildcard grant alone (narrower entry implied away), got %q", got)
	}
}

func TestScopesAllowChecksAnyScopeInSet(t *testing.T) {
	scopes, nonResource := ParseAll("patient/Observation.rs launch openid")
	if len(nonResource) != 2 {
		t.Fatalf("expected 2 non-resource scopes, got %d", len(nonResource))
	}
	if !ScopesAllow(scopes, "Observation", 'r') {
		t.Fatal("expected ScopesAllow to find read permission on Observation")
	}
	if ScopesAllow(scopes, "Patient", 'r') {
		t.Fatal("expected ScopesAllow to reject a resource type not covered by any scope")
	}
}

func TestParseAllSkipsMalformedTokensSilently(t *testing.T) {
	scopes, nonResource := ParseAll("patient/Observation.r not-a-scope launch")
	if len(scopes) != 1 {
		t.Fatalf("expected exactly 1 resource scope, got %d", len(scopes))
	}
	if len(nonResource) != 1 {
		t.Fatalf("expected exactly 1 non-resource scope, got %d", len(nonResource))
	}
}

func TestOperationPermissionMapsFHIRInteractions(t *testing.T) {
	cases := map[string]byte{
		"create":  'c',
		"read":    'r',
		"vread":   'r',
		"history": 'r',
		"update":  'u',
		"patch":   'u',
		"delete":  'd',
		"search":  's',
	}
	for op, want := range cases {
		got, ok := OperationPermission(op)
		if !ok || got != want {
			t.Errorf("OperationPermission(%q) = (%q, %v), want (%q, true)", op, got, ok, want)
		}
	}
	if _, ok := OperationPermission("bogus"); ok {
		t.Error("expected OperationPermission to reject an unknown interaction")
	}
}
