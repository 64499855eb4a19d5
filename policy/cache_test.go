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

import "testing"

func TestSnapshotCandidatesMergeAcrossBucketsByPriority(t *testing.T) {
	snap := mustSnapshot(t,
		AccessPolicy{ID: "specific-low", Priority: 1, Engine: EngineAllow, Active: true,
			Matcher: PolicyMatchers{ResourceTypes: MatchClause{Values: []string{"Patient"}}}},
		AccessPolicy{ID: "wildcard-high", Priority: 100, Engine: EngineDeny, Active: true,
			Matcher: PolicyMatchers{}},
		AccessPolicy{ID: "specific-mid", Priority: 50, Engine: EngineAllow, Active: true,
			Matcher: PolicyMatchers{ResourceTypes: MatchClause{Values: []string{"Patient"}}}},
		AccessPolicy{ID: "wildcard-low", Priority: 2, Engine: EngineDeny, Active: true,
			Matcher: PolicyMatchers{}},
	)

	candidates := snap.Candidates("Patient")
	if len(candidates) != 4 {
		t.Fatalf("expected 4 candidates, got %d", len(candidates))
	}

	want := []string{"wildcard-high", "specific-mid", "wildcard-low", "specific-low"}
	for i, id := range want {
		if candidates[i].Policy.ID != id {
			t.Fatalf("position %d: expected %q, got %q (full order: %v)", i, id, candidates[i].Policy.ID, candidateIDs(candidates))
		}
	}
}

func TestSnapshotCandidatesTieBreaksByAscendingID(t *testing.T) {
	snap := mustSnapshot(t,
		AccessPolicy{ID: "z-specific", Priority: 10, Engine: EngineAllow, Active: true,
			Matcher: PolicyMatchers{ResourceTypes: MatchClause{Values: []string{"Patient"}}}},
		AccessPolicy{ID: "a-wildcard", Priority: 10, Engine: EngineDeny, Active: true,
			Matcher: PolicyMatchers{}},
	)

	candidates := snap.Candidates("Patient")
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].Policy.ID != "a-wildcard" {
		t.Fatalf("expected equal-priority tie to break by ascending ID, got order %v", candidateIDs(candidates))
	}
}

func candidateIDs(candidates []*CompiledPolicy) []string {
	ids := make([]string, len(candidates))
	for i, cp := range candidates {
		ids[i] = cp.Policy.ID
	}
	return ids
}
