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

import "sort"

// Snapshot is an immutable, pre-indexed view of every active policy,
// bucketed by the resource types its matcher names. It is rebuilt whole
// on every reload and swapped in atomically by a Cache implementation;
// nothing ever mutates a Snapshot in place.
type Snapshot struct {
	byResourceType map[string][]*CompiledPolicy
	wildcard       []*CompiledPolicy
	all            []*CompiledPolicy
}

// NewSnapshot compiles and indexes policies into a Snapshot. A policy
// whose matcher.ResourceTypes clause is empty or names "*" lands in the
// wildcard bucket and is considered for every resource type, as does one
// whose clause uses the "none" modifier (it applies to every type it does
// not name); otherwise it is indexed under each resource type it names.
func NewSnapshot(policies []AccessPolicy) (*Snapshot, error) {
	s := &Snapshot{byResourceType: make(map[string][]*CompiledPolicy)}

	for _, p := range policies {
		cp, err := Compile(p)
		if err != nil {
			return nil, err
		}
		s.all = append(s.all, cp)

		values := p.Matcher.ResourceTypes.Values
		if len(values) == 0 || p.Matcher.ResourceTypes.Modifier == ModifierNone {
			s.wildcard = append(s.wildcard, cp)
			continue
		}
		isWildcard := false
		for _, rt := range values {
			if rt == "*" {
				isWildcard = true
				continue
			}
			s.byResourceType[rt] = append(s.byResourceType[rt], cp)
		}
		if isWildcard {
			s.wildcard = append(s.wildcard, cp)
		}
	}

	sortByPriority(s.wildcard)
	for rt := range s.byResourceType {
		sortByPriority(s.byResourceType[rt])
	}

	return s, nil
}

// sortByPriority orders candidates highest priority first, breaking ties
// by ascending policy ID so evaluation order is deterministic across
// reloads that don't change the policy set.
func sortByPriority(policies []*CompiledPolicy) {
	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Policy.Priority != policies[j].Policy.Priority {
			return policies[i].Policy.Priority > policies[j].Policy.Priority
		}
		return policies[i].Policy.ID < policies[j].Policy.ID
	})
}

// Candidates returns every compiled policy that could apply to
// resourceType, in a single priority-descending evaluation order (ties
// broken by ascending policy ID) spanning both resource-specific and
// wildcard policies — priority is the sole conflict-resolution key, so a
// high-priority wildcard Deny must still run ahead of a low-priority
// resource-specific Allow.
func (s *Snapshot) Candidates(resourceType string) []*CompiledPolicy {
	if s == nil {
		return nil
	}
	specific := s.byResourceType[resourceType]
	if len(s.wildcard) == 0 {
		return specific
	}
	if len(specific) == 0 {
		return s.wildcard
	}

	out := make([]*CompiledPolicy, 0, len(specific)+len(s.wildcard))
	i, j := 0, 0
	for i < len(specific) && j < len(s.wildcard) {
		if higherPriority(specific[i], s.wildcard[j]) {
			out = append(out, specific[i])
			i++
		} else {
			out = append(out, s.wildcard[j])
			j++
		}
	}
	out = append(out, specific[i:]...)
	out = append(out, s.wildcard[j:]...)
	return out
}

// higherPriority reports whether a must be evaluated before b: strictly
// higher Priority wins, ties broken by ascending policy ID, matching
// sortByPriority's order exactly so the merge is stable.
func higherPriority(a, b *CompiledPolicy) bool {
	if a.Policy.Priority != b.Policy.Priority {
		return a.Policy.Priority > b.Policy.Priority
	}
	return a.Policy.ID < b.Policy.ID
}

// Len returns the total number of policies indexed in the snapshot,
// counting a policy once even if it was bucketed under several resource
// types.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.all)
}

// Cache is satisfied by policycache.Cache. It is declared here, rather
// than imported from there, so this package never depends on its own
// cache implementation.
type Cache interface {
	Snapshot() *Snapshot
}
