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

// Package event implements in-process pub/sub fan-out for the domain
// events this core raises, plus a hook dispatcher for delivering them to
// out-of-process subscribers with bounded timeout and panic isolation.
//
// The broadcaster is purely in-process: a multi-node deployment that
// needs a cache-invalidation signal across processes (e.g. triggering
// policycache.ReloadService.Trigger on every node after a policy edit on
// one of them) composes this with an external transport such as
// Postgres LISTEN/NOTIFY — not built here, named as an external
// collaborator.
package event

import "time"

// Kind discriminates the three broad event categories this core raises.
type Kind string

const (
	KindResource Kind = "resource"
	KindAuth     Kind = "auth"
	KindSystem   Kind = "system"
)

// ResourceEvent fires whenever a domain resource this core owns changes
// (an AccessPolicy edit, a Client registration, a Consent directive).
type ResourceEvent struct {
	ResourceType string
	ResourceID   string
	Action       string // created | updated | deleted
	ActorID      string
	Timestamp    time.Time
}

// AuthEvent fires on authentication/authorization lifecycle moments a
// subscriber might want to react to beyond what the audit log records
// (e.g. a metrics exporter, or a SIEM forwarder).
type AuthEvent struct {
	Type      string // login_success | login_failed | token_issued | token_revoked | ...
	ActorID   string
	ClientID  string
	Timestamp time.Time
}

// SystemEvent fires on infrastructure-level occurrences — most notably
// "policy store changed". policycache.ReloadService does not subscribe
// to it; a reload is requested by calling ReloadService.Trigger.
type SystemEvent struct {
	Type      string // policy_changed | key_rotated | ...
	Detail    string
	Timestamp time.Time
}

// Event is the envelope every subscriber receives; exactly one of the
// three payload fields is set, matching Kind.
type Event struct {
	Kind     Kind
	Resource *ResourceEvent
	Auth     *AuthEvent
	System   *SystemEvent
}
