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

// Package id provides the primitive identifier generator shared by every
// domain package in this module.
package id

import "github.com/google/uuid"

// NewUUIDv7 returns a new time-ordered UUIDv7 string, suitable as a
// primary key for any append-mostly table (clients, sessions, policies).
//
// uuid.NewV7 only fails if crypto/rand is exhausted, which callers in
// request-handling paths have no meaningful recovery from, so
// identifier generation is treated as infallible.
func NewUUIDv7() string {
	v7, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return v7.String()
}
