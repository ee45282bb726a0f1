// Copyright 2024 BINARY Members
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

// Package bufferpool recycles scratch slices for the commit path. The
// teacher used a sync.Pool of *bytes.Buffer to avoid allocating on every
// write-ahead-log append; the same pool shape here recycles the slices
// Universe.abortMember and Universe.resolvePastEnd build up while
// holding txMu (cascaded reader IDs to abort, past-the-end reads to
// settle) and then range over after releasing it, so that lock-held
// section doesn't allocate on every cascade or every commit.
package bufferpool

import (
	"sync"
)

// Pool recycles slices of T.
type Pool[T any] struct {
	pool sync.Pool
}

// New creates a Pool of slices of T.
func New[T any]() *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				s := make([]T, 0, 8)
				return &s
			},
		},
	}
}

// Get returns an empty, zero-length slice, possibly reused.
func (p *Pool[T]) Get() []T {
	s := p.pool.Get().(*[]T)
	return (*s)[:0]
}

// Put returns s to the pool for reuse. Callers must not use s again.
func (p *Pool[T]) Put(s []T) {
	s = s[:0]
	p.pool.Put(&s)
}
