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

// Package coordinator implements TransactionCoordinator: the grouping
// of transactions that have become mutually dependent through
// past-the-end reads of each other's future writes, so that they share
// one commit-or-abort fate. Coordinators reference each other as
// predecessors/successors; per the re-architecture design note against
// raw owning cycles, those references are arena-indexed integer
// Handles, never pointers, so a cycle of mutual dependency is just a
// cycle of integers, trivially collapsed by Manager.AddDependency.
package coordinator

// Handle is an arena index identifying one coordinator. Handles start
// at zero, and the handle of a freed coordinator is reused by a later
// allocation.
type Handle int

// MemberID identifies one transaction known to a Manager. The concrete
// type is left to the caller (desim/txn use an incrementing uint64);
// the coordinator package treats it as an opaque comparable key.
type MemberID uint64

type entry struct {
	members      map[MemberID]struct{}
	predecessors map[Handle]struct{}
	successors   map[Handle]struct{}
	committed    bool
	aborted      bool
}

func newEntry() *entry {
	return &entry{
		members:      make(map[MemberID]struct{}),
		predecessors: make(map[Handle]struct{}),
		successors:   make(map[Handle]struct{}),
	}
}

func (e *entry) open() bool { return !e.committed && !e.aborted }
