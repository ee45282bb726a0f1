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

// Package objectstate declares the external contract simulated objects
// must satisfy. The core never depends on any concrete domain physics;
// it only ever calls the two operations declared here, matching the
// "no class hierarchy, only a capability set" design note.
package objectstate

import (
	"github.com/kelvinstack/desim/vtime"
)

// ID is an object identifier. Any comparable value works; the Universe
// uses it as a map key and for deterministic lock-acquisition ordering.
type ID string

// StateID identifies one state in the simulation: the object it
// belongs to and the virtual time it is defined at. Totally ordered by
// time first, then by ID.
type StateID struct {
	Object ID
	When   vtime.Time
}

// Compare orders a before b by When, then by Object.
func (a StateID) Compare(b StateID) int {
	if c := a.When.Compare(b.When); c != 0 {
		return c
	}
	switch {
	case a.Object < b.Object:
		return -1
	case a.Object > b.Object:
		return 1
	default:
		return 0
	}
}

// Transaction is the minimal read/write surface ComputeNext may use.
// It is satisfied by *txn.Transaction; declared here, instead of
// importing package txn directly, to keep this package free of a
// dependency on the transactional machinery it is itself a parameter
// to. A State argument or result of nil means "absent".
type Transaction interface {
	Read(object ID, when vtime.Time) (State, error)
	BeginWrite(t vtime.Time) error
	Put(object ID, value State) error
}

// State is an opaque value associated with an object at an instant.
// Implementations must know how to compare themselves for no-op
// suppression (Equal) and how to advance themselves one step
// (ComputeNext). A nil State denotes "absent" wherever one appears.
type State interface {
	// Equal reports whether two states are indistinguishable for the
	// purpose of no-op transition suppression.
	Equal(State) bool

	// ComputeNext reads this state's dependencies through tx (all at
	// times ≤ when, and for objects other than object, strictly <
	// when), calls tx.BeginWrite exactly once with a time after when,
	// and stages the next state(s) via tx.Put — at least for object,
	// optionally for other objects it spawns.
	ComputeNext(tx Transaction, object ID, when vtime.Time) error
}
