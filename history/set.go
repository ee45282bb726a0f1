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

package history

import (
	"sort"

	"github.com/kelvinstack/desim/pkg/kway"
	"github.com/kelvinstack/desim/pkg/skiplist"
	"github.com/kelvinstack/desim/vtime"
)

// Set is an immutable-in-spirit finite set of comparable elements.
type Set[V comparable] map[V]struct{}

// NewSet builds a Set containing members.
func NewSet[V comparable](members ...V) Set[V] {
	s := make(Set[V], len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

// Contains reports whether x is a member of s.
func (s Set[V]) Contains(x V) bool {
	_, ok := s[x]
	return ok
}

// With returns a new Set equal to s plus x.
func (s Set[V]) With(x V) Set[V] {
	out := make(Set[V], len(s)+1)
	for m := range s {
		out[m] = struct{}{}
	}
	out[x] = struct{}{}
	return out
}

// Without returns a new Set equal to s minus x.
func (s Set[V]) Without(x V) Set[V] {
	out := make(Set[V], len(s))
	for m := range s {
		if m != x {
			out[m] = struct{}{}
		}
	}
	return out
}

// Equal reports whether s and o contain exactly the same members.
func (s Set[V]) Equal(o Set[V]) bool {
	if len(s) != len(o) {
		return false
	}
	for m := range s {
		if !o.Contains(m) {
			return false
		}
	}
	return true
}

// SetHistory is a ValueHistory whose values are finite sets.
type SetHistory[V comparable] struct {
	*ValueHistory[Set[V]]
}

// NewSetHistory creates an empty SetHistory with the given first value.
func NewSetHistory[V comparable](first Value[Set[V]]) *SetHistory[V] {
	eq := func(a, b Set[V]) bool { return a.Equal(b) }
	return &SetHistory[V]{ValueHistory: New[Set[V]](first, eq)}
}

// Contains derives the containment history of x: a ValueHistory[bool]
// whose transition times are a subset of the parent's, where at each
// parent transition t, Contains(x).Get(t) == parent.Get(t) contains x.
func (sh *SetHistory[V]) Contains(x V) *ValueHistory[bool] {
	firstPresent := sh.FirstValue().Present && sh.FirstValue().V.Contains(x)
	out := NewComparable[bool](Of(firstPresent))

	prev := firstPresent
	for _, tr := range sh.StreamOfTransitions() {
		curr := tr.Value.Present && tr.Value.V.Contains(x)
		if curr == prev {
			continue
		}
		_ = out.AppendTransition(tr.When, Of(curr))
		prev = curr
	}
	return out
}

// AddFrom makes x a member of every set from time t onward.
func (sh *SetHistory[V]) AddFrom(t vtime.Time, x V) {
	sh.rewrite([]vtime.Time{t}, func(when vtime.Time, s Set[V]) Set[V] {
		if when.Compare(t) < 0 {
			return s
		}
		return s.With(x)
	})
}

// AddUntil makes x a member of every set at every time ≤ t, and
// absent strictly after t.
func (sh *SetHistory[V]) AddUntil(t vtime.Time, x V) {
	sh.rewrite([]vtime.Time{t, nextInstant(t)}, func(when vtime.Time, s Set[V]) Set[V] {
		if when.Compare(t) <= 0 {
			return s.With(x)
		}
		return s.Without(x)
	})
}

// nextInstant returns the first representable time strictly after t,
// or t itself if t is already vtime.End.
func nextInstant(t vtime.Time) vtime.Time {
	if t.IsEnd() {
		return t
	}
	return vtime.New(t.Nanos() + 1)
}

// Remove removes x from every set at every time.
func (sh *SetHistory[V]) Remove(x V) {
	sh.rewrite(nil, func(_ vtime.Time, s Set[V]) Set[V] { return s.Without(x) })
}

// rewrite recomputes the value at every existing breakpoint (the
// first value at vtime.Start, plus every existing transition time)
// union'd with extra, applying f to each breakpoint's *original*
// value, then rebuilds the history from those results in time order.
// The union is computed with kway.Merge: the existing breakpoints are
// already ascending (vtime.Start followed by StreamOfTransitions'
// order), extra is sorted to match, and the two streams are merged
// into one deduplicated, ascending sequence of breakpoints - the same
// shape the teacher used to fold a memtable with its predecessors.
// SetValueFrom's own no-op and duplicate-suppression logic keeps the
// rebuilt history free of adjacent equal transitions.
func (sh *SetHistory[V]) rewrite(extra []vtime.Time, f func(when vtime.Time, s Set[V]) Set[V]) {
	asSet := func(v Value[Set[V]]) Set[V] {
		if !v.Present {
			return NewSet[V]()
		}
		return v.V
	}

	existing := make([]skiplist.Entry[vtime.Time, struct{}], 0, 1+len(sh.StreamOfTransitions()))
	existing = append(existing, skiplist.Entry[vtime.Time, struct{}]{Key: vtime.Start})
	for _, tr := range sh.StreamOfTransitions() {
		existing = append(existing, skiplist.Entry[vtime.Time, struct{}]{Key: tr.When})
	}

	extraSorted := append([]vtime.Time(nil), extra...)
	sort.Slice(extraSorted, func(i, j int) bool { return extraSorted[i].Before(extraSorted[j]) })
	extraEntries := make([]skiplist.Entry[vtime.Time, struct{}], len(extraSorted))
	for i, e := range extraSorted {
		extraEntries[i] = skiplist.Entry[vtime.Time, struct{}]{Key: e}
	}

	breakpoints := kway.Merge[vtime.Time, struct{}](nil, existing, extraEntries)

	type resolved struct {
		when vtime.Time
		val  Set[V]
	}
	results := make([]resolved, len(breakpoints))
	for i, b := range breakpoints {
		results[i] = resolved{when: b.Key, val: f(b.Key, asSet(sh.Get(b.Key)))}
	}

	for _, r := range results {
		sh.SetValueFrom(r.when, Of(r.val))
	}
}
