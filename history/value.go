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

// Package history implements ValueHistory and SetHistory, the step
// function abstractions that back every object's committed state. The
// transition sequence is stored in a generic skip list adapted from the
// teacher's pkg/skiplist; the teacher's Entry.Tombstone boolean idiom
// becomes Value[V].Present here. Value equality is supplied by the
// caller as an ordinary func(V, V) bool rather than required through
// Go's comparable constraint, since SetHistory's element type (a
// finite set) has no meaningful == but does have value equality.
package history

import (
	"errors"
	"fmt"

	"github.com/kelvinstack/desim/pkg/skiplist"
	"github.com/kelvinstack/desim/vtime"
)

// ErrIllegalAppend is returned by AppendTransition when t is not
// strictly after every existing transition time, or v equals the
// current last value.
var ErrIllegalAppend = errors.New("history: illegal append")

const (
	_maxLevel = 16
	_p        = 0.5
)

// Value is a value in V, or the absent sentinel.
type Value[V any] struct {
	Present bool
	V       V
}

// Absent is the absent value for type V.
func Absent[V any]() Value[V] {
	var zero V
	return Value[V]{V: zero}
}

// Of wraps v as a present value.
func Of[V any](v V) Value[V] {
	return Value[V]{Present: true, V: v}
}

// Equal reports whether a and b carry the same presence and,
// if present, equal values under eq.
func (a Value[V]) Equal(b Value[V], eq func(V, V) bool) bool {
	if a.Present != b.Present {
		return false
	}
	if !a.Present {
		return true
	}
	return eq(a.V, b.V)
}

// Transition is one (time, value) step.
type Transition[V any] struct {
	When  vtime.Time
	Value Value[V]
}

// ValueHistory is a step function from vtime.Time to Value[V], defined
// by a first value (the value at vtime.Start) and an ordered sequence
// of transitions strictly increasing in time with no two adjacent
// transitions carrying an equal value.
type ValueHistory[V any] struct {
	eq          func(V, V) bool
	first       Value[V]
	transitions *skiplist.SkipList[vtime.Time, Value[V]]
}

// New creates an empty history whose value is first at every time,
// using eq to compare values of V.
func New[V any](first Value[V], eq func(V, V) bool) *ValueHistory[V] {
	return &ValueHistory[V]{
		eq:          eq,
		first:       first,
		transitions: skiplist.New[vtime.Time, Value[V]](_maxLevel, _p),
	}
}

// NewComparable creates an empty history over a comparable V, using ==
// for value equality. Convenient for primitives and simple value types.
func NewComparable[V comparable](first Value[V]) *ValueHistory[V] {
	return New[V](first, func(a, b V) bool { return a == b })
}

func (h *ValueHistory[V]) valueEqual(a, b Value[V]) bool { return a.Equal(b, h.eq) }

// Get returns the value at t: the last transition whose time is ≤ t,
// or the first value if none. A floor query against the skip list's
// level structure, O(log n) in the number of transitions.
func (h *ValueHistory[V]) Get(t vtime.Time) Value[V] {
	if e, ok := h.transitions.Floor(t); ok {
		return e.Value
	}
	return h.first
}

// FirstValue returns the value at vtime.Start.
func (h *ValueHistory[V]) FirstValue() Value[V] { return h.first }

// LastValue returns the value at vtime.End.
func (h *ValueHistory[V]) LastValue() Value[V] { return h.Get(vtime.End) }

// IsEmpty reports whether the history has no transitions.
func (h *ValueHistory[V]) IsEmpty() bool { return h.transitions.Len() == 0 }

// LastTransitionTime returns the time of the last transition and true,
// or the zero Time and false if the history is empty.
func (h *ValueHistory[V]) LastTransitionTime() (vtime.Time, bool) {
	e, ok := h.transitions.Last()
	if !ok {
		return vtime.Time{}, false
	}
	return e.Key, true
}

// FirstTransitionTime returns the time of the first transition and
// true, or the zero Time and false if the history is empty.
func (h *ValueHistory[V]) FirstTransitionTime() (vtime.Time, bool) {
	e, ok := h.transitions.First()
	if !ok {
		return vtime.Time{}, false
	}
	return e.Key, true
}

// AppendTransition appends (t, v) to the end of the history. t must be
// strictly after every existing transition time, and v must differ
// from the current last value; otherwise it fails with
// ErrIllegalAppend and the history is unchanged.
func (h *ValueHistory[V]) AppendTransition(t vtime.Time, v Value[V]) error {
	if t.IsStart() {
		return fmt.Errorf("%w: transition at history start is forbidden", ErrIllegalAppend)
	}
	if last, ok := h.LastTransitionTime(); ok && t.Compare(last) <= 0 {
		return fmt.Errorf("%w: time %s not strictly after last transition %s", ErrIllegalAppend, t, last)
	}
	if h.valueEqual(v, h.LastValue()) {
		return fmt.Errorf("%w: value equals current last value", ErrIllegalAppend)
	}
	h.transitions.Set(t, v)
	return nil
}

// SetValueFrom replaces the history from t onward so that Get(t') == v
// for all t' ≥ t, discarding any existing transitions at or after t.
// If the value immediately before t already equals v, no transition is
// added at t (transitions at or after t are still discarded).
func (h *ValueHistory[V]) SetValueFrom(t vtime.Time, v Value[V]) {
	before := h.valueBefore(t)
	h.RemoveTransitionsFrom(t)
	if h.valueEqual(before, v) {
		return
	}
	if t.IsStart() {
		h.first = v
		return
	}
	h.transitions.Set(t, v)
}

// RemoveTransitionsFrom drops every transition at or after t; the
// first value is preserved.
func (h *ValueHistory[V]) RemoveTransitionsFrom(t vtime.Time) {
	for _, e := range h.transitions.All() {
		if e.Key.Compare(t) >= 0 {
			h.transitions.Delete(e.Key)
		}
	}
}

// valueBefore returns the value strictly before t (i.e. Get of the
// largest transition time < t, or the first value). Also a floor
// query, O(log n).
func (h *ValueHistory[V]) valueBefore(t vtime.Time) Value[V] {
	if e, ok := h.transitions.FloorBefore(t); ok {
		return e.Value
	}
	return h.first
}

// TruncateBefore discards every transition at or before t, folding the
// value the history carried at t into the new first value, so that
// Get(t') for any t' ≥ t is unchanged. Queries at times before t are no
// longer meaningful after truncation; callers enforce that separately
// (the Universe's history-start watermark).
func (h *ValueHistory[V]) TruncateBefore(t vtime.Time) {
	newFirst := h.Get(t)
	for _, e := range h.transitions.All() {
		if e.Key.Compare(t) <= 0 {
			h.transitions.Delete(e.Key)
		}
	}
	h.first = newFirst
}

// StreamOfTransitions returns every transition in strictly increasing
// time order.
func (h *ValueHistory[V]) StreamOfTransitions() []Transition[V] {
	all := h.transitions.All()
	out := make([]Transition[V], len(all))
	for i, e := range all {
		out[i] = Transition[V]{When: e.Key, Value: e.Value}
	}
	return out
}

// Equal reports whether h and o have the same first value and the
// same sequence of transitions.
func (h *ValueHistory[V]) Equal(o *ValueHistory[V]) bool {
	if !h.valueEqual(h.first, o.first) {
		return false
	}
	a, b := h.StreamOfTransitions(), o.StreamOfTransitions()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].When.Compare(b[i].When) != 0 || !h.valueEqual(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of h.
func (h *ValueHistory[V]) Clone() *ValueHistory[V] {
	clone := New[V](h.first, h.eq)
	for _, t := range h.StreamOfTransitions() {
		clone.transitions.Set(t.When, t.Value)
	}
	return clone
}
