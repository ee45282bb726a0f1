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

package desim

import (
	"context"

	sync "github.com/sasha-s/go-deadlock"

	"github.com/kelvinstack/desim/history"
	"github.com/kelvinstack/desim/objectstate"
	"github.com/kelvinstack/desim/pkg/watermark"
	"github.com/kelvinstack/desim/txn"
	"github.com/kelvinstack/desim/vtime"
)

// stateValue adapts objectstate.State's nil-is-absent idiom to
// history.Value's Present-flag idiom: nil always becomes the absent
// sentinel, never a "present nil". This is the one place the two
// conventions meet; nowhere else in the history package constructs a
// Value by inspecting V's zero-ness.
func stateValue(v objectstate.State) history.Value[objectstate.State] {
	if v == nil {
		return history.Absent[objectstate.State]()
	}
	return history.Of(v)
}

// stateOf is stateValue's inverse.
func stateOf(v history.Value[objectstate.State]) objectstate.State {
	if !v.Present {
		return nil
	}
	return v.V
}

func stateEqual(a, b objectstate.State) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

// objectEntry is one object's committed history and latest-commit
// watermark, both protected by its own lock per the two-tier discipline
// of spec.md §5. Readers of the object are tracked by the Universe, not
// here.
type objectEntry struct {
	mu sync.RWMutex

	id           objectstate.ID
	committed    *history.ValueHistory[objectstate.State]
	latestCommit *watermark.Mark[vtime.Time]
}

func newObjectEntry(id objectstate.ID) *objectEntry {
	return &objectEntry{
		id:           id,
		committed:    history.New[objectstate.State](history.Absent[objectstate.State](), stateEqual),
		latestCommit: watermark.New(vtime.Start),
	}
}

// committedAt returns the committed value at when and the object's
// current latest-commit watermark.
func (e *objectEntry) committedAt(when vtime.Time) (objectstate.State, vtime.Time) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return stateOf(e.committed.Get(when)), e.latestCommit.DoneUntil()
}

// destroyed reports whether the object has ever had a committed
// present value and is now, at when, committed absent - distinct from
// an object that has simply never been written.
func (e *objectEntry) destroyed(when vtime.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.committed.IsEmpty() {
		return false
	}
	return stateOf(e.committed.Get(when)) == nil
}

// lastCommittedTransition returns the time of the object's last
// committed transition, and whether one exists.
func (e *objectEntry) lastCommittedTransition() (vtime.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.committed.LastTransitionTime()
}

// checkWrite classifies a prospective write of value at when against
// the object's current committed history, per spec.md §4.4. Callers
// must already hold e.mu (read or write).
func (e *objectEntry) checkWrite(when vtime.Time, value objectstate.State) error {
	last, ok := e.committed.LastTransitionTime()
	if !ok {
		return nil
	}
	switch when.Compare(last) {
	case 1:
		return nil
	case 0:
		if stateEqual(stateOf(e.committed.Get(when)), value) {
			return txn.ErrDuplicateWrite
		}
		return txn.ErrOutOfOrderWrite
	default:
		return txn.ErrOutOfOrderWrite
	}
}

// validateWrite is checkWrite's standalone, self-locking form: a fast,
// best-effort admission check run at begin_commit time, before a
// transaction's coordinator dependencies are even known. It is not the
// authoritative gate - applyCommit re-runs the same check under the
// same lock it applies with, since a second writer can always race
// past this check before the first one actually applies.
func (e *objectEntry) validateWrite(when vtime.Time, value objectstate.State) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checkWrite(when, value)
}

// applyCommit is the authoritative counterpart to validateWrite: it
// re-classifies the write and installs it in the same critical
// section, so two commits racing to write the same object at the same
// new time cannot both pass validation before either applies - the
// second to reach this lock sees the first's already-installed value
// and is rejected with ErrDuplicateWrite/ErrOutOfOrderWrite instead of
// silently overwriting it.
func (e *objectEntry) applyCommit(when vtime.Time, value objectstate.State) (created bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkWrite(when, value); err != nil {
		return false, err
	}

	created = e.committed.IsEmpty() && !e.committed.FirstValue().Present && value != nil
	e.committed.SetValueFrom(when, stateValue(value))
	e.latestCommit.Begin(when)
	e.latestCommit.Done(when)
	// The Mark publishes from its own goroutine; wait so the new
	// watermark is visible once applyCommit returns.
	_ = e.latestCommit.WaitForMark(context.Background(), when)
	return created, nil
}

// truncateBefore drops committed transitions at or before t, folding
// the value they leave at t into the history's first value.
func (e *objectEntry) truncateBefore(t vtime.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.committed.TruncateBefore(t)
}

// ObjectStateRegistry owns one objectEntry per known ObjectID, created
// lazily on first touch.
type ObjectStateRegistry struct {
	mu      sync.RWMutex
	entries map[objectstate.ID]*objectEntry
}

func newObjectStateRegistry() *ObjectStateRegistry {
	return &ObjectStateRegistry{
		entries: make(map[objectstate.ID]*objectEntry),
	}
}

// entry returns object's entry, creating it if this is the first touch.
func (r *ObjectStateRegistry) entry(object objectstate.ID) *objectEntry {
	r.mu.RLock()
	e, ok := r.entries[object]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[object]; ok {
		return e
	}
	e = newObjectEntry(object)
	r.entries[object] = e
	return e
}

// peek returns object's entry without creating one.
func (r *ObjectStateRegistry) peek(object objectstate.ID) (*objectEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[object]
	return e, ok
}

// objects returns a snapshot of every known object ID, used by
// SetHistoryStart to sweep every entry.
func (r *ObjectStateRegistry) objects() []objectstate.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]objectstate.ID, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}

// Close stops every entry's background watermark goroutine. One is
// spawned per distinct object ID ever touched (newObjectEntry), and
// nothing else ever tears them down - mirrors the teacher's oracle.go
// stopping its two singleton Marks on shutdown. Call once, after the
// registry's Universe is done being used.
func (r *ObjectStateRegistry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		e.latestCommit.Stop()
	}
}
