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

// Package txn implements Transaction: one unit of work against a
// Universe, carrying its own reads, staged writes, and openness state
// machine. A Transaction never imports package desim; instead it talks
// to its owning Universe through the narrow Store interface declared
// here, which *desim.Universe satisfies structurally. That keeps the
// dependency one-directional (desim -> txn) even though, conceptually,
// every Transaction needs to call back into the Universe that created
// it.
package txn

import (
	"errors"
	"fmt"
	"sync/atomic"

	sync "github.com/sasha-s/go-deadlock"

	"github.com/kelvinstack/desim/coordinator"
	"github.com/kelvinstack/desim/objectstate"
	"github.com/kelvinstack/desim/pkg/fingerprint"
	"github.com/kelvinstack/desim/pkg/logger"
	"github.com/kelvinstack/desim/vtime"
)

// Sentinel errors, matching spec.md §7's error taxonomy.
// ErrCascadedAbort is never returned to a caller; it is only recorded
// as an internal abort reason surfaced through Listener.OnAbort.
var (
	ErrPrehistory      = errors.New("txn: read before history start")
	ErrInvalidState    = errors.New("txn: operation not permitted in current state")
	ErrOutOfOrderWrite = errors.New("txn: write time not strictly after committed history")
	ErrDuplicateWrite  = errors.New("txn: duplicate write of an already-staged value")
	ErrResurrection    = errors.New("txn: write of a non-absent value for a destroyed object")
	ErrCascadedAbort   = errors.New("txn: aborted because a dependency aborted")
	ErrClosed          = errors.New("txn: closed before reaching a terminal state")
)

// MemberID identifies a Transaction to the coordinator graph and to the
// Universe's live-transaction bookkeeping.
type MemberID = coordinator.MemberID

var nextID atomic.Uint64

func newMemberID() MemberID {
	return MemberID(nextID.Add(1))
}

// Openness is the transaction lifecycle state: READING -> WRITING ->
// COMMITTING -> {COMMITTED, ABORTED}, with ABORTING as an abort-bound
// intermediate reachable from any non-terminal state.
type Openness uint32

const (
	Reading Openness = iota
	Writing
	Committing
	Aborting
	Committed
	Aborted
)

func (o Openness) String() string {
	switch o {
	case Reading:
		return "READING"
	case Writing:
		return "WRITING"
	case Committing:
		return "COMMITTING"
	case Aborting:
		return "ABORTING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

func (o Openness) terminal() bool { return o == Committed || o == Aborted }

// Store is the capability set a Transaction needs from its Universe:
// committed and provisional reads, dependency/coordinator registration,
// and the commit/abort protocol entry points. *desim.Universe implements
// this interface; see the package doc for why it is declared here
// rather than imported from desim.
type Store interface {
	// HistoryStart returns the Universe's current history-start watermark.
	HistoryStart() vtime.Time

	// Committed returns object's committed value at when (nil for
	// absent, including "no history at all yet") and the object's
	// current latest-commit watermark.
	Committed(object objectstate.ID, when vtime.Time) (value objectstate.State, latestCommit vtime.Time)

	// Destroyed reports whether object was ever created and then
	// committed absent at or before when - distinct from an object that
	// has simply never been written yet, which is not a resurrection
	// candidate.
	Destroyed(object objectstate.ID, when vtime.Time) bool

	// Provisional returns the most recently staged, not-yet-committed
	// value for object from any live transaction, and that
	// transaction's MemberID.
	Provisional(object objectstate.ID) (value objectstate.State, writer MemberID, ok bool)

	// RecordReadDependency registers "reader depends on writer" because
	// reader observed one of writer's provisional values.
	RecordReadDependency(reader, writer MemberID)

	// RecordPastEndRead registers a past-the-end read of object at when
	// by reader, pending later resolution per spec.md §4.4.
	RecordPastEndRead(reader MemberID, object objectstate.ID, when vtime.Time)

	// BeginCommit runs the commit & invalidation protocol of spec.md
	// §4.4 for t. It returns promptly; t may still be COMMITTING (not
	// yet terminal) when it returns, in which case t.Finish is called
	// later, once every dependency has resolved.
	BeginCommit(t *Transaction)

	// BeginAbort cascades an abort of t (and of every transaction that
	// read one of t's provisional writes) for reason.
	BeginAbort(t *Transaction, reason error)

	// Deregister drops t from all live bookkeeping. Called once t has
	// reached a terminal state and its listener has fired.
	Deregister(t MemberID)

	// ReadFingerprintHint sizes the initial capacity of a fresh
	// transaction's read-fingerprint slice.
	ReadFingerprintHint() int
}

// readKey is a read's cache key for read-your-own-view consistency.
type readKey = objectstate.StateID

// Transaction is one unit of work: it reads states, stages writes, and
// commits or aborts atomically, per spec.md §4.3.
type Transaction struct {
	id    MemberID
	store Store
	log   logger.Logger

	listener Listener

	openness atomic.Uint32

	mu           sync.Mutex
	reads        map[readKey]objectstate.State
	readsFp      []uint64
	pastEnd      map[objectstate.ID]vtime.Time
	writes       map[objectstate.ID]objectstate.State
	writesFp     map[uint64]struct{}
	writeTime    vtime.Time
	hasWriteTime bool
	created      map[objectstate.ID]struct{}
	abortReason  error

	coordHandle coordinator.Handle
	hasCoord    bool
}

// New creates a fresh READING transaction against store, reporting its
// outcome to listener. listener may be nil, equivalent to NopListener.
func New(store Store, listener Listener) *Transaction {
	if listener == nil {
		listener = NopListener{}
	}
	return &Transaction{
		id:       newMemberID(),
		store:    store,
		log:      logger.GetLogger(),
		listener: listener,
		readsFp:  make([]uint64, 0, store.ReadFingerprintHint()),
	}
}

// ID returns the MemberID this transaction is known to the coordinator
// graph and Universe bookkeeping by.
func (t *Transaction) ID() MemberID { return t.id }

// State returns the current openness.
func (t *Transaction) State() Openness { return Openness(t.openness.Load()) }

func (t *Transaction) transition(from, to Openness) bool {
	return t.openness.CompareAndSwap(uint32(from), uint32(to))
}

// Read returns the observed value of object at when: a prior read of
// the same (object, when) in this transaction (read-your-own-view); a
// committed value if one exists at or before when and the object's
// latest-commit watermark covers when; otherwise the latest provisional
// value staged by any transaction, "absent" (nil) if none, and the read
// is recorded as past-the-end, pending later resolution.
func (t *Transaction) Read(object objectstate.ID, when vtime.Time) (objectstate.State, error) {
	if when.Before(t.store.HistoryStart()) {
		return nil, ErrPrehistory
	}

	key := readKey{Object: object, When: when}

	t.mu.Lock()
	v, ok := t.reads[key]
	t.mu.Unlock()
	if ok {
		return v, nil
	}

	// Store calls happen with t.mu released: the store may, in turn,
	// inspect this same transaction's staged writes (e.g. to answer its
	// own Provisional query), and t.mu is not reentrant.
	value, latestCommit := t.store.Committed(object, when)
	if latestCommit.Compare(when) >= 0 {
		t.mu.Lock()
		t.recordRead(key, object, when, value)
		t.mu.Unlock()
		return value, nil
	}

	// Past-the-end: the committed history does not yet reach `when`.
	// Prefer whatever has been provisionally staged; an absent
	// provisional value (no writer yet) reads as "absent" too.
	if pv, writer, ok := t.store.Provisional(object); ok {
		value = pv
		if writer != t.id {
			t.store.RecordReadDependency(t.id, writer)
		}
	}

	t.mu.Lock()
	if t.pastEnd == nil {
		t.pastEnd = make(map[objectstate.ID]vtime.Time)
	}
	if existing, has := t.pastEnd[object]; !has || when.After(existing) {
		t.pastEnd[object] = when
	}
	t.mu.Unlock()

	t.store.RecordPastEndRead(t.id, object, when)

	t.mu.Lock()
	t.recordRead(key, object, when, value)
	t.mu.Unlock()
	return value, nil
}

func (t *Transaction) recordRead(key readKey, object objectstate.ID, when vtime.Time, value objectstate.State) {
	if t.reads == nil {
		t.reads = make(map[readKey]objectstate.State)
	}
	t.reads[key] = value
	t.readsFp = append(t.readsFp, fingerprint.OfRead(string(object), when.Nanos()))
}

// BeginWrite moves READING -> WRITING; all subsequent Put calls share
// write time `when`.
func (t *Transaction) BeginWrite(when vtime.Time) error {
	if !t.transition(Reading, Writing) {
		return fmt.Errorf("%w: begin_write requires READING, got %s", ErrInvalidState, t.State())
	}
	t.mu.Lock()
	t.writeTime = when
	t.hasWriteTime = true
	t.mu.Unlock()
	return nil
}

// Put stages a write of object at the transaction's write time.
// Writing a non-absent value for an object already destroyed at or
// before that time is a Resurrection attempt and immediately aborts
// the transaction. Ordering and duplicate-write conflicts against
// other transactions are checked at BeginCommit, per spec.md §4.4.
func (t *Transaction) Put(object objectstate.ID, value objectstate.State) error {
	if t.State() != Writing {
		return fmt.Errorf("%w: put requires WRITING, got %s", ErrInvalidState, t.State())
	}

	t.mu.Lock()
	writeTime := t.writeTime
	t.mu.Unlock()

	if value != nil && t.store.Destroyed(object, writeTime) {
		reason := fmt.Errorf("%w: %s was destroyed at or before %s", ErrResurrection, object, writeTime)
		t.BeginAbort(reason)
		return reason
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writes == nil {
		t.writes = make(map[objectstate.ID]objectstate.State)
		t.writesFp = make(map[uint64]struct{})
	}
	t.writes[object] = value
	t.writesFp[fingerprint.OfRead(string(object), writeTime.Nanos())] = struct{}{}
	return nil
}

// WriteTime returns the transaction's declared write time, if any.
func (t *Transaction) WriteTime() (vtime.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeTime, t.hasWriteTime
}

// Writes returns a snapshot of the transaction's staged writes.
func (t *Transaction) Writes() map[objectstate.ID]objectstate.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[objectstate.ID]objectstate.State, len(t.writes))
	for k, v := range t.writes {
		out[k] = v
	}
	return out
}

// PastEndReads returns a snapshot of this transaction's unresolved
// past-the-end reads: the greatest `when` observed per object.
func (t *Transaction) PastEndReads() map[objectstate.ID]vtime.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[objectstate.ID]vtime.Time, len(t.pastEnd))
	for k, v := range t.pastEnd {
		out[k] = v
	}
	return out
}

// ResolvePastEndRead drops object from the set of unresolved
// past-the-end reads, once the Universe has determined it is no longer
// pending (either satisfied by a new commit, or the transaction is
// about to abort over it).
func (t *Transaction) ResolvePastEndRead(object objectstate.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pastEnd, object)
}

// ReadFingerprints returns the approximate read-set key used for cheap
// conflict bookkeeping, mirroring the teacher oracle's readsFp.
func (t *Transaction) ReadFingerprints() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint64, len(t.readsFp))
	copy(out, t.readsFp)
	return out
}

// WriteFingerprints returns the approximate write-set key, mirroring
// the teacher oracle's writesFp.
func (t *Transaction) WriteFingerprints() map[uint64]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uint64]struct{}, len(t.writesFp))
	for k := range t.writesFp {
		out[k] = struct{}{}
	}
	return out
}

// MarkCreated records that object's first-ever state was staged by
// this transaction, so OnCreate fires for it on commit.
func (t *Transaction) MarkCreated(object objectstate.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.created == nil {
		t.created = make(map[objectstate.ID]struct{})
	}
	t.created[object] = struct{}{}
}

// SetCoordinator records the coordinator handle this transaction has
// been assigned or merged into.
func (t *Transaction) SetCoordinator(h coordinator.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.coordHandle = h
	t.hasCoord = true
}

// Coordinator returns the transaction's current coordinator handle, if
// it has been assigned one.
func (t *Transaction) Coordinator() (coordinator.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.coordHandle, t.hasCoord
}

// BeginCommit moves WRITING -> COMMITTING and asks the Store to run the
// commit protocol. It returns promptly; the transaction may remain
// COMMITTING, pending dependencies, until Finish is called later.
// Calling BeginCommit on an already-terminal transaction is a no-op, to
// match spec.md's close()-is-always-safe posture.
func (t *Transaction) BeginCommit() error {
	if t.State().terminal() {
		return nil
	}
	if !t.transition(Writing, Committing) {
		return fmt.Errorf("%w: begin_commit requires WRITING, got %s", ErrInvalidState, t.State())
	}
	t.store.BeginCommit(t)
	return nil
}

// BeginAbort forces the transaction toward ABORTED for reason. Safe to
// call from any non-terminal state, and a no-op once terminal.
func (t *Transaction) BeginAbort(reason error) {
	for {
		cur := t.State()
		if cur.terminal() {
			return
		}
		if t.openness.CompareAndSwap(uint32(cur), uint32(Aborting)) {
			break
		}
	}
	t.mu.Lock()
	if t.abortReason == nil {
		t.abortReason = reason
	}
	t.mu.Unlock()
	t.store.BeginAbort(t, reason)
}

// Close aborts the transaction if it has not already reached a
// terminal state. Always safe to call.
func (t *Transaction) Close() error {
	if t.State().terminal() {
		return nil
	}
	t.BeginAbort(ErrClosed)
	return nil
}

// AbortReason returns the reason this transaction aborted, if it has.
func (t *Transaction) AbortReason() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.abortReason
}

// Finish is called by the Store exactly once, when this transaction's
// coordinator group has fully resolved: it moves the transaction to its
// terminal state and fires the listener. Never called while any
// engine-internal lock is held.
func (t *Transaction) Finish(committed bool, reason error) {
	to := Aborted
	if committed {
		to = Committed
	}
	for {
		cur := t.State()
		if cur.terminal() {
			return
		}
		if t.openness.CompareAndSwap(uint32(cur), uint32(to)) {
			break
		}
	}

	t.mu.Lock()
	if !committed && t.abortReason == nil {
		t.abortReason = reason
	}
	listener := t.listener
	createdObjects := make([]objectstate.ID, 0, len(t.created))
	for obj := range t.created {
		createdObjects = append(createdObjects, obj)
	}
	abortReason := t.abortReason
	t.mu.Unlock()

	t.store.Deregister(t.id)

	if committed {
		for _, obj := range createdObjects {
			listener.OnCreate(obj)
		}
		t.log.Infof("txn %d committed", t.id)
		listener.OnCommit()
		return
	}

	t.log.Warnf("txn %d aborted: %v", t.id, abortReason)
	listener.OnAbort(abortReason)
}
