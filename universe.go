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

// Package desim implements the Universe: the concurrent, multi-object
// transactional store described by the simulation engine's data model.
// It owns one ObjectStateRegistry (committed history per object), one
// coordinator.Manager (the commit-dependency graph), and every live
// txn.Transaction, and it is the sole implementer of txn.Store.
package desim

import (
	"fmt"
	"sort"

	sync "github.com/sasha-s/go-deadlock"

	"github.com/kelvinstack/desim/coordinator"
	"github.com/kelvinstack/desim/objectstate"
	"github.com/kelvinstack/desim/pkg/bufferpool"
	"github.com/kelvinstack/desim/pkg/logger"
	"github.com/kelvinstack/desim/txn"
	"github.com/kelvinstack/desim/vtime"
)

// settledRead is one past-the-end reader's resolved outcome, queued up
// under resolvePastEnd's txMu critical section and drained once it is
// released (see Universe.settledPool).
type settledRead struct {
	reader   txn.MemberID
	mismatch bool
}

// pastEndRecord is one reader's unresolved past-the-end observation of
// an object: the time it was read at, the value it was given, and -
// once begin_commit has matched it to a concrete writer - that writer,
// so the dependency can be folded into the coordinator graph instead of
// gating the reader's own commit in isolation.
type pastEndRecord struct {
	when      vtime.Time
	observed  objectstate.State
	hasWriter bool
	writer    txn.MemberID
}

// Universe is the transactional store of every simulated object's
// history. It satisfies txn.Store; every Transaction it hands out talks
// back to it exclusively through that interface.
type Universe struct {
	cfg Config
	log logger.Logger

	registry *ObjectStateRegistry
	coord    *coordinator.Manager

	hsMu         sync.RWMutex
	historyStart vtime.Time

	txMu      sync.Mutex
	live      map[txn.MemberID]*txn.Transaction
	readersOf map[txn.MemberID]map[txn.MemberID]struct{}
	pastEnd   map[objectstate.ID]map[txn.MemberID]pastEndRecord

	// readersPool and settledPool recycle the scratch slices abortMember
	// and resolvePastEnd accumulate while holding txMu and then drain
	// once it is released, so that lock-held section doesn't allocate on
	// every cascade or every past-the-end resolution.
	readersPool *bufferpool.Pool[txn.MemberID]
	settledPool *bufferpool.Pool[settledRead]
}

// New creates an empty Universe with history start at vtime.Start.
func New(cfg Config) *Universe {
	if err := cfg.validate(); err != nil {
		cfg = DefaultConfig
	}
	return &Universe{
		cfg:         cfg,
		log:         logger.GetLogger(),
		registry:    newObjectStateRegistry(),
		coord:       coordinator.NewManager(),
		live:        make(map[txn.MemberID]*txn.Transaction),
		readersOf:   make(map[txn.MemberID]map[txn.MemberID]struct{}),
		pastEnd:     make(map[objectstate.ID]map[txn.MemberID]pastEndRecord),
		readersPool: bufferpool.New[txn.MemberID](),
		settledPool: bufferpool.New[settledRead](),
	}
}

// Close stops every per-object watermark goroutine the registry has
// spawned. Call once the Universe is no longer in use.
func (u *Universe) Close() {
	u.registry.Close()
}

// BeginTransaction creates a fresh READING transaction against u and
// registers it as live immediately, so its provisional writes are
// visible to every other live transaction's reads per spec.md §4.3.
func (u *Universe) BeginTransaction(listener txn.Listener) *txn.Transaction {
	t := txn.New(u, listener)
	u.txMu.Lock()
	u.live[t.ID()] = t
	u.txMu.Unlock()
	return t
}

// ObjectState is a convenience read of object's committed value at when,
// outside of any transaction.
func (u *Universe) ObjectState(object objectstate.ID, when vtime.Time) objectstate.State {
	e, ok := u.registry.peek(object)
	if !ok {
		return nil
	}
	v, _ := e.committedAt(when)
	return v
}

// PutAndCommit is a convenience helper that runs a single write in its
// own transaction: read nothing, write value for object at when, and
// commit. Used for seeding a Universe and by tests.
func (u *Universe) PutAndCommit(object objectstate.ID, when vtime.Time, value objectstate.State) error {
	t := u.BeginTransaction(nil)
	if err := t.BeginWrite(when); err != nil {
		t.Close()
		return err
	}
	if err := t.Put(object, value); err != nil {
		t.Close()
		return err
	}
	if err := t.BeginCommit(); err != nil {
		t.Close()
		return err
	}
	if reason := waitTerminal(t); reason != nil {
		return reason
	}
	return nil
}

// waitTerminal blocks the calling goroutine only in the trivial sense
// that BeginCommit resolves synchronously whenever the transaction has
// no unresolved coordinator dependencies, which is always true for the
// single-transaction PutAndCommit helper; it exists so that helper
// reads back the outcome instead of assuming success.
func waitTerminal(t *txn.Transaction) error {
	if t.State().String() == "ABORTED" {
		return t.AbortReason()
	}
	return nil
}

// ReadFingerprintHint implements txn.Store.
func (u *Universe) ReadFingerprintHint() int { return u.cfg.ReadFingerprintHint }

// HistoryStart returns the current history-start watermark.
func (u *Universe) HistoryStart() vtime.Time {
	u.hsMu.RLock()
	defer u.hsMu.RUnlock()
	return u.historyStart
}

// SetHistoryStart advances the history-start watermark to t, folding
// every object's committed history at t into a new first value and
// discarding now-irrelevant prehistoric transitions (invariant 7). It
// refuses to advance past a time still outstanding in some live
// transaction's unresolved past-the-end reads: those reads may yet be
// invalidated by a commit at or before that time, and truncating the
// history they would be checked against would make that invalidation
// silently impossible to detect. t must be at least the current
// watermark; SetHistoryStart never moves backward.
func (u *Universe) SetHistoryStart(t vtime.Time) error {
	u.hsMu.Lock()
	defer u.hsMu.Unlock()

	if t.Compare(u.historyStart) < 0 {
		return fmt.Errorf("%w: %s is before current history start %s", ErrHistoryStartViolation, t, u.historyStart)
	}

	u.txMu.Lock()
	for _, recs := range u.pastEnd {
		for _, rec := range recs {
			if rec.when.Before(t) {
				u.txMu.Unlock()
				return fmt.Errorf("%w: a live transaction has an unresolved read at %s", ErrHistoryStartViolation, rec.when)
			}
		}
	}
	u.txMu.Unlock()

	for _, obj := range u.registry.objects() {
		u.registry.entry(obj).truncateBefore(t)
	}
	u.historyStart = t
	return nil
}

// Committed implements txn.Store.
func (u *Universe) Committed(object objectstate.ID, when vtime.Time) (objectstate.State, vtime.Time) {
	return u.registry.entry(object).committedAt(when)
}

// LastCommittedTransition returns the time of object's last committed
// transition and true, or the zero Time and false if object has never
// been written. Used by SimulationEngine to find the state to advance
// from.
func (u *Universe) LastCommittedTransition(object objectstate.ID) (vtime.Time, bool) {
	e, ok := u.registry.peek(object)
	if !ok {
		return vtime.Time{}, false
	}
	return e.lastCommittedTransition()
}

// Destroyed implements txn.Store.
func (u *Universe) Destroyed(object objectstate.ID, when vtime.Time) bool {
	e, ok := u.registry.peek(object)
	if !ok {
		return false
	}
	return e.destroyed(when)
}

// Provisional implements txn.Store: the staged write with the greatest
// declared write time among every live transaction that has staged one
// for object. Ties are broken by map iteration order, which is not
// deterministic; this is acceptable since a genuine tie means two
// transactions share a coordinator (mutually dependent) or one will
// shortly abort on begin_commit's duplicate-write check.
func (u *Universe) Provisional(object objectstate.ID) (objectstate.State, txn.MemberID, bool) {
	u.txMu.Lock()
	live := make([]*txn.Transaction, 0, len(u.live))
	for _, t := range u.live {
		live = append(live, t)
	}
	u.txMu.Unlock()

	var (
		found  bool
		best   objectstate.State
		bestAt vtime.Time
		writer txn.MemberID
	)
	for _, t := range live {
		val, ok := t.Writes()[object]
		if !ok {
			continue
		}
		when, hasWhen := t.WriteTime()
		if !hasWhen {
			continue
		}
		if !found || when.After(bestAt) {
			found, best, bestAt, writer = true, val, when, t.ID()
		}
	}
	return best, writer, found
}

// RecordReadDependency implements txn.Store.
func (u *Universe) RecordReadDependency(reader, writer txn.MemberID) {
	u.txMu.Lock()
	if u.readersOf[writer] == nil {
		u.readersOf[writer] = make(map[txn.MemberID]struct{})
	}
	u.readersOf[writer][reader] = struct{}{}
	u.txMu.Unlock()

	h, merged := u.coord.AddDependency(reader, writer)
	if merged {
		u.tryResolve(h)
	}
}

// RecordPastEndRead implements txn.Store. The value reader observed is
// re-derived the way Transaction.Read derives it (the provisional value
// if a live transaction has staged one, else the committed value at
// when) rather than threaded through the call, matching the Store
// interface's read surface; the
// two queries race only against a concurrent commit of the very same
// object, which SetHistoryStart's and BeginCommit's own locking already
// serialize against this read's caller-side ordering. No writer is
// known yet at read time in general (one may not exist); the writer,
// if any, is (re)established at begin_commit time, once every party's
// writes have had a chance to be staged.
func (u *Universe) RecordPastEndRead(reader txn.MemberID, object objectstate.ID, when vtime.Time) {
	observed, _, ok := u.Provisional(object)
	if !ok {
		observed, _ = u.Committed(object, when)
	}

	u.txMu.Lock()
	defer u.txMu.Unlock()
	if u.pastEnd[object] == nil {
		u.pastEnd[object] = make(map[txn.MemberID]pastEndRecord)
	}
	if existing, ok := u.pastEnd[object][reader]; !ok || when.After(existing.when) {
		u.pastEnd[object][reader] = pastEndRecord{when: when, observed: observed}
	}
}

// convertPastEndDependency re-checks reader's unresolved past-the-end
// read of object for a now-identifiable writer. If one has staged a
// provisional write, the read stops being a bare local wait and becomes
// a coordinator dependency edge (reader depends on writer); per
// spec.md §4.5 that edge is what lets two mutually past-the-end-
// dependent transactions be detected and merged into one coordinator
// instead of each waiting on the other forever.
func (u *Universe) convertPastEndDependency(reader txn.MemberID, object objectstate.ID) {
	u.txMu.Lock()
	rec, ok := u.pastEnd[object][reader]
	already := ok && rec.hasWriter
	u.txMu.Unlock()
	if !ok || already {
		return
	}

	_, writer, found := u.Provisional(object)
	if !found || writer == reader {
		return
	}

	u.txMu.Lock()
	if rec, ok := u.pastEnd[object][reader]; ok && !rec.hasWriter {
		rec.hasWriter = true
		rec.writer = writer
		u.pastEnd[object][reader] = rec
	}
	u.txMu.Unlock()

	u.RecordReadDependency(reader, writer)
}

// hasUnconvertedPastEnd reports whether t still has a past-the-end read
// with no identifiable writer: a read that cannot yet be expressed as a
// coordinator dependency edge and so must keep t out of commit on its
// own, per spec.md §4.4 point 4.
func (u *Universe) hasUnconvertedPastEnd(t *txn.Transaction) bool {
	for object := range t.PastEndReads() {
		u.txMu.Lock()
		rec, ok := u.pastEnd[object][t.ID()]
		u.txMu.Unlock()
		if ok && !rec.hasWriter {
			return true
		}
	}
	return false
}

// BeginCommit implements txn.Store: the commit & invalidation protocol
// of spec.md §4.4. Every still-open past-the-end read is converted to a
// coordinator dependency where a writer can now be identified (§4.5);
// that conversion can itself trigger a merge and an immediate nested
// commit of this same transaction, so the coordinator handle is
// re-read afterward and a transaction already terminal by then is left
// alone.
func (u *Universe) BeginCommit(t *txn.Transaction) {
	writeTime, _ := t.WriteTime()
	writes := t.Writes()

	for obj, val := range writes {
		if err := u.registry.entry(obj).validateWrite(writeTime, val); err != nil {
			u.abortMember(t.ID(), err)
			return
		}
	}

	h, ok := u.coord.HandleFor(t.ID())
	if !ok {
		h = u.coord.New(t.ID())
	}
	t.SetCoordinator(h)

	for object := range t.PastEndReads() {
		u.convertPastEndDependency(t.ID(), object)
	}

	h, ok = u.coord.HandleFor(t.ID())
	if !ok {
		return
	}
	t.SetCoordinator(h)
	u.tryResolve(h)
}

// tryResolve commits h's coordinator group if every predecessor
// coordinator has already committed: every member's staged writes are
// applied to the registry, each member transaction is finished
// COMMITTED, and every successor coordinator is, in turn, given a
// chance to resolve.
func (u *Universe) tryResolve(h coordinator.Handle) {
	if !u.coord.CanCommit(h) {
		return
	}

	members := u.coord.Members(h)
	u.txMu.Lock()
	txns := make([]*txn.Transaction, 0, len(members))
	committers := make(map[txn.MemberID]bool, len(members))
	for _, mem := range members {
		if t, ok := u.live[mem]; ok {
			txns = append(txns, t)
			committers[mem] = true
		}
	}
	u.txMu.Unlock()

	for _, t := range txns {
		if u.hasUnconvertedPastEnd(t) {
			return
		}
	}

	type pendingWrite struct {
		object objectstate.ID
		when   vtime.Time
		value  objectstate.State
		writer *txn.Transaction
	}
	var writes []pendingWrite
	for _, t := range txns {
		when, hasWhen := t.WriteTime()
		if !hasWhen {
			continue
		}
		for obj, val := range t.Writes() {
			writes = append(writes, pendingWrite{object: obj, when: when, value: val, writer: t})
		}
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].object < writes[j].object })

	// conflicted records, per writer, the first applyCommit rejection it
	// hit - applyCommit is the authoritative check, re-run under the same
	// lock it applies with, so a writer can still lose here even though
	// it already passed validateWrite's earlier, best-effort check at
	// begin_commit time (lost a race to an independent coordinator that
	// applied its own write to the same object first). Once a writer has
	// conflicted its remaining writes are skipped rather than applied,
	// so it commits none of its writes or all of them.
	conflicted := make(map[txn.MemberID]error)
	for _, w := range writes {
		writer := w.writer.ID()
		if _, bad := conflicted[writer]; bad {
			continue
		}
		e := u.registry.entry(w.object)
		created, err := e.applyCommit(w.when, w.value)
		if err != nil {
			conflicted[writer] = err
			continue
		}
		if created {
			w.writer.MarkCreated(w.object)
		}
		u.resolvePastEnd(w.object, e, w.when, w.value, committers)
	}

	u.coord.MarkCommitted(h)
	// Read before the members finish: releasing the last member frees h.
	successors := u.coord.Successors(h)

	for _, t := range txns {
		if err, bad := conflicted[t.ID()]; bad {
			t.Finish(false, err)
			continue
		}
		t.Finish(true, nil)
	}

	for _, s := range successors {
		u.tryResolve(s)
	}
}

// resolvePastEnd settles every unresolved past-the-end read of object
// against a just-applied commit at commitTime, per spec.md §4.4 point
// 3. A commit at or before a pending read's own time w is a "subsequent
// writer at time <= w": it directly determines the value at w, so the
// comparison is against the newly committed value itself. A commit
// after w instead simply closes the window - latest_commit(object) now
// covers w for good, since no future write can ever land at or before w
// again - so the comparison is against whatever the object already held
// at w, unaffected by this particular commit. Either way every pending
// reader of object is resolved by this call; a mismatch cascades an
// abort, a match (or the closing-the-window case, which is always a
// match against itself) simply clears the pending entry and gives that
// reader's own coordinator another chance to resolve.
func (u *Universe) resolvePastEnd(object objectstate.ID, e *objectEntry, commitTime vtime.Time, newValue objectstate.State, committers map[txn.MemberID]bool) {
	u.txMu.Lock()
	recs := u.pastEnd[object]
	toSettle := u.settledPool.Get()
	for reader, rec := range recs {
		if committers[reader] {
			continue
		}
		var actual objectstate.State
		if commitTime.Compare(rec.when) <= 0 {
			actual = newValue
		} else {
			actual, _ = e.committedAt(rec.when)
		}
		toSettle = append(toSettle, settledRead{reader: reader, mismatch: !stateEqual(actual, rec.observed)})
		delete(recs, reader)
	}
	var live map[txn.MemberID]*txn.Transaction
	if len(toSettle) > 0 {
		live = make(map[txn.MemberID]*txn.Transaction, len(toSettle))
		for _, s := range toSettle {
			if t, ok := u.live[s.reader]; ok {
				live[s.reader] = t
			}
		}
	}
	u.txMu.Unlock()

	for _, s := range toSettle {
		t, ok := live[s.reader]
		if ok {
			t.ResolvePastEndRead(object)
		}
		if s.mismatch {
			reason := fmt.Errorf("%w: past-the-end read of %s invalidated by a commit at %s", txn.ErrCascadedAbort, object, commitTime)
			u.abortMember(s.reader, reason)
			continue
		}
		if ok {
			if h, hok := u.coord.HandleFor(s.reader); hok {
				u.tryResolve(h)
			}
		}
	}
	u.settledPool.Put(toSettle)
}

// BeginAbort implements txn.Store.
func (u *Universe) BeginAbort(t *txn.Transaction, reason error) {
	u.abortMember(t.ID(), reason)
}

// abortMember aborts every transaction in mem's coordinator group (or
// just mem, if it has none yet), then cascades to every transaction
// that read one of the aborted members' provisional values.
func (u *Universe) abortMember(mem txn.MemberID, reason error) {
	var toCascade []txn.MemberID

	if h, ok := u.coord.HandleFor(mem); ok {
		toCascade = append(toCascade, u.abortCoordinator(h, reason)...)
	} else {
		u.finishAborted(mem, reason)
		toCascade = append(toCascade, mem)
	}

	u.txMu.Lock()
	readers := u.readersPool.Get()
	for _, m := range toCascade {
		for r := range u.readersOf[m] {
			readers = append(readers, r)
		}
		delete(u.readersOf, m)
	}
	u.txMu.Unlock()

	for _, r := range readers {
		u.abortMember(r, fmt.Errorf("%w: depended on a transaction that aborted", txn.ErrCascadedAbort))
	}
	u.readersPool.Put(readers)
}

// abortCoordinator marks h and every coordinator reachable from it
// (successors, which by construction depend on h) aborted, finishing
// every member transaction involved, and returns every member aborted
// this way.
func (u *Universe) abortCoordinator(h coordinator.Handle, reason error) []txn.MemberID {
	visited := map[coordinator.Handle]bool{}
	var all []txn.MemberID

	var walk func(coordinator.Handle)
	walk = func(h coordinator.Handle) {
		if visited[h] {
			return
		}
		visited[h] = true
		members := u.coord.MarkAborted(h)
		successors := u.coord.Successors(h)
		for _, mem := range members {
			u.finishAborted(mem, reason)
			all = append(all, mem)
		}
		for _, s := range successors {
			walk(s)
		}
	}
	walk(h)
	return all
}

func (u *Universe) finishAborted(mem txn.MemberID, reason error) {
	u.txMu.Lock()
	t, ok := u.live[mem]
	u.txMu.Unlock()
	if !ok {
		return
	}
	t.Finish(false, reason)
}

// Deregister implements txn.Store.
func (u *Universe) Deregister(mem txn.MemberID) {
	u.txMu.Lock()
	delete(u.live, mem)
	for _, recs := range u.pastEnd {
		delete(recs, mem)
	}
	u.txMu.Unlock()
	u.coord.Release(mem)
}

var _ txn.Store = (*Universe)(nil)

// DOT renders the current coordinator dependency graph, for debugging.
func (u *Universe) DOT() string { return u.coord.DOT() }

// LiveCount returns the number of currently live (non-terminal)
// transactions. Exported for engine/metrics.go's open-transactions
// gauge.
func (u *Universe) LiveCount() int {
	u.txMu.Lock()
	defer u.txMu.Unlock()
	return len(u.live)
}

// CoordinatorCount returns the number of distinct live coordinators.
// Exported for engine/metrics.go's open-coordinators gauge.
func (u *Universe) CoordinatorCount() int { return u.coord.Count() }
