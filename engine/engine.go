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

// Package engine implements SimulationEngine: the driver that turns a
// request for "the state of object O at time W" into a chain of
// transactions against a Universe, submitted to an Executor, resolving
// once the requested (object, when) pair is covered by committed
// history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kelvinstack/desim/objectstate"
	"github.com/kelvinstack/desim/pkg/logger"
	"github.com/kelvinstack/desim/txn"
	"github.com/kelvinstack/desim/vtime"
)

var (
	// ErrCanceled is the error a Future settles with once Cancel has
	// been called on it before it resolved naturally.
	ErrCanceled = errors.New("engine: future canceled")

	// ErrNoProgress means ComputeNext returned without ever calling
	// BeginWrite, so the engine has nothing to commit and no way to
	// make progress toward the requested time.
	ErrNoProgress = errors.New("engine: compute_next made no progress")
)

// Universe is the subset of *desim.Universe the engine depends on,
// declared here rather than importing package desim's concrete type
// directly, mirroring the same Store-interface-inversion objectstate
// and txn already use to keep this package's dependency on the core
// narrow and explicit.
type Universe interface {
	HistoryStart() vtime.Time
	Committed(object objectstate.ID, when vtime.Time) (objectstate.State, vtime.Time)
	LastCommittedTransition(object objectstate.ID) (vtime.Time, bool)
	BeginTransaction(listener txn.Listener) *txn.Transaction

	// LiveCount and CoordinatorCount back engine/metrics.go's open
	// transactions and open coordinators gauges.
	LiveCount() int
	CoordinatorCount() int
}

// SimulationEngine is the sole driver described in spec.md §4.7: one
// public operation, compute_object_state, implemented here as
// ComputeObjectState. Every step of every computation is handed to its
// Executor. The one goroutine it starts itself is the logDetached
// waiter for each created-object follow-up, which only waits and logs.
type SimulationEngine struct {
	universe Universe
	exec     Executor
	log      logger.Logger
	metrics  *Metrics
}

// New creates a SimulationEngine driving universe through exec. Pass
// DirectExecutor{} for synchronous, deterministic tests, or a
// *QueueExecutor for production use.
func New(universe Universe, exec Executor) *SimulationEngine {
	m := newMetrics()
	m.bindUniverse(universe)
	return &SimulationEngine{
		universe: universe,
		exec:     exec,
		log:      logger.GetLogger(),
		metrics:  m,
	}
}

// Metrics exposes the engine's prometheus collectors, for registration
// with a custom registry.
func (e *SimulationEngine) Metrics() *Metrics { return e.metrics }

// ComputeObjectState returns a Future that resolves to the committed
// state of object at when, per spec.md §4.7's algorithm. The call
// itself never blocks; every step runs on the engine's Executor.
func (e *SimulationEngine) ComputeObjectState(object objectstate.ID, when vtime.Time) *Future {
	fut := newFuture()
	e.metrics.openFutures.Inc()
	e.exec.Submit(func() {
		e.advance(object, when, fut)
	})
	return fut
}

// settle resolves fut exactly once and keeps the open-futures gauge
// accurate regardless of how many goroutines race to settle the same
// future (only the first actually counts).
func (e *SimulationEngine) settle(fut *Future, value objectstate.State, err error) {
	if fut.settle(value, err) {
		e.metrics.openFutures.Dec()
	}
}

// advance performs one round of spec.md §4.7's algorithm for (object,
// when) against fut: the committed-history fast path (steps 1-2), or
// one transactional step toward when (steps 3-4), scheduling its own
// continuation through the Executor via stepListener. Every early exit
// settles fut before closing the step's transaction, since the abort
// that Close fires would otherwise settle fut with txn.ErrClosed first.
func (e *SimulationEngine) advance(object objectstate.ID, when vtime.Time, fut *Future) {
	if fut.canceled() {
		e.settle(fut, nil, ErrCanceled)
		return
	}

	if when.Before(e.universe.HistoryStart()) {
		e.settle(fut, nil, fmt.Errorf("%w: requested time %s", txn.ErrPrehistory, when))
		return
	}

	value, latestCommit := e.universe.Committed(object, when)
	if latestCommit.Compare(when) >= 0 {
		e.settle(fut, value, nil)
		return
	}

	t0, ok := e.universe.LastCommittedTransition(object)
	if !ok {
		t0 = e.universe.HistoryStart()
	}

	listener := &stepListener{engine: e, object: object, target: when, fut: fut}
	tr := e.universe.BeginTransaction(listener)

	s, err := tr.Read(object, t0)
	if err != nil {
		e.settle(fut, nil, err)
		tr.Close()
		return
	}

	// A nil state at t0 means object is either destroyed (absence is
	// forever, per the history-start/destruction invariant) or has
	// never been created by anything live. Either way there is no
	// state to advance: resolve absent rather than calling ComputeNext
	// on a nil receiver.
	if s == nil {
		e.settle(fut, nil, nil)
		tr.Close()
		return
	}

	if err := s.ComputeNext(tr, object, t0); err != nil {
		e.settle(fut, nil, err)
		tr.Close()
		return
	}

	t1, hasT1 := tr.WriteTime()
	if !hasT1 {
		e.settle(fut, nil, fmt.Errorf("%w: object %s at %s", ErrNoProgress, object, t0))
		tr.Close()
		return
	}
	listener.t1 = t1

	if err := tr.BeginCommit(); err != nil {
		e.settle(fut, nil, err)
		tr.Close()
		return
	}
}

// stepListener drives the follow-up scheduling spec.md §4.7 step 4
// describes: on commit, the same object is resubmitted if its new
// state still falls short of the requested time, and every object the
// step created is advanced toward the same time as a fire-and-forget
// side effect. On abort, the outer future fails with the abort reason.
type stepListener struct {
	txn.NopListener

	engine *SimulationEngine
	object objectstate.ID
	target vtime.Time
	t1     vtime.Time
	fut    *Future
}

func (l *stepListener) OnCommit() {
	l.engine.metrics.commits.Inc()
	if l.t1.Before(l.target) {
		l.engine.exec.Submit(func() {
			l.engine.advance(l.object, l.target, l.fut)
		})
		return
	}
	value, latestCommit := l.engine.universe.Committed(l.object, l.target)
	if latestCommit.Compare(l.target) < 0 {
		// The latest-commit watermark does not yet cover target;
		// re-drive the same request rather than report a value that is
		// not yet settled.
		l.engine.exec.Submit(func() {
			l.engine.advance(l.object, l.target, l.fut)
		})
		return
	}
	l.engine.settle(l.fut, value, nil)
}

func (l *stepListener) OnAbort(reason error) {
	l.engine.metrics.aborts.Inc()
	if errors.Is(reason, txn.ErrCascadedAbort) {
		l.engine.metrics.cascades.Inc()
	}
	l.engine.settle(l.fut, nil, reason)
}

func (l *stepListener) OnCreate(object objectstate.ID) {
	l.engine.metrics.created.Inc()
	if object == l.object {
		return
	}
	detached := newFuture()
	l.engine.metrics.openFutures.Inc()
	l.engine.exec.Submit(func() {
		l.engine.advance(object, l.target, detached)
	})
	go l.engine.logDetached(object, detached)
}

// logDetached waits (off the executor, so it never occupies a worker
// slot) for a fire-and-forget created-object advancement and logs a
// warning if it failed to make progress. It deliberately does not
// retry: a stuck dependent object surfaces again the next time
// something actually asks for its state.
func (e *SimulationEngine) logDetached(object objectstate.ID, fut *Future) {
	_, err := fut.Wait(context.Background())
	if err != nil {
		e.log.Warnf("engine: follow-up computation for created object %s did not resolve: %v", object, err)
	}
}

var _ txn.Listener = (*stepListener)(nil)

// Future is a handle to an asynchronous compute_object_state
// computation.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	cancelled bool
	value     objectstate.State
	err       error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Wait blocks until the future resolves or ctx is done, whichever
// comes first.
func (f *Future) Wait(ctx context.Context) (objectstate.State, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops this future's follow-up scheduling. Any transaction
// already submitted toward it runs to its own natural conclusion
// uninterrupted, per spec.md §5's cancellation rule; it simply no
// longer has anywhere to report to.
func (f *Future) Cancel() {
	f.mu.Lock()
	already := f.cancelled
	f.cancelled = true
	f.mu.Unlock()
	if !already {
		f.settle(nil, ErrCanceled)
	}
}

func (f *Future) settle(value objectstate.State, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value, f.err = value, err
	f.mu.Unlock()
	close(f.done)
	return true
}

func (f *Future) canceled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}
