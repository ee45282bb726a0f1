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

package engine_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	desim "github.com/kelvinstack/desim"
	"github.com/kelvinstack/desim/engine"
	"github.com/kelvinstack/desim/objectstate"
	"github.com/kelvinstack/desim/txn"
	"github.com/kelvinstack/desim/vtime"
)

// counterState advances its own counter by one tick per call, staging
// its write one nanosecond after the time it was read at. The very
// first time it runs against an object that has not yet spawned one,
// it also creates a "shadow" object, to exercise the engine's
// created-object follow-up scheduling.
type counterState struct {
	n       int
	spawned bool
}

func (c counterState) Equal(o objectstate.State) bool {
	oc, ok := o.(counterState)
	return ok && oc == c
}

func (c counterState) ComputeNext(tx objectstate.Transaction, object objectstate.ID, when vtime.Time) error {
	next := c
	next.n++
	next.spawned = true

	if err := tx.BeginWrite(vtime.New(when.Nanos() + 1)); err != nil {
		return err
	}
	if err := tx.Put(object, next); err != nil {
		return err
	}
	if !c.spawned {
		if err := tx.Put("shadow", counterState{n: next.n, spawned: true}); err != nil {
			return err
		}
	}
	return nil
}

func seeded(t *testing.T, object objectstate.ID, value objectstate.State, at vtime.Time) *desim.Universe {
	t.Helper()
	u := desim.New(desim.DefaultConfig)
	t.Cleanup(u.Close)
	require.NoError(t, u.PutAndCommit(object, at, value))
	return u
}

func TestComputeObjectStateFastPathReturnsCommittedValue(t *testing.T) {
	u := seeded(t, "A", counterState{n: 1, spawned: true}, vtime.New(10))
	e := engine.New(u, engine.DirectExecutor{})

	fut := e.ComputeObjectState("A", vtime.New(10))
	v, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, counterState{n: 1, spawned: true}, v)
}

func TestComputeObjectStateAdvancesMultipleSteps(t *testing.T) {
	u := seeded(t, "A", counterState{n: 0}, vtime.New(0))
	e := engine.New(u, engine.DirectExecutor{})

	fut := e.ComputeObjectState("A", vtime.New(3))
	v, err := fut.Wait(context.Background())
	require.NoError(t, err)

	cs, ok := v.(counterState)
	require.True(t, ok)
	assert.Equal(t, 3, cs.n)
}

func TestComputeObjectStateSpawnsCreatedObjectFollowUp(t *testing.T) {
	u := seeded(t, "A", counterState{n: 0}, vtime.New(0))
	e := engine.New(u, engine.DirectExecutor{})

	fut := e.ComputeObjectState("A", vtime.New(1))
	_, err := fut.Wait(context.Background())
	require.NoError(t, err)

	shadow := u.ObjectState("shadow", vtime.New(1))
	require.NotNil(t, shadow)
	cs, ok := shadow.(counterState)
	require.True(t, ok)
	assert.Equal(t, 1, cs.n)
}

func TestComputeObjectStatePrehistoryFails(t *testing.T) {
	u := desim.New(desim.DefaultConfig)
	t.Cleanup(u.Close)
	require.NoError(t, u.SetHistoryStart(vtime.New(100)))
	e := engine.New(u, engine.DirectExecutor{})

	fut := e.ComputeObjectState("A", vtime.New(5))
	_, err := fut.Wait(context.Background())
	assert.ErrorIs(t, err, txn.ErrPrehistory)
}

func TestComputeObjectStateOnNeverWrittenObjectResolvesAbsent(t *testing.T) {
	u := desim.New(desim.DefaultConfig)
	t.Cleanup(u.Close)
	e := engine.New(u, engine.DirectExecutor{})

	fut := e.ComputeObjectState("ghost", vtime.New(5))
	v, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestComputeObjectStateOnDestroyedObjectResolvesAbsent(t *testing.T) {
	u := seeded(t, "A", counterState{n: 1}, vtime.New(1))
	require.NoError(t, u.PutAndCommit("A", vtime.New(2), nil))
	e := engine.New(u, engine.DirectExecutor{})

	fut := e.ComputeObjectState("A", vtime.New(50))
	v, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestFutureCancelAfterResolutionIsNoOp(t *testing.T) {
	u := seeded(t, "A", counterState{n: 1, spawned: true}, vtime.New(10))
	e := engine.New(u, engine.DirectExecutor{})

	fut := e.ComputeObjectState("A", vtime.New(10))
	v, err := fut.Wait(context.Background())
	require.NoError(t, err)

	fut.Cancel()
	v2, err2 := fut.Wait(context.Background())
	assert.NoError(t, err2)
	assert.Equal(t, v, v2)
}

func TestQueueExecutorRunsEverySubmittedTask(t *testing.T) {
	exec := engine.NewQueueExecutor(engine.Config{Workers: 3, TaskQueueBuffer: 4})

	var n int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		exec.Submit(func() {
			atomic.AddInt32(&n, 1)
			wg.Done()
		})
	}
	wg.Wait()
	exec.Close()

	assert.EqualValues(t, 20, n)
}
