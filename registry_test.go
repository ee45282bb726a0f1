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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelvinstack/desim/objectstate"
	"github.com/kelvinstack/desim/txn"
	"github.com/kelvinstack/desim/vtime"
)

type registryTestState string

func (s registryTestState) Equal(o objectstate.State) bool {
	other, ok := o.(registryTestState)
	return ok && s == other
}

func (s registryTestState) ComputeNext(objectstate.Transaction, objectstate.ID, vtime.Time) error {
	return nil
}

func TestObjectEntryStartsWithNoCommittedValue(t *testing.T) {
	e := newObjectEntry("rock-1")
	v, _ := e.committedAt(vtime.New(100))
	assert.Nil(t, v)
	assert.False(t, e.destroyed(vtime.New(100)))
}

func TestObjectEntryApplyCommitReportsCreationOnce(t *testing.T) {
	e := newObjectEntry("rock-1")

	created, err := e.applyCommit(vtime.New(10), registryTestState("born"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = e.applyCommit(vtime.New(20), registryTestState("grown"))
	require.NoError(t, err)
	assert.False(t, created)

	v, _ := e.committedAt(vtime.New(15))
	assert.Equal(t, registryTestState("born"), v)
	v, _ = e.committedAt(vtime.New(20))
	assert.Equal(t, registryTestState("grown"), v)
}

func TestObjectEntryDestroyedThenNotResurrectable(t *testing.T) {
	e := newObjectEntry("rock-1")
	_, err := e.applyCommit(vtime.New(10), registryTestState("born"))
	require.NoError(t, err)
	_, err = e.applyCommit(vtime.New(20), nil)
	require.NoError(t, err)

	assert.True(t, e.destroyed(vtime.New(25)))
	assert.False(t, e.destroyed(vtime.New(15)))
}

func TestObjectEntryValidateWriteDetectsOutOfOrderAndDuplicate(t *testing.T) {
	e := newObjectEntry("rock-1")
	_, err := e.applyCommit(vtime.New(10), registryTestState("born"))
	require.NoError(t, err)

	assert.NoError(t, e.validateWrite(vtime.New(20), registryTestState("grown")))
	assert.ErrorIs(t, e.validateWrite(vtime.New(5), registryTestState("grown")), txn.ErrOutOfOrderWrite)
	assert.ErrorIs(t, e.validateWrite(vtime.New(10), registryTestState("different")), txn.ErrOutOfOrderWrite)
	assert.ErrorIs(t, e.validateWrite(vtime.New(10), registryTestState("born")), txn.ErrDuplicateWrite)
}

func TestObjectEntryTruncateBeforePreservesLaterReads(t *testing.T) {
	e := newObjectEntry("rock-1")
	_, err := e.applyCommit(vtime.New(10), registryTestState("s1"))
	require.NoError(t, err)
	_, err = e.applyCommit(vtime.New(20), registryTestState("s2"))
	require.NoError(t, err)

	e.truncateBefore(vtime.New(15))

	v, _ := e.committedAt(vtime.New(15))
	assert.Equal(t, registryTestState("s1"), v)
	v, _ = e.committedAt(vtime.New(20))
	assert.Equal(t, registryTestState("s2"), v)
}

func TestObjectStateRegistryCreatesEntriesLazily(t *testing.T) {
	r := newObjectStateRegistry()
	_, ok := r.peek("rock-1")
	assert.False(t, ok)

	e := r.entry("rock-1")
	require.NotNil(t, e)
	_, ok = r.peek("rock-1")
	assert.True(t, ok)

	assert.Same(t, e, r.entry("rock-1"))
	assert.Equal(t, []objectstate.ID{"rock-1"}, r.objects())
}

func TestStateValueRoundTrip(t *testing.T) {
	assert.False(t, stateValue(nil).Present)
	v := stateValue(registryTestState("s1"))
	assert.True(t, v.Present)
	assert.Equal(t, registryTestState("s1"), stateOf(v))
	assert.Nil(t, stateOf(stateValue(nil)))
}
