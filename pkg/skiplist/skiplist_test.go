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

package skiplist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelvinstack/desim/pkg/skiplist"
	"github.com/kelvinstack/desim/vtime"
)

func TestNew(t *testing.T) {
	sl := skiplist.New[vtime.Time, string](4, 0.5)
	assert.NotNil(t, sl)
	assert.Equal(t, 0, sl.Len())
}

func TestSetAndGet(t *testing.T) {
	sl := skiplist.New[vtime.Time, string](4, 0.5)
	sl.Set(vtime.New(10), "value1")

	result, found := sl.Get(vtime.New(10))
	assert.True(t, found)
	assert.Equal(t, "value1", result)

	sl.Set(vtime.New(10), "value2")
	result, found = sl.Get(vtime.New(10))
	assert.True(t, found)
	assert.Equal(t, "value2", result)
	assert.Equal(t, 1, sl.Len())
}

func TestScan(t *testing.T) {
	sl := skiplist.New[vtime.Time, int](4, 0.5)
	for i := 1; i <= 4; i++ {
		sl.Set(vtime.New(int64(i)), i)
	}

	tests := []struct {
		start, end int64
		wantLen    int
	}{
		{1, 3, 2},
		{2, 4, 2},
		{1, 5, 4},
		{3, 3, 0},
		{0, 1, 0},
	}

	for _, tt := range tests {
		result := sl.Scan(vtime.New(tt.start), vtime.New(tt.end))
		assert.Equal(t, tt.wantLen, len(result))
	}
}

func TestGetNonExistent(t *testing.T) {
	sl := skiplist.New[vtime.Time, string](4, 0.5)
	result, found := sl.Get(vtime.New(5))
	assert.False(t, found)
	assert.Equal(t, "", result)
}

func TestDelete(t *testing.T) {
	sl := skiplist.New[vtime.Time, string](4, 0.5)
	sl.Set(vtime.New(1), "value1")
	sl.Set(vtime.New(2), "value2")

	assert.True(t, sl.Delete(vtime.New(1)))
	_, found := sl.Get(vtime.New(1))
	assert.False(t, found)

	result, found := sl.Get(vtime.New(2))
	assert.True(t, found)
	assert.Equal(t, "value2", result)

	assert.False(t, sl.Delete(vtime.New(99)))
}

func TestAll(t *testing.T) {
	sl := skiplist.New[vtime.Time, int](4, 0.5)
	for i := 1; i <= 3; i++ {
		sl.Set(vtime.New(int64(i)), i*10)
	}

	all := sl.All()
	assert.Equal(t, 3, len(all))
	for i, e := range all {
		assert.Equal(t, vtime.New(int64(i+1)), e.Key)
		assert.Equal(t, (i+1)*10, e.Value)
	}
}

func TestFirstAndLast(t *testing.T) {
	sl := skiplist.New[vtime.Time, int](4, 0.5)
	_, ok := sl.First()
	assert.False(t, ok)
	_, ok = sl.Last()
	assert.False(t, ok)

	for i := 1; i <= 5; i++ {
		sl.Set(vtime.New(int64(i*10)), i)
	}

	first, ok := sl.First()
	require.True(t, ok)
	assert.Equal(t, vtime.New(10), first.Key)

	last, ok := sl.Last()
	require.True(t, ok)
	assert.Equal(t, vtime.New(50), last.Key)
}

func TestFloor(t *testing.T) {
	sl := skiplist.New[vtime.Time, int](4, 0.5)
	for i := 1; i <= 5; i++ {
		sl.Set(vtime.New(int64(i*10)), i)
	}

	_, ok := sl.Floor(vtime.New(5))
	assert.False(t, ok, "nothing at or before 5")

	e, ok := sl.Floor(vtime.New(10))
	require.True(t, ok)
	assert.Equal(t, 1, e.Value)

	e, ok = sl.Floor(vtime.New(25))
	require.True(t, ok)
	assert.Equal(t, 2, e.Value)

	e, ok = sl.Floor(vtime.New(100))
	require.True(t, ok)
	assert.Equal(t, 5, e.Value)
}

func TestFloorBefore(t *testing.T) {
	sl := skiplist.New[vtime.Time, int](4, 0.5)
	for i := 1; i <= 5; i++ {
		sl.Set(vtime.New(int64(i*10)), i)
	}

	_, ok := sl.FloorBefore(vtime.New(10))
	assert.False(t, ok, "nothing strictly before the first key")

	e, ok := sl.FloorBefore(vtime.New(20))
	require.True(t, ok)
	assert.Equal(t, 1, e.Value)

	e, ok = sl.FloorBefore(vtime.New(25))
	require.True(t, ok)
	assert.Equal(t, 2, e.Value)
}

func TestReset(t *testing.T) {
	sl := skiplist.New[vtime.Time, string](4, 0.5)
	sl.Set(vtime.New(1), "value1")

	sl = sl.Reset()
	assert.Equal(t, 0, sl.Len())
	assert.Nil(t, sl.All())
}
