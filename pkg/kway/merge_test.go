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

package kway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kelvinstack/desim/pkg/skiplist"
	"github.com/kelvinstack/desim/vtime"
)

func entry(n int64, v string) skiplist.Entry[vtime.Time, string] {
	return skiplist.Entry[vtime.Time, string]{Key: vtime.New(n), Value: v}
}

func TestMergeInterleaves(t *testing.T) {
	stream1 := []skiplist.Entry[vtime.Time, string]{entry(1, "a"), entry(3, "c")}
	stream2 := []skiplist.Entry[vtime.Time, string]{entry(2, "b"), entry(4, "d")}

	want := []skiplist.Entry[vtime.Time, string]{entry(1, "a"), entry(2, "b"), entry(3, "c"), entry(4, "d")}
	assert.Equal(t, want, Merge[vtime.Time, string](nil, stream1, stream2))
}

func TestMergeNewestStreamWins(t *testing.T) {
	stream1 := []skiplist.Entry[vtime.Time, string]{entry(1, "old-a"), entry(2, "b"), entry(3, "old-c"), entry(4, "d")}
	stream2 := []skiplist.Entry[vtime.Time, string]{entry(1, "new-a"), entry(3, "new-c")}

	want := []skiplist.Entry[vtime.Time, string]{entry(1, "new-a"), entry(2, "b"), entry(3, "new-c"), entry(4, "d")}
	assert.Equal(t, want, Merge[vtime.Time, string](nil, stream1, stream2))
}

func TestMergeDropsFiltered(t *testing.T) {
	stream1 := []skiplist.Entry[vtime.Time, string]{entry(1, "old-a"), entry(2, "b"), entry(3, "old-c"), entry(4, "d")}
	stream2 := []skiplist.Entry[vtime.Time, string]{entry(1, "removed"), entry(3, "removed")}

	want := []skiplist.Entry[vtime.Time, string]{entry(2, "b"), entry(4, "d")}
	isRemoved := func(v string) bool { return v == "removed" }
	assert.Equal(t, want, Merge(isRemoved, stream1, stream2))
}
