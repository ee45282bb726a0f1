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
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kelvinstack/desim/pkg/skiplist"
	"github.com/kelvinstack/desim/vtime"
)

func TestHeapOrdersByKey(t *testing.T) {
	h := &heap[vtime.Time, string]{}
	heap.Init(h)

	entries := []skiplist.Entry[vtime.Time, string]{
		{Key: vtime.New(3), Value: "c"},
		{Key: vtime.New(1), Value: "a"},
		{Key: vtime.New(2), Value: "b"},
	}
	for _, e := range entries {
		heap.Push(h, Element[vtime.Time, string]{Entry: e, LI: 0})
	}

	want := []string{"a", "b", "c"}
	for _, w := range want {
		e := heap.Pop(h).(Element[vtime.Time, string])
		assert.Equal(t, w, e.Value)
	}
}
