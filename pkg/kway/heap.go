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
	"github.com/kelvinstack/desim/pkg/skiplist"
)

// Element is one candidate entry in the merge heap, tagged with the
// index of the source stream it came from.
type Element[K skiplist.Ordered[K], V any] struct {
	skiplist.Entry[K, V]
	// LI is the source stream index.
	// NOTE: the larger the index, the newer the stream.
	LI int
}

// heap is a min-heap of Element ordered by key, then by source
// recency so a key collision resolves to the newest stream.
type heap[K skiplist.Ordered[K], V any] []Element[K, V]

func (h *heap[K, V]) Len() int { return len(*h) }

func (h *heap[K, V]) Less(i, j int) bool {
	cmp := (*h)[i].Key.Compare((*h)[j].Key)
	if cmp != 0 {
		return cmp < 0
	}
	return (*h)[i].LI < (*h)[j].LI
}

func (h *heap[K, V]) Swap(i, j int) { (*h)[i], (*h)[j] = (*h)[j], (*h)[i] }

func (h *heap[K, V]) Push(x any) { *h = append(*h, x.(Element[K, V])) }

// Pop removes and returns the last element of the backing slice; used
// by container/heap after it has swapped the minimum into that slot.
func (h *heap[K, V]) Pop() any {
	curr := *h
	n := len(curr)
	e := curr[n-1]
	*h = curr[0 : n-1]
	return e
}
