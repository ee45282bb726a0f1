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

// Package kway merges several ascending streams of keyed entries into
// one ascending stream, keeping only the newest value on key
// collisions. The teacher used this to fold a memtable and its
// immutable predecessors into one compacted SSTable stream; here it
// folds a SetHistory's existing transition breakpoints and a rewrite's
// newly requested breakpoints into one deduplicated, ascending
// sequence (history/set.go's rewrite).
package kway

import (
	"container/heap"

	"github.com/kelvinstack/desim/pkg/skiplist"
)

// Merge combines streams, each already sorted ascending by key, into
// one ascending, deduplicated stream. On a key collision the entry
// from the stream with the largest index wins. If drop is non-nil, it
// is applied after that deduplication: a winning entry for which it
// returns true is omitted from the result, and so are the older
// entries it shadowed (the teacher used this to drop tombstoned
// entries from a compaction).
func Merge[K skiplist.Ordered[K], V any](drop func(V) bool, streams ...[]skiplist.Entry[K, V]) []skiplist.Entry[K, V] {
	h := &heap[K, V]{}
	heap.Init(h)

	remaining := make([][]skiplist.Entry[K, V], len(streams))
	copy(remaining, streams)

	for i, s := range remaining {
		if len(s) > 0 {
			heap.Push(h, Element[K, V]{Entry: s[0], LI: i})
			remaining[i] = s[1:]
		}
	}

	var ordered []skiplist.Entry[K, V]
	for h.Len() > 0 {
		e := heap.Pop(h).(Element[K, V])
		if len(remaining[e.LI]) > 0 {
			heap.Push(h, Element[K, V]{Entry: remaining[e.LI][0], LI: e.LI})
			remaining[e.LI] = remaining[e.LI][1:]
		}
		if n := len(ordered); n > 0 && ordered[n-1].Key.Compare(e.Key) == 0 {
			ordered[n-1] = e.Entry
			continue
		}
		ordered = append(ordered, e.Entry)
	}

	if drop == nil {
		return ordered
	}
	merged := ordered[:0]
	for _, e := range ordered {
		if drop(e.Value) {
			continue
		}
		merged = append(merged, e)
	}
	return merged
}
