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

package coordinator

import (
	"fmt"

	"github.com/emicklei/dot"
	sync "github.com/sasha-s/go-deadlock"

	"github.com/kelvinstack/desim/pkg/bloom"
	"github.com/kelvinstack/desim/pkg/logger"
)

// Manager owns every live coordinator. Coordinators are arena entries,
// never pointers held by transactions, so that a cycle of mutual
// dependency between coordinators is just a cycle of Handles, and
// merging two of them is a matter of relabeling a map, not untangling
// a pointer graph.
type Manager struct {
	mu sync.Mutex

	arena    []*entry
	freelist []Handle
	memberOf map[MemberID]Handle

	log logger.Logger
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		memberOf: make(map[MemberID]Handle),
		log:      logger.GetLogger(),
	}
}

// New allocates a fresh, single-member coordinator for member and
// returns its Handle. Calling New for a member that already belongs to
// a coordinator is a programmer error and panics.
func (m *Manager) New(member MemberID) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.memberOf[member]; ok {
		panic(fmt.Sprintf("coordinator: member %d already has a coordinator", member))
	}

	h := m.alloc()
	e := m.arena[h]
	e.members[member] = struct{}{}
	m.memberOf[member] = h
	return h
}

func (m *Manager) alloc() Handle {
	if n := len(m.freelist); n > 0 {
		h := m.freelist[n-1]
		m.freelist = m.freelist[:n-1]
		m.arena[h] = newEntry()
		return h
	}
	m.arena = append(m.arena, newEntry())
	return Handle(len(m.arena) - 1)
}

// Count returns the number of distinct live coordinators. A merge
// reduces this count by one; Release of a coordinator's last member
// reduces it by one as well.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.arena) - len(m.freelist)
}

// HandleFor returns the coordinator currently owning member.
func (m *Manager) HandleFor(member MemberID) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.memberOf[member]
	return h, ok
}

// AddDependency records that successor's coordinator must not commit
// before predecessor's coordinator has. If predecessor's coordinator is
// already (transitively) a successor of successor's coordinator, the
// new edge closes a cycle and every coordinator on that cycle is merged
// into one; merged is true in that case and the returned Handle is the
// surviving coordinator for all of their members. Self-dependencies (successor and
// predecessor already sharing a coordinator) are a no-op.
func (m *Manager) AddDependency(successor, predecessor MemberID) (h Handle, merged bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sh, ok := m.memberOf[successor]
	if !ok {
		sh = m.allocFor(successor)
	}
	ph, ok := m.memberOf[predecessor]
	if !ok {
		ph = m.allocFor(predecessor)
	}

	if sh == ph {
		return sh, false
	}

	// predecessor is already reachable from successor's own successors:
	// successor is waiting on predecessor, which in turn is (perhaps
	// indirectly) waiting on successor. Every coordinator on a successor
	// path from sh to ph is part of that cycle; none of them can resolve
	// independently, so they all become one.
	if m.reachable(sh, ph) {
		var cycle []Handle
		for i, e := range m.arena {
			h := Handle(i)
			if e != nil && h != sh && m.reachable(sh, h) && m.reachable(h, ph) {
				cycle = append(cycle, h)
			}
		}
		for _, h := range cycle {
			m.merge(sh, h)
		}
		return sh, true
	}

	m.arena[sh].predecessors[ph] = struct{}{}
	m.arena[ph].successors[sh] = struct{}{}
	return sh, false
}

func (m *Manager) allocFor(member MemberID) Handle {
	h := m.alloc()
	m.arena[h].members[member] = struct{}{}
	m.memberOf[member] = h
	return h
}

// reachable reports whether target is reachable from start by walking
// successor edges (i.e. target, directly or transitively, waits on
// start committing first).
func (m *Manager) reachable(start, target Handle) bool {
	if start == target {
		return true
	}
	visited := map[Handle]bool{start: true}
	stack := []Handle{start}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		for next := range m.arena[cur].successors {
			if next == target {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// merge folds b's members, predecessors and successors into a, frees
// b, and repoints every edge and membership entry that referenced b.
// Self-edges produced by the fold (a now depending on itself) are
// dropped.
func (m *Manager) merge(a, b Handle) Handle {
	ea, eb := m.arena[a], m.arena[b]

	for mem := range eb.members {
		ea.members[mem] = struct{}{}
		m.memberOf[mem] = a
	}
	for p := range eb.predecessors {
		if p != a {
			ea.predecessors[p] = struct{}{}
		}
	}
	for s := range eb.successors {
		if s != a {
			ea.successors[s] = struct{}{}
		}
	}
	ea.committed = ea.committed || eb.committed
	ea.aborted = ea.aborted || eb.aborted

	delete(ea.predecessors, a)
	delete(ea.successors, a)
	delete(ea.predecessors, b)
	delete(ea.successors, b)

	for _, e := range m.arena {
		if e == nil || e == ea {
			continue
		}
		if _, ok := e.predecessors[b]; ok {
			delete(e.predecessors, b)
			if e != ea {
				e.predecessors[a] = struct{}{}
			}
		}
		if _, ok := e.successors[b]; ok {
			delete(e.successors, b)
			if e != ea {
				e.successors[a] = struct{}{}
			}
		}
	}

	m.arena[b] = nil
	m.freelist = append(m.freelist, b)
	return a
}

// CanCommit reports whether h's coordinator is free to commit: every
// predecessor coordinator has already committed, and h itself has not
// aborted.
func (m *Manager) CanCommit(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.arena[h]
	if e.aborted {
		return false
	}
	for p := range e.predecessors {
		if !m.arena[p].committed {
			return false
		}
	}
	return true
}

// MarkCommitted marks h's coordinator committed.
func (m *Manager) MarkCommitted(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arena[h].committed = true
}

// MarkAborted marks h's coordinator aborted, and reports every member
// of the coordinator, so that the caller can abort each in turn. Per
// the propagation rule, abort of any member (or of any predecessor)
// aborts the whole coordinator: callers are expected to also call
// MarkAborted on every successor coordinator reachable from h.
func (m *Manager) MarkAborted(h Handle) []MemberID {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.arena[h]
	e.aborted = true
	members := make([]MemberID, 0, len(e.members))
	for mem := range e.members {
		members = append(members, mem)
	}
	return members
}

// Members returns every MemberID currently folded into h's coordinator.
func (m *Manager) Members(h Handle) []MemberID {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.arena[h]
	out := make([]MemberID, 0, len(e.members))
	for mem := range e.members {
		out = append(out, mem)
	}
	return out
}

// Successors returns the Handles of every coordinator directly waiting
// on h to commit or abort.
func (m *Manager) Successors(h Handle) []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.arena[h]
	out := make([]Handle, 0, len(e.successors))
	for s := range e.successors {
		out = append(out, s)
	}
	return out
}

// Release forgets member entirely. Call this once a member's
// coordinator has fully resolved (committed or aborted) and the member
// itself has been closed; it does not free the coordinator entry while
// other members remain.
func (m *Manager) Release(member MemberID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.memberOf[member]
	if !ok {
		return
	}
	delete(m.memberOf, member)
	e := m.arena[h]
	delete(e.members, member)
	if len(e.members) > 0 {
		return
	}
	for p := range e.predecessors {
		delete(m.arena[p].successors, h)
	}
	for s := range e.successors {
		delete(m.arena[s].predecessors, h)
	}
	m.arena[h] = nil
	m.freelist = append(m.freelist, h)
}

// predecessorClosure walks the transitive predecessor set of h via
// DFS. Used by Reaches and to seed the bloom.Filter behind
// MightDependOn; that filter is rebuilt fresh from this same walk every
// time it is consulted, which is why a bloom "no" is trustworthy, and a
// bloom "maybe" still requires rewalking.
func (m *Manager) predecessorClosure(h Handle) []Handle {
	visited := map[Handle]bool{}
	var out []Handle
	stack := []Handle{h}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		for p := range m.arena[cur].predecessors {
			if !visited[p] {
				visited[p] = true
				out = append(out, p)
				stack = append(stack, p)
			}
		}
	}
	return out
}

// predecessorFilter builds a bloom.Filter over h's current transitive
// predecessor closure. A "not contained" answer from the returned
// filter is conclusive; a "contained" answer only means "go check with
// reachable", matching bloom.Filter's no-false-negative contract.
func (m *Manager) predecessorFilter(h Handle) *bloom.Filter[uint64] {
	closure := m.predecessorClosure(h)
	f := bloom.NewUint64(len(closure)+1, 0.01)
	for _, p := range closure {
		f.Add(uint64(p))
	}
	return f
}

// MightDependOn is a cheap, possibly-false-positive precheck for
// "does h's coordinator transitively depend on candidate". A false
// result is conclusive and lets a caller skip the real DFS (Reaches);
// a true result means nothing by itself and must be confirmed.
func (m *Manager) MightDependOn(h, candidate Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predecessorFilter(h).Contains(uint64(candidate))
}

// Reaches is the precise counterpart to MightDependOn: it reports
// whether candidate is truly in h's transitive predecessor closure.
func (m *Manager) Reaches(h, candidate Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.predecessorClosure(h) {
		if p == candidate {
			return true
		}
	}
	return false
}

// DOT renders the current coordinator dependency graph in Graphviz DOT
// format, an edge per predecessor/successor pair, for debugging stuck
// or cyclic commit negotiations.
func (m *Manager) DOT() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := dot.NewGraph(dot.Directed)
	nodes := make(map[Handle]dot.Node)
	for h, e := range m.arena {
		if e == nil {
			continue
		}
		handle := Handle(h)
		label := fmt.Sprintf("C%d (members=%d)", handle, len(e.members))
		switch {
		case e.aborted:
			label += " [aborted]"
		case e.committed:
			label += " [committed]"
		}
		n := g.Node(label)
		nodes[handle] = n
	}
	for h, e := range m.arena {
		if e == nil {
			continue
		}
		from := nodes[Handle(h)]
		for s := range e.successors {
			g.Edge(from, nodes[s])
		}
	}
	return g.String()
}
