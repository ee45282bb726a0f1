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

package txn

import "github.com/kelvinstack/desim/objectstate"

// Listener receives a transaction's terminal outcome. Exactly one of
// OnCommit / OnAbort fires, at most once, never while an internal lock
// is held. OnCreate fires once per object whose first-ever state was
// staged by this transaction, before OnCommit.
type Listener interface {
	OnCommit()
	OnAbort(reason error)
	OnCreate(object objectstate.ID)
}

// NopListener implements Listener with no-op callbacks, for transactions
// whose caller only cares about the side effects, not the outcome.
type NopListener struct{}

func (NopListener) OnCommit()               {}
func (NopListener) OnAbort(error)           {}
func (NopListener) OnCreate(objectstate.ID) {}

var _ Listener = NopListener{}
