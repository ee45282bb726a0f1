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

import "errors"

// ErrHistoryStartViolation is returned by SetHistoryStart when
// advancing to the requested time would discard a transition time
// still depended on by a live transaction's read, violating spec
// invariant 7.
var ErrHistoryStartViolation = errors.New("desim: advancing history start would discard a live read")
