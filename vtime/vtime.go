// Copyright 2025 BINARY Members
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

// Package vtime defines virtual time: a dense, totally ordered duration
// type with distinct START and END sentinels. It carries no wall-clock
// meaning.
package vtime

import (
	"fmt"
	"math"
)

// Time is a point in virtual time. The zero value is not meaningful on
// its own; use Start, End, or New.
type Time struct {
	ns int64
}

// Start is the sentinel before which no virtual time exists.
var Start = Time{ns: math.MinInt64}

// End is the sentinel after which no virtual time exists.
var End = Time{ns: math.MaxInt64}

// New returns the virtual time ns nanoseconds after Start's neighborhood.
// Callers must not pass math.MinInt64 or math.MaxInt64; use Start/End.
func New(ns int64) Time {
	if ns == math.MinInt64 {
		return Start
	}
	if ns == math.MaxInt64 {
		return End
	}
	return Time{ns: ns}
}

// Compare returns -1, 0, or 1 as t is before, equal to, or after u.
func (t Time) Compare(u Time) int {
	switch {
	case t.ns < u.ns:
		return -1
	case t.ns > u.ns:
		return 1
	default:
		return 0
	}
}

func (t Time) Before(u Time) bool { return t.ns < u.ns }
func (t Time) After(u Time) bool  { return t.ns > u.ns }
func (t Time) Equal(u Time) bool  { return t.ns == u.ns }

// IsStart reports whether t is the START sentinel.
func (t Time) IsStart() bool { return t.ns == Start.ns }

// IsEnd reports whether t is the END sentinel.
func (t Time) IsEnd() bool { return t.ns == End.ns }

// Nanos returns the raw nanosecond value, for use as a watermark key.
// It is only meaningful as an ordering key, never as wall-clock time.
func (t Time) Nanos() int64 { return t.ns }

func (t Time) String() string {
	switch t.ns {
	case Start.ns:
		return "START"
	case End.ns:
		return "END"
	default:
		return fmt.Sprintf("%d", t.ns)
	}
}

// Max returns the later of a and b.
func Max(a, b Time) Time {
	if a.After(b) {
		return a
	}
	return b
}

// Min returns the earlier of a and b.
func Min(a, b Time) Time {
	if a.Before(b) {
		return a
	}
	return b
}
