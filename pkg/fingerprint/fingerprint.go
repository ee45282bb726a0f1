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

// Package fingerprint provides a cheap approximate key for conflict
// bookkeeping, adapted from the teacher repo's utils.Magic/utils.Hash.
// A fingerprint is always a hint, never a proof: callers must follow a
// fingerprint match with a precise comparison before acting on it.
package fingerprint

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/kelvinstack/desim/pkg/logger"
)

// Of returns a cheap 64-bit fingerprint of s.
func Of(s string) uint64 {
	hash := sha1.Sum([]byte(s))
	return binary.BigEndian.Uint64(hash[:8])
}

// OfRead returns the fingerprint of a (object, when) read key.
func OfRead(object string, whenNanos int64) uint64 {
	return Of(fmt.Sprintf("%s@%d", object, whenNanos))
}

// Elapsed logs how long an operation identified by msg took, measured
// from start.
func Elapsed(start time.Time, log logger.Logger, msg string) {
	log.Infof("%s elapsed: %s", msg, time.Since(start))
}
