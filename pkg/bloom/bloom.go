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

// Package bloom implements a probabilistic set membership filter, adapted
// from the teacher repo's pkg/filter. The original was hardcoded to
// types.Entry keys for an SSTable block; this version is generic over any
// comparable key, fed through a caller-supplied hash so it can back fast
// negative-cache checks over fingerprints, handles, or object ids alike.
package bloom

import (
	"encoding/binary"
	"hash"
	"math"

	"github.com/spaolacci/murmur3"
)

const _defaultP = 0.01

// Filter is a bloom filter over keys of type K.
type Filter[K any] struct {
	bitset  []bool
	hashFns []hash.Hash32
	m       int
	keyByte func(K) []byte
}

// New creates a Filter sized for n expected elements with false-positive
// rate p. keyByte converts a key into the bytes that get hashed.
func New[K any](n int, p float64, keyByte func(K) []byte) *Filter[K] {
	if n <= 0 {
		n = 1
	}
	if p <= 0 {
		p = _defaultP
	}
	// m = -(n * ln(p)) / (ln(2)^2)
	m := int(math.Ceil(-float64(n) * math.Log(p) / math.Pow(math.Log(2), 2)))
	if m <= 0 {
		m = 1
	}
	// k = (m/n) * ln(2)
	k := int(math.Round((float64(m) / float64(n)) * math.Log(2)))
	if k <= 0 {
		k = 1
	}

	hashFns := make([]hash.Hash32, k)
	for i := range k {
		hashFns[i] = murmur3.New32WithSeed(uint32(i))
	}

	return &Filter[K]{
		bitset:  make([]bool, m),
		hashFns: hashFns,
		m:       m,
		keyByte: keyByte,
	}
}

// NewUint64 builds a Filter keyed by uint64, the common case for
// fingerprints and arena handles.
func NewUint64(n int, p float64) *Filter[uint64] {
	return New(n, p, func(k uint64) []byte {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], k)
		return b[:]
	})
}

// Add records key as present.
func (f *Filter[K]) Add(key K) {
	b := f.keyByte(key)
	for _, fn := range f.hashFns {
		_, _ = fn.Write(b)
		index := int(fn.Sum32()) % f.m
		f.bitset[index] = true
		fn.Reset()
	}
}

// Contains reports whether key might be present. A false result is
// certain; a true result is a hint that still needs confirming.
func (f *Filter[K]) Contains(key K) bool {
	b := f.keyByte(key)
	for _, fn := range f.hashFns {
		_, _ = fn.Write(b)
		index := int(fn.Sum32()) % f.m
		fn.Reset()
		if !f.bitset[index] {
			return false
		}
	}
	return true
}
