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

package bloom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kelvinstack/desim/pkg/bloom"
)

func TestContainsAfterAdd(t *testing.T) {
	f := bloom.NewUint64(100, 0.01)
	f.Add(42)
	assert.True(t, f.Contains(42))
}

func TestAbsentKeyMostlyNotContained(t *testing.T) {
	f := bloom.NewUint64(100, 0.01)
	for i := uint64(0); i < 50; i++ {
		f.Add(i)
	}
	falsePositives := 0
	for i := uint64(1000); i < 1100; i++ {
		if f.Contains(i) {
			falsePositives++
		}
	}
	assert.Less(t, falsePositives, 10)
}

func TestStringKeyedFilter(t *testing.T) {
	f := bloom.New(10, 0.01, func(s string) []byte { return []byte(s) })
	f.Add("account-42")
	assert.True(t, f.Contains("account-42"))
	assert.False(t, f.Contains("account-43"))
}
