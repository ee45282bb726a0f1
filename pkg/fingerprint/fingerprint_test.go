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

package fingerprint_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kelvinstack/desim/pkg/fingerprint"
	"github.com/kelvinstack/desim/pkg/logger"
)

func TestOfIsDeterministic(t *testing.T) {
	assert.Equal(t, fingerprint.Of("account-42"), fingerprint.Of("account-42"))
}

func TestOfDistinguishesInputs(t *testing.T) {
	assert.NotEqual(t, fingerprint.Of("account-42"), fingerprint.Of("account-43"))
}

func TestOfReadDistinguishesByTime(t *testing.T) {
	a := fingerprint.OfRead("account-42", 100)
	b := fingerprint.OfRead("account-42", 200)
	assert.NotEqual(t, a, b)
}

func TestOfReadDistinguishesByObject(t *testing.T) {
	a := fingerprint.OfRead("account-42", 100)
	b := fingerprint.OfRead("account-43", 100)
	assert.NotEqual(t, a, b)
}

func TestElapsedDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		fingerprint.Elapsed(time.Now(), logger.GetLogger(), "noop")
	})
}
