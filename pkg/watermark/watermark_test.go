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

package watermark_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kelvinstack/desim/pkg/watermark"
	"github.com/kelvinstack/desim/vtime"
)

func ts(n int64) vtime.Time { return vtime.New(n) }

func TestMarkBasic(t *testing.T) {
	w := watermark.New(vtime.Start)
	defer w.Stop()

	assert.Equal(t, vtime.Start, w.DoneUntil())
}

func TestMarkBeginDone(t *testing.T) {
	w := watermark.New(vtime.Start)
	defer w.Stop()

	w.Begin(ts(100))
	assert.Equal(t, vtime.Start, w.DoneUntil())
	w.Done(ts(100))

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, ts(100), w.DoneUntil())
}

func TestMarkMultipleMarks(t *testing.T) {
	w := watermark.New(vtime.Start)
	defer w.Stop()

	w.Begin(ts(100))
	w.Begin(ts(100))
	w.Begin(ts(200))
	w.Begin(ts(300))

	w.Done(ts(100))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, vtime.Start, w.DoneUntil())

	w.Done(ts(200))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, vtime.Start, w.DoneUntil())

	w.Done(ts(300))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, vtime.Start, w.DoneUntil())

	w.Done(ts(100))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, ts(300), w.DoneUntil())
}

func TestMarkWaitForMark(t *testing.T) {
	w := watermark.New(vtime.Start)
	defer w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	w.Begin(ts(100))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, w.WaitForMark(ctx, ts(100)))
	}()

	time.Sleep(50 * time.Millisecond)
	w.Done(ts(100))

	wg.Wait()
}

func TestMarkWaitTimeout(t *testing.T) {
	w := watermark.New(vtime.Start)
	defer w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	w.Begin(ts(100))

	err := w.WaitForMark(ctx, ts(100))
	assert.Error(t, err)
}

func TestMarkOutOfOrderCompletion(t *testing.T) {
	w := watermark.New(vtime.Start)
	defer w.Stop()

	w.Begin(ts(300))
	w.Begin(ts(200))
	w.Begin(ts(100))

	w.Done(ts(200))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, vtime.Start, w.DoneUntil())

	w.Done(ts(100))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, ts(200), w.DoneUntil())

	w.Done(ts(300))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, ts(300), w.DoneUntil())
}

func TestMarkWaitForPastMark(t *testing.T) {
	w := watermark.New(vtime.Start)
	defer w.Stop()

	w.Begin(ts(100))
	w.Done(ts(100))
	time.Sleep(10 * time.Millisecond)

	assert.NoError(t, w.WaitForMark(context.Background(), ts(50)))
	assert.NoError(t, w.WaitForMark(context.Background(), ts(100)))
}
