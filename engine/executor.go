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

package engine

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kelvinstack/desim/pkg/logger"
)

// Executor runs units of work the SimulationEngine schedules. Every
// step of every computation passes through Submit; the engine's only
// goroutines of its own are the logDetached waiters, which run no steps.
type Executor interface {
	// Submit schedules task to run, possibly after queuing. Submit must
	// not block indefinitely on a closed executor.
	Submit(task func())

	// Close stops accepting new work and waits for everything already
	// submitted to finish.
	Close()
}

// DirectExecutor runs every task synchronously on the submitting
// goroutine. Used by tests, where deterministic, immediate execution
// matters more than throughput.
type DirectExecutor struct{}

func (DirectExecutor) Submit(task func()) { task() }
func (DirectExecutor) Close()             {}

var _ Executor = DirectExecutor{}

// Config tunes a QueueExecutor's worker pool.
type Config struct {
	// Workers is the number of goroutines draining the task queue.
	Workers int
	// TaskQueueBuffer sizes the channel tasks are submitted into.
	TaskQueueBuffer int
}

// DefaultConfig is used for any zero-valued field of a Config passed to
// NewQueueExecutor.
var DefaultConfig = Config{
	Workers:         4,
	TaskQueueBuffer: 256,
}

func (c *Config) validate() error {
	if c.Workers <= 0 {
		c.Workers = DefaultConfig.Workers
	}
	if c.TaskQueueBuffer <= 0 {
		c.TaskQueueBuffer = DefaultConfig.TaskQueueBuffer
	}
	return nil
}

// QueueExecutor is a fixed-size worker pool draining a task channel,
// the production counterpart to DirectExecutor - the same
// channel-driven background-worker shape as the teacher's db.go
// run()/flushC loop, generalized from "one flush goroutine" to "a pool
// of N task-queue workers" via errgroup.
type QueueExecutor struct {
	log   logger.Logger
	tasks chan func()

	g         *errgroup.Group
	closeOnce sync.Once
}

// NewQueueExecutor starts cfg.Workers goroutines draining a buffered
// task queue.
func NewQueueExecutor(cfg Config) *QueueExecutor {
	_ = cfg.validate()

	e := &QueueExecutor{
		log:   logger.GetLogger(),
		tasks: make(chan func(), cfg.TaskQueueBuffer),
	}

	var g errgroup.Group
	for i := 0; i < cfg.Workers; i++ {
		g.Go(func() error {
			e.run()
			return nil
		})
	}
	e.g = &g
	e.log.Infof("engine: queue executor started with %d workers", cfg.Workers)
	return e
}

func (e *QueueExecutor) run() {
	for task := range e.tasks {
		task()
	}
}

// Submit implements Executor.
func (e *QueueExecutor) Submit(task func()) {
	e.tasks <- task
}

// Close implements Executor: stops accepting work and blocks until
// every worker has drained the queue and exited.
func (e *QueueExecutor) Close() {
	e.closeOnce.Do(func() {
		close(e.tasks)
	})
	_ = e.g.Wait()
	e.log.Infof("engine: queue executor stopped")
}

var _ Executor = (*QueueExecutor)(nil)
