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

// Command desimdemo wires a Universe and a SimulationEngine together
// and prints the committed states it arrives at. It takes no
// configuration file and no flags; it exists to be read, not operated.
package main

import (
	"context"
	"fmt"
	"log"

	desim "github.com/kelvinstack/desim"
	"github.com/kelvinstack/desim/engine"
	"github.com/kelvinstack/desim/objectstate"
	"github.com/kelvinstack/desim/vtime"
)

// tick is a toy object: at every step it increments its own counter
// and, once, spawns a "derived" object seeded from its value. It
// exists only to give compute_object_state something to chase across
// several transactions.
type tick struct {
	count   int
	spawned bool
}

func (s tick) Equal(o objectstate.State) bool {
	other, ok := o.(tick)
	return ok && other == s
}

func (s tick) ComputeNext(tx objectstate.Transaction, object objectstate.ID, when vtime.Time) error {
	next := s
	next.count++
	next.spawned = true

	if err := tx.BeginWrite(vtime.New(when.Nanos() + 1)); err != nil {
		return err
	}
	if err := tx.Put(object, next); err != nil {
		return err
	}
	if !s.spawned {
		if err := tx.Put("derived", tick{count: next.count * 10, spawned: true}); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	universe := desim.New(desim.DefaultConfig)
	defer universe.Close()
	if err := universe.PutAndCommit("clock", vtime.New(0), tick{}); err != nil {
		log.Fatalf("seeding clock: %v", err)
	}

	exec := engine.NewQueueExecutor(engine.Config{Workers: 2, TaskQueueBuffer: 16})
	defer exec.Close()
	sim := engine.New(universe, exec)

	ctx := context.Background()
	for _, when := range []vtime.Time{vtime.New(1), vtime.New(5), vtime.New(5)} {
		state, err := sim.ComputeObjectState("clock", when).Wait(ctx)
		if err != nil {
			log.Fatalf("computing clock at %s: %v", when, err)
		}
		fmt.Printf("clock at %s = %+v\n", when, state)
	}

	derived, err := sim.ComputeObjectState("derived", vtime.New(5)).Wait(ctx)
	if err != nil {
		log.Fatalf("computing derived at 5: %v", err)
	}
	fmt.Printf("derived at %s = %+v\n", vtime.New(5), derived)
}
