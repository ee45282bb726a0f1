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
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the engine's set of prometheus collectors. It is created
// unregistered; callers that want these exposed on an HTTP endpoint
// register it against their own registry via MustRegister or Register.
type Metrics struct {
	commits      prometheus.Counter
	aborts       prometheus.Counter
	cascades     prometheus.Counter
	created      prometheus.Counter
	openFutures  prometheus.Gauge
	liveTxns     prometheus.GaugeFunc
	coordinators prometheus.GaugeFunc
}

func newMetrics() *Metrics {
	return &Metrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "desim",
			Subsystem: "engine",
			Name:      "commits_total",
			Help:      "Transactions the engine drove to a committed outcome.",
		}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "desim",
			Subsystem: "engine",
			Name:      "aborts_total",
			Help:      "Transactions the engine drove to an aborted outcome.",
		}),
		cascades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "desim",
			Subsystem: "engine",
			Name:      "cascaded_aborts_total",
			Help:      "Aborts caused by a past-the-end read invalidated by a later commit.",
		}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "desim",
			Subsystem: "engine",
			Name:      "objects_created_total",
			Help:      "Objects whose first-ever state was staged by an engine-driven transaction.",
		}),
		openFutures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "desim",
			Subsystem: "engine",
			Name:      "open_futures",
			Help:      "compute_object_state futures not yet resolved.",
		}),
	}
}

// bindUniverse wires the liveTxns and coordinators gauges to poll u on
// every scrape. Called once from New, after the Metrics struct exists,
// since the gauges close over u and u is only known at engine
// construction time.
func (m *Metrics) bindUniverse(u Universe) {
	m.liveTxns = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "desim",
		Subsystem: "universe",
		Name:      "live_transactions",
		Help:      "Transactions currently registered with the Universe.",
	}, func() float64 { return float64(u.LiveCount()) })

	m.coordinators = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "desim",
		Subsystem: "universe",
		Name:      "open_coordinators",
		Help:      "Distinct live coordinators in the dependency graph.",
	}, func() float64 { return float64(u.CoordinatorCount()) })
}

// Collectors returns every collector Metrics owns, for bulk
// registration: registry.MustRegister(engine.Metrics().Collectors()...).
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commits,
		m.aborts,
		m.cascades,
		m.created,
		m.openFutures,
		m.liveTxns,
		m.coordinators,
	}
}
