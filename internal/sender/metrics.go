// Copyright (c) 2026 John Earle
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

package sender

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the delivery counters.
type Metrics struct {
	sent           prometheus.Counter
	failedAttempts *prometheus.CounterVec
	drainDuration  prometheus.Histogram
}

// NewMetrics creates the delivery metrics on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sent: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_sent_total",
			Help: "Messages accepted by the outbound transport.",
		}),
		failedAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailflow_failed_attempts_total",
			Help: "Failed delivery attempts, labelled by whether the entry became terminal.",
		}, []string{"terminal"}),
		drainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailflow_drain_duration_seconds",
			Help:    "Wall time of one queue drain.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

func (m *Metrics) failed(terminal bool) {
	label := "false"
	if terminal {
		label = "true"
	}
	m.failedAttempts.WithLabelValues(label).Inc()
}
