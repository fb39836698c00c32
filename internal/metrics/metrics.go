// Copyright 2025 Shan
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

// Package metrics exposes Prometheus instrumentation for API calls and
// session storage.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the instrument set. Construct one per process; tests
// pass their own registry to avoid duplicate registration.
type Collector struct {
	calls          *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec
	securityBlocks *prometheus.CounterVec
	sessionRecords *prometheus.CounterVec
	configReloads  *prometheus.CounterVec
}

// NewCollector registers the instruments with reg. A nil reg uses the
// default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiconnect_calls_total",
				Help: "Total API calls by api, endpoint, and outcome",
			},
			[]string{"api", "endpoint", "status"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apiconnect_call_duration_seconds",
				Help:    "Duration of API calls including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"api", "endpoint"},
		),
		securityBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiconnect_security_blocks_total",
				Help: "Requests blocked by the outbound security policy",
			},
			[]string{"api"},
		),
		sessionRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiconnect_session_records_total",
				Help: "Records appended to storage sessions by api",
			},
			[]string{"api"},
		),
		configReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiconnect_config_reloads_total",
				Help: "Configuration reloads by outcome",
			},
			[]string{"status"},
		),
	}
}

// Call records one finished API call.
func (c *Collector) Call(api, endpoint, status string, duration time.Duration) {
	c.calls.WithLabelValues(api, endpoint, status).Inc()
	c.callDuration.WithLabelValues(api, endpoint).Observe(duration.Seconds())
}

// SecurityBlock records a request rejected by the security guard.
func (c *Collector) SecurityBlock(api string) {
	c.securityBlocks.WithLabelValues(api).Inc()
}

// SessionRecord records one record appended to a storage session.
func (c *Collector) SessionRecord(api string) {
	c.sessionRecords.WithLabelValues(api).Inc()
}

// ConfigReload records a configuration reload outcome.
func (c *Collector) ConfigReload(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	c.configReloads.WithLabelValues(status).Inc()
}
