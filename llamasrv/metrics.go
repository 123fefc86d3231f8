// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package llamasrv

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics adapts a Manager to prometheus.Collector, re-exporting the
// manager's own reload bookkeeping as gauges/counters a server's
// /metrics endpoint can scrape. This is grounded on the teacher's
// worker-health reporting intent, re-expressed with client_golang's
// constant-metric pattern rather than by re-parsing the worker's own
// Prometheus text exposition.
type Metrics struct {
	m *Manager

	up      *prometheus.Desc
	state   *prometheus.Desc
	reloads *prometheus.Desc
}

// NewMetrics wraps m for registration with a prometheus.Registry.
func NewMetrics(m *Manager) *Metrics {
	return &Metrics{
		m:       m,
		up:      prometheus.NewDesc("bodhi_llama_worker_up", "1 if a llama-server worker is ready, 0 otherwise.", nil, nil),
		state:   prometheus.NewDesc("bodhi_llama_worker_state", "Current inference context manager state.", []string{"state"}, nil),
		reloads: prometheus.NewDesc("bodhi_llama_worker_reloads_total", "Number of times a worker has been (re)started.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (mc *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- mc.up
	ch <- mc.state
	ch <- mc.reloads
}

// Collect implements prometheus.Collector.
func (mc *Metrics) Collect(ch chan<- prometheus.Metric) {
	mc.m.mu.RLock()
	state := mc.m.state
	reloadCount := mc.m.reloadCount
	mc.m.mu.RUnlock()

	up := 0.0
	if state == Ready {
		up = 1.0
	}
	ch <- prometheus.MustNewConstMetric(mc.up, prometheus.GaugeValue, up)
	ch <- prometheus.MustNewConstMetric(mc.state, prometheus.GaugeValue, 1, state.String())
	ch <- prometheus.MustNewConstMetric(mc.reloads, prometheus.CounterValue, float64(reloadCount))
}
