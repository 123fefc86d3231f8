// Copyright 2024 The Bodhi Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package llamasrv

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsDescribeEmitsThreeDescriptors(t *testing.T) {
	mc := NewMetrics(NewManager(&stubResolver{}, "/bin/true", t.TempDir()))
	ch := make(chan *prometheus.Desc, 8)
	mc.Describe(ch)
	close(ch)
	n := 0
	for range ch {
		n++
	}
	if n != 3 {
		t.Fatalf("Describe() emitted %d descriptors, want 3", n)
	}
}

func TestMetricsCollectReportsWorkerUpWhenReady(t *testing.T) {
	m := NewManager(&stubResolver{}, "/bin/true", t.TempDir())
	m.mu.Lock()
	m.state = Ready
	m.mu.Unlock()
	mc := NewMetrics(m)

	ch := make(chan prometheus.Metric, 8)
	mc.Collect(ch)
	close(ch)

	var sawUp bool
	for metric := range ch {
		var d dto.Metric
		if err := metric.Write(&d); err != nil {
			t.Fatal(err)
		}
		if d.Gauge != nil && d.Gauge.GetValue() == 1 && len(d.Label) == 0 {
			sawUp = true
		}
	}
	if !sawUp {
		t.Fatal("expected bodhi_llama_worker_up gauge = 1 while Ready")
	}
}
