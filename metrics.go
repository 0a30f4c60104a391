// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
)

// Reasons a compaction drops a version, used as the label of
// CompactorMetrics.KeysDropped.
const (
	dropReasonDelete     = "delete"
	dropReasonStale      = "stale"
	dropReasonRangeDel   = "range_delete"
	dropReasonStateClean = "state_clean"
	dropReasonTTL        = "ttl"
)

// CompactorMetrics holds the prometheus collectors of a compactor.
type CompactorMetrics struct {
	// Tasks counts finished tasks by status.
	Tasks *prometheus.CounterVec
	// KeysDropped counts the versions dropped by compactions, by reason.
	KeysDropped  *prometheus.CounterVec
	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter
	SstsUploaded prometheus.Counter
	RunningTasks prometheus.Gauge
	TaskDuration prometheus.Histogram

	durations struct {
		sync.Mutex
		hist *hdrhistogram.Histogram
	}
}

// NewCompactorMetrics returns the metrics of a compactor. The collectors are
// registered with reg unless it is nil.
func NewCompactorMetrics(reg prometheus.Registerer) *CompactorMetrics {
	m := &CompactorMetrics{
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hummock",
			Subsystem: "compactor",
			Name:      "tasks_total",
			Help:      "Number of finished compaction tasks by status.",
		}, []string{"status"}),
		KeysDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hummock",
			Subsystem: "compactor",
			Name:      "keys_dropped_total",
			Help:      "Number of versions dropped by compactions by reason.",
		}, []string{"reason"}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hummock",
			Subsystem: "compactor",
			Name:      "read_bytes_total",
			Help:      "Size of the input tables of successful compactions.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hummock",
			Subsystem: "compactor",
			Name:      "write_bytes_total",
			Help:      "Size of the tables uploaded by compactions.",
		}),
		SstsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hummock",
			Subsystem: "compactor",
			Name:      "sst_uploaded_total",
			Help:      "Number of tables uploaded by compactions.",
		}),
		RunningTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hummock",
			Subsystem: "compactor",
			Name:      "running_tasks",
			Help:      "Number of compaction tasks running.",
		}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hummock",
			Subsystem: "compactor",
			Name:      "task_duration_seconds",
			Help:      "Duration of compaction tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 20),
		}),
	}
	// Durations from 1µs to 1h with 3 significant digits.
	m.durations.hist = hdrhistogram.New(1, int64(time.Hour/time.Microsecond), 3)
	if reg != nil {
		reg.MustRegister(m.Tasks, m.KeysDropped, m.BytesRead, m.BytesWritten,
			m.SstsUploaded, m.RunningTasks, m.TaskDuration)
	}
	return m
}

// RegisterMemoryLimiter exports the usage of a memory limiter as a gauge.
func (m *CompactorMetrics) RegisterMemoryLimiter(reg prometheus.Registerer, l *MemoryLimiter) {
	if reg == nil {
		return
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "hummock",
		Subsystem: "compactor",
		Name:      "memory_in_use_bytes",
		Help:      "Bytes of compactor memory held by running tasks.",
	}, func() float64 { return float64(l.InUse()) }))
}

func (m *CompactorMetrics) recordTask(status TaskStatus, d time.Duration) {
	m.Tasks.WithLabelValues(status.String()).Inc()
	m.TaskDuration.Observe(d.Seconds())
	m.durations.Lock()
	defer m.durations.Unlock()
	// Values out of range are dropped.
	_ = m.durations.hist.RecordValue(max(1, d.Microseconds()))
}

// TaskDurationSummary summarizes the durations of the finished tasks.
type TaskDurationSummary struct {
	Count         int64
	P50, P95, P99 time.Duration
	Max           time.Duration
}

func (s TaskDurationSummary) String() string {
	return fmt.Sprintf("tasks=%d p50=%s p95=%s p99=%s max=%s", s.Count, s.P50, s.P95, s.P99, s.Max)
}

// TaskDurations returns percentiles of the durations of the finished tasks.
func (m *CompactorMetrics) TaskDurations() TaskDurationSummary {
	m.durations.Lock()
	defer m.durations.Unlock()
	h := m.durations.hist
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return TaskDurationSummary{
		Count: h.TotalCount(),
		P50:   us(h.ValueAtQuantile(50)),
		P95:   us(h.ValueAtQuantile(95)),
		P99:   us(h.ValueAtQuantile(99)),
		Max:   us(h.Max()),
	}
}
