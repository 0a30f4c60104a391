// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/swiss"
)

// TaskProgress holds the progress counters of a running task. The counters
// are updated by the task and may be read concurrently.
type TaskProgress struct {
	KeysProcessed atomic.Int64
	KeysDropped   atomic.Int64
	SstsUploaded  atomic.Int64
	BytesWritten  atomic.Int64
}

// TaskProgressSnapshot is a point in time copy of a TaskProgress.
type TaskProgressSnapshot struct {
	TaskID        uint64
	KeysProcessed int64
	KeysDropped   int64
	SstsUploaded  int64
	BytesWritten  int64
}

// TaskProgressManager tracks the progress of the tasks running on a
// compactor, keyed by task id.
type TaskProgressManager struct {
	mu struct {
		sync.Mutex
		tasks swiss.Map[uint64, *TaskProgress]
	}
}

// NewTaskProgressManager returns an empty manager.
func NewTaskProgressManager() *TaskProgressManager {
	m := &TaskProgressManager{}
	m.mu.tasks.Init(16)
	return m
}

// Register starts tracking a task and returns its counters. Registering a
// task twice returns the same counters.
func (m *TaskProgressManager) Register(taskID uint64) *TaskProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.mu.tasks.Get(taskID); ok {
		return p
	}
	p := &TaskProgress{}
	m.mu.tasks.Put(taskID, p)
	return p
}

// Unregister stops tracking a task.
func (m *TaskProgressManager) Unregister(taskID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mu.tasks.Delete(taskID)
}

// Len returns the number of tracked tasks.
func (m *TaskProgressManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.tasks.Len()
}

// Snapshot returns the progress of every tracked task, ordered by task id.
func (m *TaskProgressManager) Snapshot() []TaskProgressSnapshot {
	m.mu.Lock()
	var res []TaskProgressSnapshot
	m.mu.tasks.All(func(id uint64, p *TaskProgress) bool {
		res = append(res, TaskProgressSnapshot{
			TaskID:        id,
			KeysProcessed: p.KeysProcessed.Load(),
			KeysDropped:   p.KeysDropped.Load(),
			SstsUploaded:  p.SstsUploaded.Load(),
			BytesWritten:  p.BytesWritten.Load(),
		})
		return true
	})
	m.mu.Unlock()
	slices.SortFunc(res, func(a, b TaskProgressSnapshot) int {
		return cmp.Compare(a.TaskID, b.TaskID)
	})
	return res
}
