// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/crlib/fifo"
	"golang.org/x/sync/errgroup"
)

// CompactionExecutor is a bounded pool of workers shared by the
// sub-compactions of every running task. Workers are granted in FIFO order.
type CompactionExecutor struct {
	workers int
	sem     *fifo.Semaphore
	active  atomic.Int64
}

// NewCompactionExecutor returns an executor running at most workers
// functions at once.
func NewCompactionExecutor(workers int) *CompactionExecutor {
	if workers < 1 {
		workers = 1
	}
	return &CompactionExecutor{
		workers: workers,
		sem:     fifo.NewSemaphore(int64(workers)),
	}
}

// Workers returns the size of the pool.
func (e *CompactionExecutor) Workers() int {
	return e.workers
}

// Active returns the number of functions running.
func (e *CompactionExecutor) Active() int64 {
	return e.active.Load()
}

// Go runs fn in g once a worker is free. Waiting for a worker ends with
// ctx's error if ctx is done first.
func (e *CompactionExecutor) Go(ctx context.Context, g *errgroup.Group, fn func(ctx context.Context) error) {
	g.Go(func() error {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer e.sem.Release(1)
		e.active.Add(1)
		defer e.active.Add(-1)
		return fn(ctx)
	})
}
