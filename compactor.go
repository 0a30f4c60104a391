// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/objstorage"
	"github.com/cockroachdb/hummock/sstable"
)

// Compactor polls the metadata service for compaction tasks, runs them and
// reports their results.
type Compactor struct {
	opts   *Options
	cctx   *CompactorContext
	client HummockMetaClient
	ids    *SstObjectIDManager

	wg sync.WaitGroup
	mu struct {
		sync.Mutex
		// cancels holds the cancel functions of the running tasks.
		cancels map[uint64]context.CancelFunc
	}
}

// NewCompactor returns a compactor storing tables in objects. The options are
// completed with their defaults and validated.
func NewCompactor(opts *Options, objects objstorage.ObjectStore, client HummockMetaClient) (*Compactor, error) {
	if opts == nil {
		opts = &Options{}
	}
	opts.EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.ObjectStoreUploadBytesPerSec > 0 {
		objects = objstorage.NewRateLimited(objects, opts.ObjectStoreUploadBytesPerSec)
	}
	store := sstable.NewStore(objects, opts.MakeStoreOptions())
	c := &Compactor{
		opts:   opts,
		cctx:   NewCompactorContext(opts, store),
		client: client,
		ids:    NewSstObjectIDManager(client, opts.SstableIDRemoteFetchNumber),
	}
	c.mu.cancels = make(map[uint64]context.CancelFunc)
	return c, nil
}

// Context returns the state shared by the tasks of the compactor.
func (c *Compactor) Context() *CompactorContext {
	return c.cctx
}

// Store returns the table store of the compactor.
func (c *Compactor) Store() *sstable.Store {
	return c.cctx.Store
}

// IDManager returns the object id manager of the compactor.
func (c *Compactor) IDManager() *SstObjectIDManager {
	return c.ids
}

// RunningTaskCount returns the number of tasks being compacted.
func (c *Compactor) RunningTaskCount() int64 {
	return c.cctx.RunningTaskCount()
}

// Run polls for tasks every PollInterval until ctx is done, then waits for
// the running tasks.
func (c *Compactor) Run(ctx context.Context) error {
	defer c.Wait()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			c.opts.EventListener.BackgroundError(err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll asks every compaction group for a task while fewer than
// MaxConcurrentTasks tasks are running, and starts the tasks in the
// background. It returns the number of tasks started.
func (c *Compactor) Poll(ctx context.Context) (int, error) {
	groups, err := c.client.CompactionGroupIDs(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "listing compaction groups")
	}
	var started int
	for _, g := range groups {
		if c.numTasks() >= c.opts.MaxConcurrentTasks {
			break
		}
		task, err := c.client.GetCompactTask(ctx, g, c.opts.TaskSelector)
		if err != nil {
			return started, errors.Wrapf(err, "getting task of group %d", g)
		}
		if task == nil {
			continue
		}
		taskCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.mu.cancels[task.TaskID] = cancel
		c.mu.Unlock()
		started++
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer c.forget(task.TaskID)
			if _, err := c.runAndReport(taskCtx, task); err != nil {
				c.opts.EventListener.BackgroundError(err)
			}
		}()
	}
	return started, nil
}

// RunTask runs a task synchronously and reports its result.
func (c *Compactor) RunTask(ctx context.Context, task *CompactTask) (*CompactTaskResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.mu.cancels[task.TaskID] = cancel
	c.mu.Unlock()
	defer c.forget(task.TaskID)
	return c.runAndReport(ctx, task)
}

func (c *Compactor) runAndReport(ctx context.Context, task *CompactTask) (*CompactTaskResult, error) {
	// Outputs are protected from garbage collection until reported.
	tracker, err := c.ids.AddWatermarkTracker(ctx)
	var result *CompactTaskResult
	var stats sstable.TableStatsMap
	if err != nil {
		result = &CompactTaskResult{
			TaskID:            task.TaskID,
			CompactionGroupID: task.CompactionGroupID,
			Status:            TaskFailed,
			InputObjectIDs:    task.InputObjectIDs(),
			Err:               err,
		}
	} else {
		defer c.ids.RemoveWatermarkTracker(tracker)
		result, stats = Compact(ctx, c.cctx, task, c.ids)
	}
	if result.Err != nil {
		c.opts.Logger.Errorf("compaction task %d %s: %v", task.TaskID, result.Status, result.Err)
	}
	// The report must reach the metadata service even if the task was
	// cancelled.
	reportCtx := context.WithoutCancel(ctx)
	if err := c.client.ReportCompactTask(reportCtx, result, stats); err != nil {
		return result, errors.Wrapf(err, "reporting compaction task %d", task.TaskID)
	}
	return result, nil
}

// CancelTask cancels a running task. It returns false if the task is not
// running on this compactor.
func (c *Compactor) CancelTask(taskID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.mu.cancels[taskID]
	if ok {
		cancel()
	}
	return ok
}

func (c *Compactor) forget(taskID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.mu.cancels[taskID]; ok {
		cancel()
		delete(c.mu.cancels, taskID)
	}
}

func (c *Compactor) numTasks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mu.cancels)
}

// Wait blocks until the tasks started by Poll are done.
func (c *Compactor) Wait() {
	c.wg.Wait()
}

// GarbageCollector finds the table objects no version references.
type GarbageCollector interface {
	CollectGarbage(ctx context.Context, store *sstable.Store, dataDir string, objectIDWatermark uint64) ([]uint64, error)
}

// CollectGarbage deletes the unreferenced table objects older than every
// task running on the compactor.
func (c *Compactor) CollectGarbage(ctx context.Context, gc GarbageCollector) ([]uint64, error) {
	deleted, err := gc.CollectGarbage(ctx, c.cctx.Store, c.opts.DataDirectory, c.ids.Watermark())
	for _, id := range deleted {
		c.opts.EventListener.TableDeleted(TableDeleteInfo{ObjectID: id})
	}
	return deleted, err
}
