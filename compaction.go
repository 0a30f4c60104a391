// Copyright 2013 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hummock

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/sstable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/cockroachdb/hummock")

// cancelCheckInterval is the number of versions between two checks of the
// task's context in the merge loop. Block loads check it too.
const cancelCheckInterval = 1024

// CompactorContext holds the state shared by the tasks of a compactor.
type CompactorContext struct {
	Options             *Options
	Store               *sstable.Store
	MemoryLimiter       *MemoryLimiter
	Executor            *CompactionExecutor
	FilterKeyExtractors *sstable.FilterKeyExtractorManager
	TaskProgress        *TaskProgressManager
	Metrics             *CompactorMetrics

	runningTasks atomic.Int64
}

// NewCompactorContext returns the shared state of a compactor. EnsureDefaults
// must have been called on opts.
func NewCompactorContext(opts *Options, store *sstable.Store) *CompactorContext {
	c := &CompactorContext{
		Options:             opts,
		Store:               store,
		MemoryLimiter:       NewMemoryLimiter(opts.CompactorMemoryLimit),
		Executor:            NewCompactionExecutor(opts.CompactionWorkerThreads),
		FilterKeyExtractors: sstable.NewFilterKeyExtractorManager(),
		TaskProgress:        NewTaskProgressManager(),
		Metrics:             NewCompactorMetrics(opts.MetricsRegisterer),
	}
	c.Metrics.RegisterMemoryLimiter(opts.MetricsRegisterer, c.MemoryLimiter)
	return c
}

// RunningTaskCount returns the number of tasks being compacted.
func (c *CompactorContext) RunningTaskCount() int64 {
	return c.runningTasks.Load()
}

// Compact runs a compaction task: it merges the input tables, drops the
// versions no reader can observe and writes the survivors to new tables
// whose ids are allocated by ids. It returns the result to report and the
// change of the per-table stats.
//
// A failed or cancelled task has no outputs. Tables it already uploaded are
// left to garbage collection.
func Compact(
	ctx context.Context, cctx *CompactorContext, task *CompactTask, ids *SstObjectIDManager,
) (*CompactTaskResult, sstable.TableStatsMap) {
	ctx, span := tracer.Start(ctx, "hummock.compact", trace.WithAttributes(
		attribute.Int64("task_id", int64(task.TaskID)),
		attribute.Int64("compaction_group_id", int64(task.CompactionGroupID)),
		attribute.Int("target_level", task.TargetLevel),
	))
	defer span.End()

	opts := cctx.Options
	start := crtime.NowMono()
	cctx.runningTasks.Add(1)
	cctx.Metrics.RunningTasks.Inc()
	defer func() {
		cctx.runningTasks.Add(-1)
		cctx.Metrics.RunningTasks.Dec()
	}()

	info := makeCompactionInfo(task)
	opts.EventListener.CompactionBegin(info)

	c := newCompaction(cctx, task, ids)
	defer cctx.TaskProgress.Unregister(task.TaskID)
	outputs, err := c.run(ctx)

	result := &CompactTaskResult{
		TaskID:            task.TaskID,
		CompactionGroupID: task.CompactionGroupID,
		InputObjectIDs:    task.InputObjectIDs(),
	}
	info.Duration = start.Elapsed()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
			result.Status = TaskCancelled
			err = errors.Mark(err, ErrCancelled)
		} else {
			result.Status = TaskFailed
		}
		result.Err = errors.Wrapf(err, "compaction task %d", errors.Safe(task.TaskID))
		span.RecordError(err)
		span.SetStatus(codes.Error, result.Status.String())
		info.Status, info.Err = result.Status, result.Err
		cctx.Metrics.recordTask(result.Status, info.Duration)
		opts.EventListener.CompactionEnd(info)
		return result, nil
	}

	result.Status = TaskSuccess
	result.OutputSsts = outputs
	var read uint64
	for _, sst := range task.inputTables() {
		read += sst.FileSize
	}
	cctx.Metrics.BytesRead.Add(float64(read))
	c.recordDropped()
	cctx.Metrics.recordTask(result.Status, info.Duration)
	span.SetAttributes(attribute.Int("output_ssts", len(outputs)))
	info.Status = result.Status
	info.Output = outputs
	opts.EventListener.CompactionEnd(info)
	return result, c.stats
}

// keyRange is the user key range [start, end) of a sub-compaction. Nil
// bounds are unbounded.
type keyRange struct {
	start, end *base.UserKey
}

type inputLevel struct {
	level  int
	tables []*sstable.Sstable
}

type compaction struct {
	cctx        *CompactorContext
	task        *CompactTask
	ids         *SstObjectIDManager
	progress    *TaskProgress
	builderOpts sstable.BuilderOptions
	extractor   sstable.FilterKeyExtractor

	levels  []inputLevel
	deletes *sstable.CompactionDeleteRanges

	mu      sync.Mutex
	stats   sstable.TableStatsMap
	dropped map[string]int64
}

func newCompaction(cctx *CompactorContext, task *CompactTask, ids *SstObjectIDManager) *compaction {
	capacity := cctx.Options.SstableSize
	if task.TargetFileSize > 0 {
		capacity = min(capacity, task.TargetFileSize)
	}
	return &compaction{
		cctx:        cctx,
		task:        task,
		ids:         ids,
		progress:    cctx.TaskProgress.Register(task.TaskID),
		builderOpts: cctx.Options.MakeBuilderOptions(capacity),
		extractor: cctx.FilterKeyExtractors.AcquireOrDefault(
			task.ExistingTableIDs, sstable.FullKeyExtractor{}),
		stats:   make(sstable.TableStatsMap),
		dropped: make(map[string]int64),
	}
}

func (c *compaction) run(ctx context.Context) ([]sstable.SstableInfo, error) {
	if len(c.task.inputTables()) == 0 {
		return nil, errors.Newf("compaction task %d has no input tables", errors.Safe(c.task.TaskID))
	}
	if err := c.openInputs(ctx); err != nil {
		return nil, err
	}
	ranges := c.splitKeyRanges()
	results := make([][]*sstable.BuilderOutput, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		c.cctx.Executor.Go(gctx, g, func(ctx context.Context) error {
			outs, err := c.runKeyRange(ctx, r)
			results[i] = outs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var outputs []sstable.SstableInfo
	for _, outs := range results {
		for _, o := range outs {
			outputs = append(outputs, o.Info)
		}
	}
	return outputs, nil
}

// openInputs reads the metas of the input tables and aggregates their delete
// ranges.
func (c *compaction) openInputs(ctx context.Context) error {
	var b sstable.CompactionDeleteRangesBuilder
	for _, l := range c.task.InputSsts {
		in := inputLevel{level: l.LevelIdx}
		for _, info := range l.Tables {
			sst, err := c.cctx.Store.Sstable(ctx, info)
			if err != nil {
				return err
			}
			b.AddMonotonicEvents(sst.Meta.MonotonicEvents)
			in.tables = append(in.tables, sst)
		}
		if l.LevelIdx > 0 {
			slices.SortFunc(in.tables, func(a, b *sstable.Sstable) int {
				return base.CompareEncodedFullKeys(a.Meta.SmallestKey, b.Meta.SmallestKey)
			})
		}
		c.levels = append(c.levels, in)
	}
	c.deletes = b.Build(c.task.Watermark, c.task.GCDeleteKeys)
	return nil
}

// splitKeyRanges divides the key space of the task into up to
// MaxSubCompaction ranges of similar input size. Split points are the
// smallest keys of input tables.
func (c *compaction) splitKeyRanges() []keyRange {
	type bound struct {
		key  base.UserKey
		size uint64
	}
	var total uint64
	var bounds []bound
	for _, t := range c.task.inputTables() {
		total += t.FileSize
		if k, err := base.DecodeFullKey(t.KeyRange.Left); err == nil {
			bounds = append(bounds, bound{key: k.UserKey, size: t.FileSize})
		}
	}
	n := min(c.cctx.Options.MaxSubCompaction, int(total/uint64(c.builderOpts.Capacity))+1)
	if n <= 1 || len(bounds) < 2 {
		return []keyRange{{}}
	}
	slices.SortFunc(bounds, func(a, b bound) int {
		return base.CompareUserKeys(a.key, b.key)
	})
	step := total / uint64(n)
	var ranges []keyRange
	var start *base.UserKey
	var acc uint64
	for _, b := range bounds {
		if acc >= step && len(ranges) < n-1 &&
			base.CompareUserKeys(b.key, bounds[0].key) > 0 &&
			(start == nil || base.CompareUserKeys(b.key, *start) > 0) {
			end := b.key.Clone()
			ranges = append(ranges, keyRange{start: start, end: &end})
			start = &end
			acc = 0
		}
		acc += b.size
	}
	return append(ranges, keyRange{start: start})
}

func (c *compaction) newIterator(ctx context.Context) *mergingIter {
	var iters []internalIterator
	for _, l := range c.levels {
		if l.level == 0 {
			for _, sst := range l.tables {
				iters = append(iters, sstable.NewIterator(ctx, c.cctx.Store, sst, sstable.CachePolicyNotFill))
			}
			continue
		}
		iters = append(iters, newConcatenatingIter(ctx, c.cctx.Store, l.tables, sstable.CachePolicyNotFill))
	}
	return newMergingIter(iters...)
}

func (c *compaction) runKeyRange(ctx context.Context, r keyRange) ([]*sstable.BuilderOutput, error) {
	iter := c.newIterator(ctx)
	defer func() { _ = iter.Close() }()
	if r.start != nil {
		iter.SeekGE(base.FullKey{UserKey: *r.start, Epoch: base.EpochMax}.Encode(nil))
	} else {
		iter.Rewind()
	}
	w := sstable.NewCapacitySplitTableBuilder(&taskBuilderFactory{c: c}, c.deletes, c.cctx.Options.SplitByTable)
	w.SetKeyRange(r.start, r.end)
	outs, err := c.compactKeyRange(ctx, iter, w, r.end)
	if err != nil {
		w.Abort()
		return nil, err
	}
	return outs, nil
}

// compactKeyRange merges the versions below end into w, dropping the
// versions no reader at or above the watermark can observe:
//
//   - deletes at or below the watermark when compacting into the bottom
//     level,
//   - versions below the watermark shadowed by a newer version at or below
//     the watermark,
//   - versions below the watermark deleted by a range tombstone at or below
//     the watermark,
//   - versions rejected by the task's compaction filters.
func (c *compaction) compactKeyRange(
	ctx context.Context, iter *mergingIter, w *sstable.CapacitySplitTableBuilder, end *base.UserKey,
) ([]*sstable.BuilderOutput, error) {
	watermark := c.task.Watermark
	filter := buildCompactionFilter(c.task)
	stateClean := c.task.CompactionFilterMask.Contains(CompactionFilterStateClean)
	cursor := c.deletes.NewCursor()
	stats := make(sstable.TableStatsMap)
	dropped := make(map[string]int64)

	var lastUserKey base.UserKey
	var lastEpoch base.Epoch
	first := true
	// watermarkCanSeeLastKey is set once a version of the current user key at
	// or below the watermark has been seen: older versions are invisible to
	// every reader.
	watermarkCanSeeLastKey := false
	var n int
	for ; iter.Valid(); iter.Next() {
		if n++; n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		key := base.MustDecodeFullKey(iter.Key())
		if end != nil && base.CompareUserKeys(key.UserKey, *end) >= 0 {
			break
		}
		isNewUserKey := first || base.CompareUserKeys(lastUserKey, key.UserKey) != 0
		if isNewUserKey {
			lastUserKey = key.UserKey.Clone()
			watermarkCanSeeLastKey = false
			cursor.Seek(key.UserKey)
			first = false
		} else if key.Epoch == lastEpoch {
			// The same version in two inputs.
			continue
		}
		lastEpoch = key.Epoch
		value, err := iter.Value()
		if err != nil {
			return nil, err
		}
		c.progress.KeysProcessed.Add(1)

		var reason string
		earliestRangeDelete := cursor.EarliestDeleteWhichCanSeeKey(key.Epoch)
		switch {
		case key.Epoch <= watermark && c.task.GCDeleteKeys && value.IsDelete():
			reason = dropReasonDelete
		case key.Epoch < watermark && watermarkCanSeeLastKey:
			reason = dropReasonStale
		case key.Epoch < watermark && earliestRangeDelete != base.EpochMax && earliestRangeDelete <= watermark:
			reason = dropReasonRangeDel
		case filter.Len() > 0 && filter.ShouldDelete(key):
			reason = dropReasonTTL
			if stateClean && !slices.Contains(c.task.ExistingTableIDs, key.UserKey.TableID) {
				reason = dropReasonStateClean
			}
		}
		if key.Epoch <= watermark {
			watermarkCanSeeLastKey = true
		}
		if reason != "" {
			dropped[reason]++
			c.progress.KeysDropped.Add(1)
			st, ok := stats[key.UserKey.TableID]
			if !ok {
				st = &sstable.TableStats{}
				stats[key.UserKey.TableID] = st
			}
			st.TotalKeyCount--
			st.TotalKeySize -= int64(key.EncodedLen())
			st.TotalValueSize -= int64(value.EncodedLen())
			continue
		}
		if err := w.Add(ctx, key, value); err != nil {
			return nil, err
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	outs, err := w.Finish(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Merge(stats)
	for r, cnt := range dropped {
		c.dropped[r] += cnt
	}
	return outs, nil
}

func (c *compaction) recordDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for r, cnt := range c.dropped {
		c.cctx.Metrics.KeysDropped.WithLabelValues(r).Add(float64(cnt))
	}
}

// taskBuilderFactory opens the output tables of a compaction. Each table
// holds a memory permit for its buffer until it is uploaded or aborted.
type taskBuilderFactory struct {
	c *compaction
}

var _ sstable.TableBuilderFactory = (*taskBuilderFactory)(nil)

// OpenBuilder implements sstable.TableBuilderFactory.
func (f *taskBuilderFactory) OpenBuilder(ctx context.Context) (*sstable.Builder, error) {
	c := f.c
	permit, err := c.cctx.MemoryLimiter.Acquire(ctx, int64(c.builderOpts.Capacity+c.builderOpts.BlockCapacity))
	if err != nil {
		return nil, err
	}
	id, err := c.ids.GetNewSstObjectID(ctx)
	if err != nil {
		permit.Release()
		return nil, err
	}
	w := &trackedWriter{
		Writer:   sstable.NewUploadWriter(c.cctx.Store, id, sstable.CachePolicyNotFill, c.builderOpts.BlockCapacity),
		c:        c,
		objectID: id,
		permit:   permit,
	}
	return sstable.NewBuilder(id, w, c.builderOpts, c.extractor), nil
}

// trackedWriter releases the memory permit of an output table once the table
// is uploaded or aborted, and records the upload.
type trackedWriter struct {
	sstable.Writer
	c        *compaction
	objectID uint64
	permit   *MemoryPermit
}

// Finish implements sstable.Writer.
func (w *trackedWriter) Finish(ctx context.Context, meta *sstable.Meta, encodedMeta []byte) error {
	err := w.Writer.Finish(ctx, meta, encodedMeta)
	w.release()
	if err != nil {
		return err
	}
	size := meta.MetaOffset + uint64(len(encodedMeta))
	c := w.c
	c.progress.SstsUploaded.Add(1)
	c.progress.BytesWritten.Add(int64(size))
	c.cctx.Metrics.SstsUploaded.Inc()
	c.cctx.Metrics.BytesWritten.Add(float64(size))
	c.cctx.Options.EventListener.TableCreated(TableCreateInfo{
		TaskID:   c.task.TaskID,
		ObjectID: w.objectID,
		FileSize: size,
	})
	return nil
}

// Abort implements sstable.Writer.
func (w *trackedWriter) Abort() {
	w.Writer.Abort()
	w.release()
}

func (w *trackedWriter) release() {
	if w.permit != nil {
		w.permit.Release()
		w.permit = nil
	}
}
