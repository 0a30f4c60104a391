// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"bytes"
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/objstorage"
	"github.com/cockroachdb/hummock/sstable"
)

// DefaultNumLevels is the number of levels of a compaction group, level 0
// included.
const DefaultNumLevels = 7

// MockMetaClient is an in-process HummockMetaClient. It holds the levels of
// every compaction group, assigns at most one task per group at a time and
// applies reported results exactly once.
type MockMetaClient struct {
	numLevels   int
	unavailable atomic.Bool

	mu struct {
		sync.Mutex
		nextObjectID uint64
		nextTaskID   uint64
		groups       map[CompactionGroupID]*mockGroup
		assigned     map[uint64]*CompactTask
		watermark    Epoch
		epochTime    Epoch
		filterMask   CompactionFilterMask
		stats        sstable.TableStatsMap
	}
}

type mockGroup struct {
	levels       [][]*sstable.SstableInfo
	tables       map[TableID]struct{}
	tableOptions map[TableID]TableOption
	busy         bool
}

var _ HummockMetaClient = (*MockMetaClient)(nil)

// NewMockMetaClient returns a client whose groups have numLevels levels
// (DefaultNumLevels if zero).
func NewMockMetaClient(numLevels int) *MockMetaClient {
	if numLevels <= 0 {
		numLevels = DefaultNumLevels
	}
	c := &MockMetaClient{numLevels: numLevels}
	c.mu.nextObjectID = 1
	c.mu.nextTaskID = 1
	c.mu.groups = make(map[CompactionGroupID]*mockGroup)
	c.mu.assigned = make(map[uint64]*CompactTask)
	c.mu.stats = make(sstable.TableStatsMap)
	return c
}

func (c *MockMetaClient) groupLocked(id CompactionGroupID) *mockGroup {
	g, ok := c.mu.groups[id]
	if !ok {
		g = &mockGroup{
			levels:       make([][]*sstable.SstableInfo, c.numLevels),
			tables:       make(map[TableID]struct{}),
			tableOptions: make(map[TableID]TableOption),
		}
		c.mu.groups[id] = g
	}
	return g
}

// SetUnavailable simulates losing connectivity to the metadata service.
func (c *MockMetaClient) SetUnavailable(v bool) {
	c.unavailable.Store(v)
}

func (c *MockMetaClient) checkAvailable() error {
	if c.unavailable.Load() {
		return base.MarkConnectivityError(errors.New("meta service unavailable"))
	}
	return nil
}

// RegisterTables adds state tables to a compaction group.
func (c *MockMetaClient) RegisterTables(group CompactionGroupID, ids ...TableID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.groupLocked(group)
	for _, id := range ids {
		g.tables[id] = struct{}{}
	}
}

// UnregisterTables removes state tables from a compaction group, as when
// they are dropped. Their keys are reclaimed by later compactions.
func (c *MockMetaClient) UnregisterTables(group CompactionGroupID, ids ...TableID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.groupLocked(group)
	for _, id := range ids {
		delete(g.tables, id)
		delete(g.tableOptions, id)
	}
}

// SetTableOption sets the options of a registered table.
func (c *MockMetaClient) SetTableOption(group CompactionGroupID, id TableID, opt TableOption) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groupLocked(group).tableOptions[id] = opt
}

// SetWatermark sets the watermark of subsequently assigned tasks.
func (c *MockMetaClient) SetWatermark(e Epoch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.watermark = e
}

// SetCurrentEpochTime sets the epoch subsequently assigned tasks measure
// retention from.
func (c *MockMetaClient) SetCurrentEpochTime(e Epoch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.epochTime = e
}

// SetCompactionFilterMask sets the filters of subsequently assigned tasks.
func (c *MockMetaClient) SetCompactionFilterMask(m CompactionFilterMask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.filterMask = m
}

// CommitTables adds newly flushed tables to level 0 of a group, newest last.
func (c *MockMetaClient) CommitTables(group CompactionGroupID, ssts ...sstable.SstableInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.groupLocked(group)
	for i := range ssts {
		sst := ssts[i]
		g.levels[0] = append(g.levels[0], &sst)
	}
}

// Levels returns a copy of the tables of every level of a group.
func (c *MockMetaClient) Levels(group CompactionGroupID) [][]sstable.SstableInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.groupLocked(group)
	res := make([][]sstable.SstableInfo, len(g.levels))
	for i, l := range g.levels {
		for _, sst := range l {
			res[i] = append(res[i], *sst)
		}
	}
	return res
}

// Tables returns every table of a group, level 0 first.
func (c *MockMetaClient) Tables(group CompactionGroupID) []sstable.SstableInfo {
	var res []sstable.SstableInfo
	for _, l := range c.Levels(group) {
		res = append(res, l...)
	}
	return res
}

// TableStats returns the accumulated stats reported with task results.
func (c *MockMetaClient) TableStats() sstable.TableStatsMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make(sstable.TableStatsMap)
	res.Merge(c.mu.stats)
	return res
}

// CompactionGroupIDs implements HummockMetaClient.
func (c *MockMetaClient) CompactionGroupIDs(ctx context.Context) ([]CompactionGroupID, error) {
	if err := c.checkAvailable(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := slices.Collect(maps.Keys(c.mu.groups))
	slices.Sort(ids)
	return ids, nil
}

// GetCompactTask implements HummockMetaClient. Tables holding only keys of
// unregistered tables are removed from the version without a task.
func (c *MockMetaClient) GetCompactTask(
	ctx context.Context, group CompactionGroupID, selector TaskSelector,
) (*CompactTask, error) {
	if err := c.checkAvailable(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.mu.groups[group]
	if !ok || g.busy {
		return nil, nil
	}
	c.reclaimDroppedLocked(g)
	inputs, target, ok := selector.SelectTask(g.levels)
	if !ok {
		return nil, nil
	}
	task := &CompactTask{
		TaskID:               c.mu.nextTaskID,
		CompactionGroupID:    group,
		TargetLevel:          target,
		Watermark:            c.mu.watermark,
		GCDeleteKeys:         target == c.numLevels-1,
		CompactionFilterMask: c.mu.filterMask,
		TableOptions:         maps.Clone(g.tableOptions),
		CurrentEpochTime:     c.mu.epochTime,
		ExistingTableIDs:     slices.Sorted(maps.Keys(g.tables)),
	}
	for _, in := range inputs {
		task.InputSsts = append(task.InputSsts, InputLevel{
			LevelIdx: in.LevelIdx,
			Tables:   slices.Clone(in.Tables),
		})
	}
	c.mu.nextTaskID++
	c.mu.assigned[task.TaskID] = task
	g.busy = true
	return task, nil
}

func (c *MockMetaClient) reclaimDroppedLocked(g *mockGroup) {
	for i, l := range g.levels {
		g.levels[i] = slices.DeleteFunc(l, func(sst *sstable.SstableInfo) bool {
			for _, id := range sst.TableIDs {
				if _, ok := g.tables[id]; ok {
					return false
				}
			}
			return true
		})
	}
}

// ReportCompactTask implements HummockMetaClient.
func (c *MockMetaClient) ReportCompactTask(
	ctx context.Context, result *CompactTaskResult, stats sstable.TableStatsMap,
) error {
	if err := c.checkAvailable(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.mu.assigned[result.TaskID]
	if !ok {
		return errors.Newf("compaction task %d is not assigned", result.TaskID)
	}
	delete(c.mu.assigned, result.TaskID)
	g := c.groupLocked(task.CompactionGroupID)
	g.busy = false
	if result.Status != TaskSuccess {
		return nil
	}
	inputs := make(map[uint64]struct{})
	for _, id := range task.InputObjectIDs() {
		inputs[id] = struct{}{}
	}
	for i, l := range g.levels {
		g.levels[i] = slices.DeleteFunc(l, func(sst *sstable.SstableInfo) bool {
			_, ok := inputs[sst.ObjectID]
			return ok
		})
	}
	target := g.levels[task.TargetLevel]
	for i := range result.OutputSsts {
		sst := result.OutputSsts[i]
		target = append(target, &sst)
	}
	if task.TargetLevel > 0 {
		slices.SortFunc(target, func(a, b *sstable.SstableInfo) int {
			return bytes.Compare(a.KeyRange.Left, b.KeyRange.Left)
		})
	}
	g.levels[task.TargetLevel] = target
	c.mu.stats.Merge(stats)
	return nil
}

// ReserveObjectIDs makes every id up to and including id unavailable to
// GetNewSstIDs, as when tables written elsewhere are committed.
func (c *MockMetaClient) ReserveObjectIDs(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.nextObjectID = max(c.mu.nextObjectID, id+1)
}

// GetNewSstIDs implements HummockMetaClient.
func (c *MockMetaClient) GetNewSstIDs(ctx context.Context, count uint32) (SstIDRange, error) {
	if err := c.checkAvailable(); err != nil {
		return SstIDRange{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r := SstIDRange{Start: c.mu.nextObjectID, End: c.mu.nextObjectID + uint64(count)}
	c.mu.nextObjectID = r.End
	return r, nil
}

// CollectGarbage deletes the table objects of the store that no version
// references and whose id is below objectIDWatermark. Outputs of failed or
// cancelled tasks are reclaimed this way. It returns the deleted ids.
func (c *MockMetaClient) CollectGarbage(
	ctx context.Context, store *sstable.Store, dataDir string, objectIDWatermark uint64,
) ([]uint64, error) {
	objects, err := store.ObjectStore().List(ctx, dataDir)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	live := make(map[uint64]struct{})
	for _, g := range c.mu.groups {
		for _, l := range g.levels {
			for _, sst := range l {
				live[sst.ObjectID] = struct{}{}
			}
		}
	}
	for _, task := range c.mu.assigned {
		for _, id := range task.InputObjectIDs() {
			live[id] = struct{}{}
		}
	}
	c.mu.Unlock()

	var deleted []uint64
	for _, o := range objects {
		id, ok := objstorage.ParseSstablePath(o.Path)
		if !ok || id >= objectIDWatermark {
			continue
		}
		if _, ok := live[id]; ok {
			continue
		}
		if err := store.Delete(ctx, id); err != nil {
			return deleted, err
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}
