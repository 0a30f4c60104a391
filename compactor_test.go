// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func testVersions(tableID TableID, n int, epoch Epoch) []testVersion {
	res := make([]testVersion, n)
	for i := range res {
		res[i] = testVersion{
			key:   MakeFullKey(tableID, []byte(fmt.Sprintf("key-%03d", i)), epoch),
			value: PutValue([]byte(fmt.Sprintf("value-%d", epoch))),
		}
	}
	return res
}

func TestCompactorPoll(t *testing.T) {
	opts := testOptions(t)
	opts.MaxConcurrentTasks = 1
	e := newTestEnv(t, 3, opts)
	ctx := context.Background()

	const otherGroup CompactionGroupID = 3
	e.commitTable(testVersions(1, 10, 5))
	other := e.writeTable(testVersions(2, 10, 5))
	e.client.RegisterTables(otherGroup, 2)
	e.client.CommitTables(otherGroup, other)

	// At most one task runs at a time.
	started, err := e.compactor.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, started)
	e.compactor.Wait()
	started, err = e.compactor.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, started)
	e.compactor.Wait()

	for _, g := range []CompactionGroupID{testGroup, otherGroup} {
		levels := e.client.Levels(g)
		require.Empty(t, levels[0])
		require.Len(t, levels[1], 1)
	}
	require.Zero(t, e.compactor.RunningTaskCount())

	// Nothing is left to compact into level 1.
	started, err = e.compactor.Poll(ctx)
	require.NoError(t, err)
	require.Zero(t, started)
}

func TestCompactorPollUnavailable(t *testing.T) {
	e := newTestEnv(t, 2, nil)
	e.client.SetUnavailable(true)
	_, err := e.compactor.Poll(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConnectivity))
}

func TestCompactorRun(t *testing.T) {
	opts := testOptions(t)
	opts.PollInterval = 5 * time.Millisecond
	var mu sync.Mutex
	var created []TableCreateInfo
	opts.EventListener = &EventListener{
		TableCreated: func(info TableCreateInfo) {
			mu.Lock()
			defer mu.Unlock()
			created = append(created, info)
		},
	}
	e := newTestEnv(t, 2, opts)
	e.commitTable(testVersions(1, 100, 7))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.compactor.Run(ctx) }()
	require.Eventually(t, func() bool {
		levels := e.client.Levels(testGroup)
		return len(levels[0]) == 0 && len(levels[1]) > 0
	}, 10*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, created, len(e.level(1)))
	require.Equal(t, e.level(1)[0].ObjectID, created[0].ObjectID)
	require.Equal(t, e.level(1)[0].FileSize, created[0].FileSize)
}

func TestCompactorCancelUnknownTask(t *testing.T) {
	e := newTestEnv(t, 2, nil)
	require.False(t, e.compactor.CancelTask(42))
}

func TestCompactorReportUnassigned(t *testing.T) {
	e := newTestEnv(t, 2, nil)
	e.commitTable(testVersions(1, 3, 1))
	task := &CompactTask{
		TaskID:            77,
		CompactionGroupID: testGroup,
		InputSsts:         []InputLevel{{LevelIdx: 0, Tables: e.level(0)}},
		TargetLevel:       1,
	}
	result, err := e.compactor.RunTask(context.Background(), task)
	require.Error(t, err)
	require.Equal(t, TaskSuccess, result.Status)
	require.Contains(t, err.Error(), "is not assigned")
}

func TestCompactorCollectGarbage(t *testing.T) {
	opts := testOptions(t)
	var deletedEvents []uint64
	opts.EventListener = &EventListener{
		TableDeleted: func(info TableDeleteInfo) {
			deletedEvents = append(deletedEvents, info.ObjectID)
		},
	}
	e := newTestEnv(t, 2, opts)
	ctx := context.Background()
	live := e.commitTable(testVersions(1, 5, 1))

	// A table written after a tracker registered is protected until the
	// tracker is removed.
	ids := e.compactor.IDManager()
	tracker, err := ids.AddWatermarkTracker(ctx)
	require.NoError(t, err)
	orphan := e.writeTable(testVersions(1, 5, 2))
	require.Greater(t, orphan.ObjectID, ids.Watermark())

	deleted, err := e.compactor.CollectGarbage(ctx, e.client)
	require.NoError(t, err)
	require.Empty(t, deleted)
	require.Equal(t, 2, e.objects.Len())

	ids.RemoveWatermarkTracker(tracker)
	deleted, err = e.compactor.CollectGarbage(ctx, e.client)
	require.NoError(t, err)
	require.Equal(t, []uint64{orphan.ObjectID}, deleted)
	require.Equal(t, []uint64{orphan.ObjectID}, deletedEvents)
	require.Equal(t, 1, e.objects.Len())

	_, err = e.compactor.Store().OpenSstable(ctx, live.ObjectID)
	require.NoError(t, err)
}

// The inputs of a compaction survive garbage collection while the task runs
// and are collected once the outputs replace them.
func TestCompactorCollectGarbageAfterCompaction(t *testing.T) {
	e := newTestEnv(t, 2, nil)
	ctx := context.Background()
	input := e.commitTable(testVersions(1, 5, 1))

	task, err := e.client.GetCompactTask(ctx, testGroup, ManualTaskSelector{Level: 0})
	require.NoError(t, err)
	deleted, err := e.compactor.CollectGarbage(ctx, e.client)
	require.NoError(t, err)
	require.Empty(t, deleted)

	result, err := e.compactor.RunTask(ctx, task)
	require.NoError(t, err)
	require.Equal(t, TaskSuccess, result.Status)

	deleted, err = e.compactor.CollectGarbage(ctx, e.client)
	require.NoError(t, err)
	require.Equal(t, []uint64{input.ObjectID}, deleted)
	require.Equal(t, len(result.OutputSsts), e.objects.Len())
}
