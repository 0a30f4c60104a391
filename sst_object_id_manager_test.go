// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// countingMetaClient counts the id batches requested from the metadata
// service.
type countingMetaClient struct {
	*MockMetaClient
	fetches atomic.Int64
}

func (c *countingMetaClient) GetNewSstIDs(ctx context.Context, count uint32) (SstIDRange, error) {
	c.fetches.Add(1)
	return c.MockMetaClient.GetNewSstIDs(ctx, count)
}

func TestSstObjectIDManagerUnique(t *testing.T) {
	const workers, perWorker, batch = 8, 500, 7
	client := &countingMetaClient{MockMetaClient: NewMockMetaClient(0)}
	m := NewSstObjectIDManager(client, batch)

	var mu sync.Mutex
	seen := make(map[uint64]struct{})
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			ids := make([]uint64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				id, err := m.GetNewSstObjectID(context.Background())
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if _, ok := seen[id]; ok {
					return errors.Newf("id %d handed out twice", id)
				}
				seen[id] = struct{}{}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, seen, workers*perWorker)
	// Only one batch is requested at a time and every id of a batch is used.
	require.Equal(t, int64((workers*perWorker+batch-1)/batch), client.fetches.Load())
}

func TestSstObjectIDManagerUnavailable(t *testing.T) {
	client := NewMockMetaClient(0)
	m := NewSstObjectIDManager(client, 2)
	ctx := context.Background()
	id, err := m.GetNewSstObjectID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	client.SetUnavailable(true)
	// The local batch is still served.
	id, err = m.GetNewSstObjectID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), id)
	_, err = m.GetNewSstObjectID(ctx)
	require.True(t, errors.Is(err, ErrConnectivity))

	client.SetUnavailable(false)
	id, err = m.GetNewSstObjectID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), id)
}

func TestSstObjectIDManagerWatermark(t *testing.T) {
	m := NewSstObjectIDManager(NewMockMetaClient(0), 10)
	ctx := context.Background()
	require.Equal(t, uint64(math.MaxUint64), m.Watermark())

	t1, err := m.AddWatermarkTracker(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), m.Watermark())
	_, err = m.GetNewSstObjectID(ctx)
	require.NoError(t, err)
	t2, err := m.AddWatermarkTracker(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), m.Watermark())

	m.RemoveWatermarkTracker(t1)
	require.Equal(t, uint64(3), m.Watermark())
	m.RemoveWatermarkTracker(t2)
	require.Equal(t, uint64(math.MaxUint64), m.Watermark())
}
