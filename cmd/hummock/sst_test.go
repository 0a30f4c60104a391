// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/objstorage"
	"github.com/cockroachdb/hummock/sstable"
	"github.com/stretchr/testify/require"
)

func TestVerifyTable(t *testing.T) {
	ctx := context.Background()
	fs, err := objstorage.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	storeOpts := sstable.StoreOptions{DataDirectory: "hummock_001"}
	store := sstable.NewStore(fs, storeOpts)

	const id = 7
	opts := sstable.DefaultBuilderOptions()
	opts.BlockCapacity = 512
	b := sstable.NewBuilder(id, sstable.NewUploadWriter(store, id, sstable.CachePolicyDisable, 0),
		opts, sstable.FullKeyExtractor{})
	for i := 0; i < 200; i++ {
		key := base.MakeFullKey(1, []byte(fmt.Sprintf("key-%03d", i)), 10)
		require.NoError(t, b.Add(key, base.PutValue([]byte("value")), true))
	}
	out, err := b.Finish(ctx)
	require.NoError(t, err)
	require.Equal(t, "1:key-000@10", formatKey(out.Info.KeyRange.Left))
	require.Equal(t, "-", formatKey(nil))

	blocks, keys, err := verifyTable(ctx, sstable.NewStore(fs, storeOpts), id)
	require.NoError(t, err)
	require.Greater(t, blocks, 1)
	require.Equal(t, 200, keys)

	// Flip a byte of the first block.
	path := store.ObjectPath(id)
	data, err := fs.Read(ctx, path, 0, -1)
	require.NoError(t, err)
	data[10] ^= 0xff
	require.NoError(t, fs.Upload(ctx, path, data))
	_, _, err = verifyTable(ctx, sstable.NewStore(fs, storeOpts), id)
	require.Error(t, err)
	require.True(t, errors.Is(err, base.ErrCorruption), "%v", err)

	_, _, err = verifyTable(ctx, sstable.NewStore(fs, storeOpts), 8)
	require.Error(t, err)
}

func TestParseObjectIDs(t *testing.T) {
	require.Equal(t, []uint64{1, 20, 300}, parseObjectIDs([]string{"1", "20", "300"}))
}
