// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package objstorage

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestSstablePath(t *testing.T) {
	require.Equal(t, "hummock_001/42.sst", SstablePath("hummock_001", 42))
	id, ok := ParseSstablePath(SstablePath("hummock_001", 42))
	require.True(t, ok)
	require.Equal(t, uint64(42), id)
	_, ok = ParseSstablePath("hummock_001/42.sst.tmp")
	require.False(t, ok)
	_, ok = ParseSstablePath("hummock_001/manifest.sst")
	require.False(t, ok)
}

func testObjectStore(t *testing.T, s ObjectStore) {
	ctx := context.Background()
	require.NoError(t, s.Upload(ctx, "data/1.sst", []byte("hello world")))
	require.NoError(t, s.Upload(ctx, "data/2.sst", []byte("foo")))
	require.NoError(t, s.Upload(ctx, "other/3.sst", []byte("bar")))

	b, err := s.Read(ctx, "data/1.sst", 6, 5)
	require.NoError(t, err)
	require.Equal(t, "world", string(b))

	b, err = s.Read(ctx, "data/1.sst", 0, -1)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(b))

	_, err = s.Read(ctx, "data/1.sst", 8, 10)
	require.Error(t, err)

	_, err = s.Read(ctx, "data/9.sst", 0, 1)
	require.True(t, errors.Is(err, ErrObjectNotFound))

	m, err := s.Metadata(ctx, "data/2.sst")
	require.NoError(t, err)
	require.Equal(t, int64(3), m.Size)

	list, err := s.List(ctx, "data/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "data/1.sst", list[0].Path)
	require.Equal(t, "data/2.sst", list[1].Path)

	require.NoError(t, s.Delete(ctx, "data/1.sst"))
	require.NoError(t, s.Delete(ctx, "data/1.sst"))
	_, err = s.Metadata(ctx, "data/1.sst")
	require.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestInMemory(t *testing.T) {
	testObjectStore(t, NewInMemory())
}

func TestLocalFS(t *testing.T) {
	s, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	testObjectStore(t, s)
}

func TestRateLimited(t *testing.T) {
	mem := NewInMemory()
	require.Equal(t, ObjectStore(mem), NewRateLimited(mem, 0))

	s := NewRateLimited(mem, 1<<20)
	testObjectStore(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The bucket starts full, so a large upload first drains it and the next
	// one has to wait and observes the cancellation.
	_ = s.Upload(context.Background(), "big", make([]byte, 4<<20))
	require.ErrorIs(t, s.Upload(ctx, "big2", make([]byte, 1<<20)), context.Canceled)
}
