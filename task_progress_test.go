// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskProgressManager(t *testing.T) {
	m := NewTaskProgressManager()
	require.Zero(t, m.Len())
	require.Empty(t, m.Snapshot())

	p9 := m.Register(9)
	p3 := m.Register(3)
	require.Same(t, p9, m.Register(9))
	require.Equal(t, 2, m.Len())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p9.KeysProcessed.Add(1)
				p3.BytesWritten.Add(2)
			}
		}()
	}
	wg.Wait()
	p9.KeysDropped.Store(5)
	p3.SstsUploaded.Store(1)

	require.Equal(t, []TaskProgressSnapshot{
		{TaskID: 3, SstsUploaded: 1, BytesWritten: 1600},
		{TaskID: 9, KeysProcessed: 800, KeysDropped: 5},
	}, m.Snapshot())

	m.Unregister(9)
	m.Unregister(100)
	require.Equal(t, 1, m.Len())
	require.Equal(t, uint64(3), m.Snapshot()[0].TaskID)
}
