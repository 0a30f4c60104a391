// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/stretchr/testify/require"
)

func TestFilters(t *testing.T) {
	for _, kind := range []FilterKind{BloomFilter, Xor8Filter} {
		t.Run(kind.String(), func(t *testing.T) {
			const n = 10000
			w := NewFilterBuilder(kind, 0.01)
			for i := 0; i < n; i++ {
				w.AddHash(FilterHash([]byte(fmt.Sprintf("key-%d", i)), 1))
			}
			require.Greater(t, w.ApproximateLen(), 0)
			r := NewFilterReader(w.Finish())
			require.False(t, r.Empty())
			for i := 0; i < n; i++ {
				require.True(t, r.MayMatch(FilterHash([]byte(fmt.Sprintf("key-%d", i)), 1)))
			}
			var falsePositives int
			for i := n; i < 2*n; i++ {
				if r.MayMatch(FilterHash([]byte(fmt.Sprintf("key-%d", i)), 1)) {
					falsePositives++
				}
			}
			// Both filters target roughly 1%.
			require.Less(t, falsePositives, n*3/100)
		})
	}
}

func TestFilterEmpty(t *testing.T) {
	require.Nil(t, NewFilterBuilder(NoFilter, 0.01))
	for _, kind := range []FilterKind{BloomFilter, Xor8Filter} {
		w := NewFilterBuilder(kind, 0.01)
		require.Nil(t, w.Finish())
	}
	r := NewFilterReader(nil)
	require.True(t, r.Empty())
	require.True(t, r.MayMatch(42))
}

func TestFilterHashTableID(t *testing.T) {
	require.NotEqual(t, FilterHash([]byte("k"), 1), FilterHash([]byte("k"), 2))
}

func TestFilterKeyExtractorManager(t *testing.T) {
	m := NewFilterKeyExtractorManager()
	m.Update(1, FullKeyExtractor{})
	m.Update(2, FixedLengthExtractor{Len: 2})
	m.Update(3, DummyExtractor{})

	e, err := m.Acquire([]base.TableID{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 3, e.Len())
	require.Equal(t, []byte("abc"), e.Extract(base.MakeUserKey(1, []byte("abc"))))
	require.Equal(t, []byte("ab"), e.Extract(base.MakeUserKey(2, []byte("abc"))))
	require.Nil(t, e.Extract(base.MakeUserKey(3, []byte("abc"))))

	m.Remove(2)
	_, err = m.Acquire([]base.TableID{1, 2})
	require.Error(t, err)

	e = m.AcquireOrDefault([]base.TableID{1, 2}, FixedLengthExtractor{Len: 1})
	require.Equal(t, 2, e.Len())
	require.Equal(t, []byte("a"), e.Extract(base.MakeUserKey(2, []byte("abc"))))
	require.Nil(t, e.Extract(base.MakeUserKey(4, []byte("abc"))))
}
