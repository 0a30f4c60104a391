// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/stretchr/testify/require"
)

// sliceIter is an internalIterator over sorted in-memory versions. It fails
// with err once it reaches failAt when failAt is non-negative.
type sliceIter struct {
	keys   [][]byte
	values []Value
	pos    int
	failAt int
	err    error
	closed bool
}

func newSliceIter(versions ...testVersion) *sliceIter {
	it := &sliceIter{failAt: -1, pos: len(versions)}
	slices.SortFunc(versions, func(a, b testVersion) int { return base.CompareFullKeys(a.key, b.key) })
	for _, v := range versions {
		it.keys = append(it.keys, v.key.Encode(nil))
		it.values = append(it.values, v.value)
	}
	return it
}

func (s *sliceIter) check() {
	if s.failAt >= 0 && s.pos >= s.failAt {
		s.err = errors.New("injected failure")
	}
}

func (s *sliceIter) Rewind() { s.pos = 0; s.err = nil; s.check() }
func (s *sliceIter) SeekGE(key []byte) {
	s.err = nil
	s.pos, _ = slices.BinarySearchFunc(s.keys, key, base.CompareEncodedFullKeys)
	s.check()
}
func (s *sliceIter) Next()                 { s.pos++; s.check() }
func (s *sliceIter) Valid() bool           { return s.err == nil && s.pos < len(s.keys) }
func (s *sliceIter) Key() []byte           { return s.keys[s.pos] }
func (s *sliceIter) Value() (Value, error) { return s.values[s.pos], nil }
func (s *sliceIter) Error() error          { return s.err }
func (s *sliceIter) Close() error          { s.closed = true; return s.err }

func drain(t *testing.T, it internalIterator) string {
	var buf strings.Builder
	for ; it.Valid(); it.Next() {
		v, err := it.Value()
		require.NoError(t, err)
		fmt.Fprintf(&buf, "%s=%s\n", base.MustDecodeFullKey(it.Key()), v)
	}
	require.NoError(t, it.Error())
	return buf.String()
}

func tv(table TableID, key string, epoch Epoch, value string) testVersion {
	v := PutValue([]byte(value))
	if value == "" {
		v = DeleteValue()
	}
	return testVersion{key: MakeFullKey(table, []byte(key), epoch), value: v}
}

func TestMergingIter(t *testing.T) {
	m := newMergingIter(
		newSliceIter(tv(1, "a", 3, "a3"), tv(1, "c", 1, "c1")),
		newSliceIter(tv(1, "a", 5, "a5"), tv(1, "b", 2, ""), tv(2, "a", 1, "x")),
		newSliceIter(),
	)
	m.Rewind()
	require.Equal(t, fmt.Sprintf("1:a@5=%s\n1:a@3=%s\n1:b@2=%s\n1:c@1=%s\n2:a@1=%s\n",
		PutValue([]byte("a5")), PutValue([]byte("a3")), DeleteValue(), PutValue([]byte("c1")), PutValue([]byte("x"))),
		drain(t, m))

	m.SeekGE(MakeFullKey(1, []byte("a"), 4).Encode(nil))
	require.True(t, m.Valid())
	require.Equal(t, "1:a@3", base.MustDecodeFullKey(m.Key()).String())
	m.SeekGE(MakeFullKey(1, []byte("z"), 0).Encode(nil))
	require.Equal(t, "2:a@1", base.MustDecodeFullKey(m.Key()).String())
	m.SeekGE(MakeFullKey(3, nil, EpochMax).Encode(nil))
	require.False(t, m.Valid())
	require.NoError(t, m.Close())
}

func TestMergingIterRandomized(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	var all []testVersion
	var iters []internalIterator
	for i := 0; i < 5; i++ {
		var versions []testVersion
		for j := 0; j < 50; j++ {
			// Epochs are unique so that no two inputs share a full key.
			v := tv(TableID(rng.IntN(3)), fmt.Sprintf("k%02d", rng.IntN(20)), Epoch(i*1000+j), "v")
			versions = append(versions, v)
			all = append(all, v)
		}
		iters = append(iters, newSliceIter(versions...))
	}
	slices.SortFunc(all, func(a, b testVersion) int { return base.CompareFullKeys(a.key, b.key) })

	m := newMergingIter(iters...)
	m.Rewind()
	var i int
	for ; m.Valid(); m.Next() {
		require.True(t, bytes.Equal(all[i].key.Encode(nil), m.Key()), "position %d", i)
		i++
	}
	require.Equal(t, len(all), i)
	require.NoError(t, m.Close())
}

func TestMergingIterError(t *testing.T) {
	failing := newSliceIter(tv(1, "b", 1, "b"), tv(1, "d", 1, "d"))
	failing.failAt = 1
	other := newSliceIter(tv(1, "a", 1, "a"), tv(1, "c", 1, "c"))
	m := newMergingIter(other, failing)
	m.Rewind()
	require.True(t, m.Valid())
	m.Next()
	require.Equal(t, "1:b@1", base.MustDecodeFullKey(m.Key()).String())
	m.Next()
	require.False(t, m.Valid())
	require.Error(t, m.Error())

	err := m.Close()
	require.Error(t, err)
	require.True(t, other.closed)
	require.True(t, failing.closed)
}
