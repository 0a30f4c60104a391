// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"
)

func fullKey(tableID base.TableID, key string, epoch base.Epoch) []byte {
	return base.MakeFullKey(tableID, []byte(key), epoch).Encode(nil)
}

func testMetas() map[string]*Meta {
	return map[string]*Meta{
		"empty": {Version: Version},
		"blocks": {
			BlockMetas: []BlockMeta{
				{SmallestKey: fullKey(1, "apple", 10), Offset: 0, Len: 100, UncompressedSize: 120},
				{SmallestKey: fullKey(1, "banana", 9), Offset: 100, Len: 80, UncompressedSize: 80},
				{SmallestKey: fullKey(2, "cherry", 3), Offset: 180, Len: 64, UncompressedSize: 200},
			},
			Filter:        []byte{1, 2, 3, 4, 5, 6, 7, 8},
			EstimatedSize: 4096,
			KeyCount:      17,
			SmallestKey:   fullKey(1, "apple", 10),
			LargestKey:    fullKey(2, "zebra", 1),
			MetaOffset:    244,
			Version:       Version,
		},
		"events": {
			BlockMetas: []BlockMeta{
				{SmallestKey: fullKey(3, "k", 5), Offset: 0, Len: 10, UncompressedSize: 10},
			},
			KeyCount:    1,
			SmallestKey: fullKey(3, "a", base.EpochMax),
			LargestKey:  fullKey(3, "z", base.EpochMax),
			MetaOffset:  10,
			MonotonicEvents: []MonotonicDeleteEvent{
				MakeMonotonicDeleteEvent(3, []byte("a"), 7),
				{Key: base.MakePointRange(base.MakeUserKey(3, []byte("m")), true), NewEpoch: 9},
				MakeMonotonicDeleteEvent(3, []byte("z"), base.EpochMax),
			},
			Version: Version,
		},
	}
}

func TestMetaRoundTrip(t *testing.T) {
	for name, m := range testMetas() {
		t.Run(name, func(t *testing.T) {
			encoded := m.Encode()
			require.Equal(t, m.EncodedSize(), len(encoded))
			decoded, err := DecodeMeta(encoded)
			require.NoError(t, err)
			if diff := pretty.Diff(m, decoded); diff != nil {
				t.Fatalf("meta changed across round trip:\n%s", diff)
			}
			// The trailer alone locates the meta block.
			ft, err := DecodeFooterTail(encoded)
			require.NoError(t, err)
			require.Equal(t, m.MetaOffset, ft.MetaOffset)
			require.Equal(t, Version, ft.Version)
		})
	}
}

func TestMetaVersionNormalized(t *testing.T) {
	m := &Meta{KeyCount: 3}
	decoded, err := DecodeMeta(m.Encode())
	require.NoError(t, err)
	require.Equal(t, uint32(Version), decoded.Version)
	require.Equal(t, uint32(3), decoded.KeyCount)
}

func TestMetaCorruption(t *testing.T) {
	m := testMetas()["events"]
	encoded := m.Encode()
	n := len(encoded)

	t.Run("checksum region", func(t *testing.T) {
		// Every byte covered by the checksum, plus the checksum itself.
		for i := 0; i < n-8; i++ {
			buf := append([]byte(nil), encoded...)
			buf[i] ^= 0x5a
			_, err := DecodeMeta(buf)
			require.Error(t, err, "byte %d", i)
			require.True(t, errors.Is(err, base.ErrCorruption))
			require.Contains(t, err.Error(), "checksum mismatch")
		}
	})

	t.Run("magic", func(t *testing.T) {
		buf := append([]byte(nil), encoded...)
		binary.LittleEndian.PutUint32(buf[n-4:], 0xdeadbeef)
		_, err := DecodeMeta(buf)
		require.True(t, errors.Is(err, base.ErrCorruption))
		require.Contains(t, err.Error(), "magic mismatch")
	})

	t.Run("version", func(t *testing.T) {
		buf := append([]byte(nil), encoded...)
		binary.LittleEndian.PutUint32(buf[n-8:], Version+1)
		_, err := DecodeMeta(buf)
		require.True(t, errors.Is(err, base.ErrCorruption))
		require.Contains(t, err.Error(), "invalid format version 2")
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := DecodeMeta(encoded[:footerTailLen-1])
		require.True(t, errors.Is(err, base.ErrCorruption))
		_, err = DecodeMeta(encoded[1:])
		require.True(t, errors.Is(err, base.ErrCorruption))
	})
}

func TestMetaTableIDs(t *testing.T) {
	m := testMetas()["blocks"]
	require.Equal(t, []base.TableID{1, 2}, m.TableIDs())
	require.Equal(t, base.TableID(2), m.BlockMetas[2].TableID())
}
