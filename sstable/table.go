// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

/*
Package sstable implements the table format used by hummock: builders that
write sorted full keys into compressed, checksummed blocks, the meta block
describing them, filters, delete range events, and readers over uploaded
tables.

Tables are created once by a compaction and never mutated. A table is built
with a Builder (or a CapacitySplitTableBuilder when the output must be rolled
into several tables), uploaded to an object store and later read through a
Store, which caches meta blocks and data blocks.

The table layout is:

	<start_of_object>
	[data block 0]
	[data block 1]
	...
	[data block N-1]
	[meta block]
	<end_of_object>

The meta block is self-describing from the end of the object:

	| N (4B) |
	| block meta 0 | ... | block meta N-1 |
	| filter len (4B) | filter |
	| estimated size (4B) | key count (4B) |
	| smallest key len (4B) | smallest key |
	| largest key len (4B) | largest key |
	| K (4B) |
	| delete event 0 | ... | delete event K-1 |
	| meta offset (8B) |
	| checksum (8B) | version (4B) | magic (4B) |

All integers are little-endian. The checksum is the xxHash64 of everything
in the meta block preceding it. Readers parse the trailer backwards: magic,
then version, then checksum, and only then decode the fields forwards.

Each data block is:

	| entry 0 | ... | entry M-1 |
	| restart point 0 (4B) | ... | restart point R-1 (4B) | R (4B) |
	| compression (1B) | checksum (8B) |

where an entry is

	| overlap (2B) | diff len (2B) | value len (4B) | diff key | value |

The compression byte describes how everything before it was compressed and
the checksum covers the (possibly compressed) payload and the compression
byte.
*/
package sstable // import "github.com/cockroachdb/hummock/sstable"

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

const (
	// Magic is the magic number ending every table.
	Magic uint32 = 0x5785ab73
	// Version is the only table format version understood.
	Version uint32 = 1

	// footerTailLen is the length of the fixed trailer of the meta block:
	// meta offset, checksum, version and magic.
	footerTailLen = 8 + 8 + 4 + 4

	defaultMetaBufferCapacity = 4096
)

// checksum returns the xxHash64 checksum of b.
func checksum(b []byte) uint64 {
	return xxhash.Sum64(b)
}

func verifyChecksum(b []byte, want uint64) error {
	if got := checksum(b); got != want {
		return base.CorruptionErrorf("checksum mismatch: expected %016x, found %016x",
			errors.Safe(want), errors.Safe(got))
	}
	return nil
}

func appendLengthPrefixed(buf []byte, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, checkedUint32(len(b)))
	return append(buf, b...)
}

func checkedUint32(n int) uint32 {
	if n < 0 || uint64(n) > uint64(^uint32(0)) {
		panic(errors.AssertionFailedf("%d does not fit in a uint32", n))
	}
	return uint32(n)
}

// decoder reads little-endian fields from the front of a buffer. The first
// error encountered sticks; subsequent reads return zero values.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) fail(what string) {
	if d.err == nil {
		d.err = base.CorruptionErrorf("truncated %s", errors.Safe(what))
	}
	d.buf = nil
}

func (d *decoder) u8(what string) uint8 {
	if len(d.buf) < 1 {
		d.fail(what)
		return 0
	}
	v := d.buf[0]
	d.buf = d.buf[1:]
	return v
}

func (d *decoder) u32(what string) uint32 {
	if len(d.buf) < 4 {
		d.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint32(d.buf)
	d.buf = d.buf[4:]
	return v
}

func (d *decoder) u64(what string) uint64 {
	if len(d.buf) < 8 {
		d.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf)
	d.buf = d.buf[8:]
	return v
}

// lengthPrefixed returns a copy of a length-prefixed byte slice, or nil if the
// slice is empty.
func (d *decoder) lengthPrefixed(what string) []byte {
	n := int(d.u32(what))
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.fail(what)
		return nil
	}
	if n == 0 {
		return nil
	}
	v := make([]byte, n)
	copy(v, d.buf)
	d.buf = d.buf[n:]
	return v
}
