// Copyright 2021 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is the per-block compression algorithm. The values are part of
// the on-disk format.
type Compression uint8

const (
	NoCompression Compression = iota
	LZ4Compression
	ZstdCompression
	SnappyCompression
	nCompression
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case LZ4Compression:
		return "lz4"
	case ZstdCompression:
		return "zstd"
	case SnappyCompression:
		return "snappy"
	default:
		return "unknown"
	}
}

// ParseCompression parses the name of a compression algorithm.
func ParseCompression(s string) (Compression, error) {
	for c := NoCompression; c < nCompression; c++ {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	return 0, errors.Newf("unknown compression algorithm %q", s)
}

var zstdCoders = struct {
	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}{}

func zstdInit() {
	zstdCoders.once.Do(func() {
		// EncodeAll and DecodeAll are safe for concurrent use.
		zstdCoders.encoder, _ = zstd.NewWriter(nil)
		zstdCoders.decoder, _ = zstd.NewReader(nil)
	})
}

// compress appends the compressed form of b to dst. LZ4 falls back to no
// compression for incompressible input, so the algorithm actually used is
// returned alongside the result.
func compress(c Compression, dst, b []byte) (Compression, []byte) {
	switch c {
	case LZ4Compression:
		buf := make([]byte, lz4.CompressBlockBound(len(b)))
		n, err := lz4.CompressBlock(b, buf, nil)
		if err != nil || n == 0 {
			return NoCompression, append(dst, b...)
		}
		return LZ4Compression, append(dst, buf[:n]...)
	case ZstdCompression:
		zstdInit()
		return ZstdCompression, zstdCoders.encoder.EncodeAll(b, dst)
	case SnappyCompression:
		return SnappyCompression, append(dst, snappy.Encode(nil, b)...)
	default:
		return NoCompression, append(dst, b...)
	}
}

// decompress returns the decompressed form of b. uncompressedSize is the size
// recorded in the block meta.
func decompress(c Compression, b []byte, uncompressedSize int) ([]byte, error) {
	var out []byte
	var err error
	switch c {
	case NoCompression:
		return b, nil
	case LZ4Compression:
		out = make([]byte, uncompressedSize)
		var n int
		n, err = lz4.UncompressBlock(b, out)
		out = out[:max(n, 0)]
	case ZstdCompression:
		zstdInit()
		out, err = zstdCoders.decoder.DecodeAll(b, make([]byte, 0, uncompressedSize))
	case SnappyCompression:
		out, err = snappy.Decode(nil, b)
	default:
		return nil, base.CorruptionErrorf("unknown block compression: %d", errors.Safe(c))
	}
	if err != nil {
		return nil, base.MarkCorruptionError(errors.Wrapf(err, "decompressing %s block", c))
	}
	if len(out) != uncompressedSize {
		return nil, base.CorruptionErrorf("decompressed %s block has %d bytes, expected %d",
			errors.Safe(c), errors.Safe(len(out)), errors.Safe(uncompressedSize))
	}
	return out, nil
}
