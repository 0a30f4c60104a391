// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

const (
	// DefaultRestartInterval is the number of entries between restart points.
	DefaultRestartInterval = 16

	blockEntryHeaderLen = 2 + 2 + 4
	blockTrailerLen     = 1 + 8
	maxBlockKeyLen      = 1<<16 - 1
)

// BlockBuilder serializes key/value pairs into a data block. Keys are encoded
// full keys and must be added in strictly increasing order.
type BlockBuilder struct {
	RestartInterval int
	Compression     Compression

	buf      []byte
	restarts []uint32
	lastKey  []byte
	nEntries int
}

// Add appends a key/value pair to the block.
func (w *BlockBuilder) Add(key, value []byte) {
	if len(key) > maxBlockKeyLen {
		panic(errors.AssertionFailedf("key of %d bytes exceeds the block key limit", len(key)))
	}
	if w.nEntries > 0 && base.CompareEncodedFullKeys(w.lastKey, key) >= 0 {
		panic(errors.AssertionFailedf("block keys added out of order: %s >= %s",
			base.MustDecodeFullKey(w.lastKey), base.MustDecodeFullKey(key)))
	}
	interval := w.RestartInterval
	if interval <= 0 {
		interval = DefaultRestartInterval
	}
	var overlap int
	if w.nEntries%interval == 0 {
		w.restarts = append(w.restarts, uint32(len(w.buf)))
	} else {
		overlap = sharedPrefixLen(w.lastKey, key)
	}
	diff := key[overlap:]
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(overlap))
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(diff)))
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(value)))
	w.buf = append(w.buf, diff...)
	w.buf = append(w.buf, value...)
	w.lastKey = append(w.lastKey[:0], key...)
	w.nEntries++
}

// ApproximateLen returns the size of the uncompressed block built so far.
func (w *BlockBuilder) ApproximateLen() int {
	return len(w.buf) + 4*len(w.restarts) + 4 + blockTrailerLen
}

// Empty returns true if no entry was added since the last reset.
func (w *BlockBuilder) Empty() bool {
	return w.nEntries == 0
}

// Finish returns the encoded block and its uncompressed size, then resets the
// builder. The returned slice is freshly allocated.
func (w *BlockBuilder) Finish() (block []byte, uncompressedSize int) {
	for _, r := range w.restarts {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, r)
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(w.restarts)))
	uncompressedSize = len(w.buf)
	algo, out := compress(w.Compression, make([]byte, 0, len(w.buf)+blockTrailerLen), w.buf)
	out = append(out, byte(algo))
	out = binary.LittleEndian.AppendUint64(out, checksum(out))
	w.Reset()
	return out, uncompressedSize
}

// Reset clears the builder, keeping its buffers.
func (w *BlockBuilder) Reset() {
	w.buf = w.buf[:0]
	w.restarts = w.restarts[:0]
	w.lastKey = w.lastKey[:0]
	w.nEntries = 0
}

func sharedPrefixLen(a, b []byte) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Block is a decoded, decompressed data block.
type Block struct {
	data     []byte
	restarts []byte
	n        int
}

// DecodeBlock verifies the checksum of an encoded block and decompresses it.
func DecodeBlock(b []byte, uncompressedSize int) (*Block, error) {
	if len(b) < blockTrailerLen {
		return nil, base.CorruptionErrorf("block too short: %d bytes", errors.Safe(len(b)))
	}
	n := len(b) - 8
	if err := verifyChecksum(b[:n], binary.LittleEndian.Uint64(b[n:])); err != nil {
		return nil, err
	}
	data, err := decompress(Compression(b[n-1]), b[:n-1], uncompressedSize)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, base.CorruptionErrorf("block missing restart points")
	}
	nr := int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	restartsStart := len(data) - 4 - 4*nr
	if nr < 0 || restartsStart < 0 {
		return nil, base.CorruptionErrorf("invalid block restart count %d", errors.Safe(nr))
	}
	return &Block{data: data[:restartsStart], restarts: data[restartsStart : len(data)-4], n: nr}, nil
}

// Size returns the in-memory size of the block.
func (b *Block) Size() int {
	return len(b.data) + len(b.restarts) + 48
}

func (b *Block) restart(i int) int {
	return int(binary.LittleEndian.Uint32(b.restarts[4*i:]))
}

// BlockIterator iterates over the entries of a block.
type BlockIterator struct {
	block *Block
	// offset of the current entry and of the next one.
	offset, nextOffset int
	key                []byte
	value              []byte
	err                error
}

// NewBlockIterator returns an unpositioned iterator over the block.
func NewBlockIterator(b *Block) *BlockIterator {
	return &BlockIterator{block: b, offset: -1}
}

// Valid returns true if the iterator is positioned at an entry.
func (it *BlockIterator) Valid() bool {
	return it.err == nil && it.offset >= 0 && it.offset < len(it.block.data)
}

// Error returns any corruption encountered while decoding entries.
func (it *BlockIterator) Error() error {
	return it.err
}

// Key returns the encoded full key of the current entry. The slice is only
// valid until the iterator moves.
func (it *BlockIterator) Key() []byte {
	return it.key
}

// Value returns the encoded value of the current entry.
func (it *BlockIterator) Value() []byte {
	return it.value
}

// SeekToFirst positions the iterator at the first entry.
func (it *BlockIterator) SeekToFirst() {
	it.key = it.key[:0]
	it.seekRestart(0)
}

// Next advances to the next entry.
func (it *BlockIterator) Next() {
	if !it.Valid() {
		return
	}
	it.decodeAt(it.nextOffset)
}

// SeekGE positions the iterator at the first entry with a key greater than or
// equal to key in full key order.
func (it *BlockIterator) SeekGE(key []byte) {
	// Find the last restart point whose key is smaller than the target.
	idx := sort.Search(it.block.n, func(i int) bool {
		it.key = it.key[:0]
		it.decodeAt(it.block.restart(i))
		return it.err != nil || base.CompareEncodedFullKeys(it.key, key) >= 0
	})
	if it.err != nil {
		return
	}
	start := 0
	if idx > 0 {
		start = idx - 1
	}
	it.key = it.key[:0]
	it.seekRestart(start)
	for it.Valid() && base.CompareEncodedFullKeys(it.key, key) < 0 {
		it.Next()
	}
}

func (it *BlockIterator) seekRestart(i int) {
	if it.block.n == 0 {
		it.offset = len(it.block.data)
		return
	}
	it.decodeAt(it.block.restart(i))
}

func (it *BlockIterator) decodeAt(offset int) {
	data := it.block.data
	it.offset = offset
	if offset >= len(data) {
		return
	}
	if offset+blockEntryHeaderLen > len(data) {
		it.err = base.CorruptionErrorf("truncated block entry header at offset %d", errors.Safe(offset))
		return
	}
	overlap := int(binary.LittleEndian.Uint16(data[offset:]))
	diffLen := int(binary.LittleEndian.Uint16(data[offset+2:]))
	valueLen := int(binary.LittleEndian.Uint32(data[offset+4:]))
	p := offset + blockEntryHeaderLen
	if overlap > len(it.key) || p+diffLen+valueLen > len(data) {
		it.err = base.CorruptionErrorf("malformed block entry at offset %d", errors.Safe(offset))
		return
	}
	it.key = append(it.key[:overlap], data[p:p+diffLen]...)
	p += diffLen
	it.value = data[p : p+valueLen]
	it.nextOffset = p + valueLen
}

// CopyKey returns a copy of the current key.
func (it *BlockIterator) CopyKey() []byte {
	return bytes.Clone(it.key)
}
