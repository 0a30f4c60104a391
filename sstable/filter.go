// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"math"
	"slices"
	"strings"

	"github.com/FastFilter/xorfilter"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// FilterKind selects the table filter implementation.
type FilterKind uint8

const (
	// BloomFilter is a cache-line blocked bloom filter.
	BloomFilter FilterKind = iota
	// Xor8Filter is an xor filter with 8-bit fingerprints.
	Xor8Filter
	// NoFilter disables the table filter.
	NoFilter
)

func (k FilterKind) String() string {
	switch k {
	case BloomFilter:
		return "bloom"
	case Xor8Filter:
		return "xor8"
	case NoFilter:
		return "none"
	default:
		return "unknown"
	}
}

// ParseFilterKind parses the name of a filter kind.
func ParseFilterKind(s string) (FilterKind, error) {
	for _, k := range []FilterKind{BloomFilter, Xor8Filter, NoFilter} {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, errors.Newf("unknown filter kind %q", s)
}

// The last byte of an encoded filter identifies it. Bloom filters store their
// probe count there (at most maxBloomProbes).
const (
	xor8FilterTag  = 254
	maxBloomProbes = 30

	cacheLineSize = 64
	cacheLineBits = cacheLineSize * 8
)

// FilterHash returns the hash of the distribution key of a user key in the
// given table. Mixing in the table id keeps equal keys of different tables
// apart.
func FilterHash(distKey []byte, tableID base.TableID) uint64 {
	return uint64(tableID) ^ xxhash.Sum64(distKey)
}

// FilterBuilder accumulates key hashes and encodes a filter.
type FilterBuilder interface {
	// AddHash adds the hash of a key.
	AddHash(h uint64)
	// ApproximateLen returns the size of the filter built so far.
	ApproximateLen() int
	// Finish encodes the filter and resets the builder. It returns nil if no
	// hash was added.
	Finish() []byte
}

// NewFilterBuilder returns a builder for the given filter kind, or nil for
// NoFilter.
func NewFilterBuilder(kind FilterKind, falsePositive float64) FilterBuilder {
	switch kind {
	case BloomFilter:
		return newBloomFilterBuilder(falsePositive)
	case Xor8Filter:
		return &xor8FilterBuilder{}
	default:
		return nil
	}
}

// bitsPerKey returns the bloom filter bits per key achieving the given false
// positive rate.
func bitsPerKey(falsePositive float64) uint32 {
	if falsePositive <= 0 || falsePositive >= 1 {
		falsePositive = 0.01
	}
	b := -math.Log(falsePositive) / (math.Ln2 * math.Ln2)
	return uint32(math.Ceil(b))
}

type bloomFilterBuilder struct {
	bitsPerKey uint32
	numProbes  uint32
	hashes     []uint32
}

func newBloomFilterBuilder(falsePositive float64) *bloomFilterBuilder {
	b := bitsPerKey(falsePositive)
	k := uint32(float64(b) * math.Ln2)
	k = min(max(k, 1), maxBloomProbes)
	return &bloomFilterBuilder{bitsPerKey: b, numProbes: k}
}

func (w *bloomFilterBuilder) AddHash(h uint64) {
	h32 := uint32(h) ^ uint32(h>>32)
	if n := len(w.hashes); n > 0 && w.hashes[n-1] == h32 {
		return
	}
	w.hashes = append(w.hashes, h32)
}

func (w *bloomFilterBuilder) ApproximateLen() int {
	return int(w.numLines())*cacheLineSize + 5
}

func (w *bloomFilterBuilder) numLines() uint32 {
	n := (uint64(len(w.hashes))*uint64(w.bitsPerKey) + cacheLineBits - 1) / cacheLineBits
	return uint32(n | 1)
}

// Finish encodes the filter as
//
//	| bits (nLines * 64B) | nLines (4B) | probes (1B) |
func (w *bloomFilterBuilder) Finish() []byte {
	if len(w.hashes) == 0 {
		return nil
	}
	nLines := w.numLines()
	nBytes := nLines * cacheLineSize
	filter := make([]byte, nBytes, nBytes+5)
	for _, h := range w.hashes {
		delta := h>>17 | h<<15
		line := filter[(h%nLines)*cacheLineSize:][:cacheLineSize]
		for range w.numProbes {
			line[(h>>3)&(cacheLineSize-1)] |= 1 << (h & 7)
			h += delta
		}
	}
	filter = binary.LittleEndian.AppendUint32(filter, nLines)
	filter = append(filter, byte(w.numProbes))
	w.hashes = w.hashes[:0]
	return filter
}

func bloomMayContain(filter []byte, h uint64) bool {
	n := len(filter) - 5
	nLines := binary.LittleEndian.Uint32(filter[n:])
	nProbes := filter[n+4]
	if nLines == 0 || uint32(n) != nLines*cacheLineSize {
		return true
	}
	h32 := uint32(h) ^ uint32(h>>32)
	delta := h32>>17 | h32<<15
	line := filter[(h32%nLines)*cacheLineSize:][:cacheLineSize]
	for range nProbes {
		if line[(h32>>3)&(cacheLineSize-1)]&(1<<(h32&7)) == 0 {
			return false
		}
		h32 += delta
	}
	return true
}

type xor8FilterBuilder struct {
	hashes []uint64
}

func (w *xor8FilterBuilder) AddHash(h uint64) {
	w.hashes = append(w.hashes, h)
}

func (w *xor8FilterBuilder) ApproximateLen() int {
	return len(w.hashes)*5/4 + 32
}

// Finish encodes the filter as
//
//	| fingerprints | seed (8B) | block length (4B) | tag (1B) |
func (w *xor8FilterBuilder) Finish() []byte {
	if len(w.hashes) == 0 {
		return nil
	}
	slices.Sort(w.hashes)
	keys := slices.Compact(w.hashes)
	f, err := xorfilter.Populate(keys)
	w.hashes = w.hashes[:0]
	if err != nil {
		// Construction failures leave the table without a filter, which
		// matches every key.
		return nil
	}
	buf := make([]byte, 0, len(f.Fingerprints)+13)
	buf = append(buf, f.Fingerprints...)
	buf = binary.LittleEndian.AppendUint64(buf, f.Seed)
	buf = binary.LittleEndian.AppendUint32(buf, f.BlockLength)
	return append(buf, xor8FilterTag)
}

func decodeXor8(filter []byte) (*xorfilter.Xor8, bool) {
	n := len(filter) - 12
	if n < 0 {
		return nil, false
	}
	f := &xorfilter.Xor8{
		Seed:         binary.LittleEndian.Uint64(filter[n:]),
		BlockLength:  binary.LittleEndian.Uint32(filter[n+8:]),
		Fingerprints: filter[:n],
	}
	if uint64(f.BlockLength)*3 != uint64(n) {
		return nil, false
	}
	return f, true
}

// FilterReader answers membership queries against an encoded filter. An
// empty or unrecognized filter matches every key.
type FilterReader struct {
	data []byte
	xor8 *xorfilter.Xor8
}

// NewFilterReader returns a reader over an encoded filter.
func NewFilterReader(data []byte) FilterReader {
	r := FilterReader{}
	if len(data) == 0 {
		return r
	}
	switch tag := data[len(data)-1]; {
	case tag == xor8FilterTag:
		if f, ok := decodeXor8(data[:len(data)-1]); ok {
			r.xor8 = f
		}
	case tag >= 1 && tag <= maxBloomProbes && len(data) > 5:
		r.data = data
	}
	return r
}

// Empty returns true if the reader matches every key.
func (r FilterReader) Empty() bool {
	return r.data == nil && r.xor8 == nil
}

// MayMatch returns false if the key with the given FilterHash is definitely
// absent.
func (r FilterReader) MayMatch(h uint64) bool {
	switch {
	case r.xor8 != nil:
		return r.xor8.Contains(h)
	case r.data != nil:
		return bloomMayContain(r.data, h)
	default:
		return true
	}
}

// Size returns the in-memory size of the filter.
func (r FilterReader) Size() int {
	if r.xor8 != nil {
		return len(r.xor8.Fingerprints) + 16
	}
	return len(r.data)
}
