// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"context"
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// BuilderOptions configures the layout of built tables.
type BuilderOptions struct {
	// Capacity is the target size of a table in bytes.
	Capacity int
	// BlockCapacity is the target size of a data block in bytes.
	BlockCapacity   int
	RestartInterval int
	Compression     Compression
	FilterKind      FilterKind
	// BloomFalsePositive is the target false positive rate of bloom filters.
	BloomFalsePositive float64
}

// DefaultBuilderOptions returns options building 256 MiB tables of 64 KiB
// blocks with a 1% bloom filter.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		Capacity:           256 << 20,
		BlockCapacity:      64 << 10,
		RestartInterval:    DefaultRestartInterval,
		Compression:        NoCompression,
		FilterKind:         BloomFilter,
		BloomFalsePositive: 0.01,
	}
}

// BuilderOutput is the result of building one table.
type BuilderOutput struct {
	Info       SstableInfo
	TableStats TableStatsMap
	// BuildDuration covers encoding and uploading the table.
	BuildDuration time.Duration
}

// Builder builds one table from full keys added in increasing order.
type Builder struct {
	opts      BuilderOptions
	objectID  uint64
	writer    Writer
	extractor FilterKeyExtractor
	start     crtime.Mono

	block      BlockBuilder
	blockMetas []BlockMeta
	filter     FilterBuilder

	keyBuf       []byte
	lastKey      []byte
	firstKey     []byte
	lastDistKey  []byte
	lastTableID  base.TableID
	hasDistKey   bool
	tableIDs     []base.TableID
	keyCount     uint64
	staleCount   uint64
	rawKeySize   int64
	rawValueSize int64
	minEpoch     base.Epoch
	maxEpoch     base.Epoch
	tableStats   TableStatsMap
	events       []MonotonicDeleteEvent
}

// NewBuilder returns a builder writing the table with the given object id.
// A nil extractor keeps every key out of the filter.
func NewBuilder(objectID uint64, w Writer, opts BuilderOptions, extractor FilterKeyExtractor) *Builder {
	if extractor == nil {
		extractor = DummyExtractor{}
	}
	b := &Builder{
		opts:       opts,
		objectID:   objectID,
		writer:     w,
		extractor:  extractor,
		start:      crtime.NowMono(),
		filter:     NewFilterBuilder(opts.FilterKind, opts.BloomFalsePositive),
		minEpoch:   base.EpochMax,
		tableStats: make(TableStatsMap),
	}
	b.block.RestartInterval = opts.RestartInterval
	b.block.Compression = opts.Compression
	return b
}

// ObjectID returns the object id of the table being built.
func (b *Builder) ObjectID() uint64 {
	return b.objectID
}

// Add appends a version. Keys must be added in strictly increasing full key
// order. isNewUserKey is false for every version after the first of a user
// key.
func (b *Builder) Add(key base.FullKey, value base.Value, isNewUserKey bool) error {
	b.keyBuf = key.Encode(b.keyBuf[:0])
	if len(b.lastKey) > 0 && base.CompareEncodedFullKeys(b.lastKey, b.keyBuf) >= 0 {
		panic(errors.AssertionFailedf("table keys added out of order: %s >= %s",
			base.MustDecodeFullKey(b.lastKey), key))
	}
	encodedValue := value.Encode(nil)
	if b.block.ApproximateLen() >= b.opts.BlockCapacity && isNewUserKey {
		if err := b.flushBlock(); err != nil {
			return err
		}
	}
	if b.block.Empty() {
		b.blockMetas = append(b.blockMetas, BlockMeta{
			SmallestKey: bytes.Clone(b.keyBuf),
			Offset:      uint32(b.writer.DataLen()),
		})
	}
	b.block.Add(b.keyBuf, encodedValue)

	if b.filter != nil && isNewUserKey {
		if dk := b.extractor.Extract(key.UserKey); dk != nil {
			if !b.hasDistKey || b.lastTableID != key.UserKey.TableID || !bytes.Equal(dk, b.lastDistKey) {
				b.filter.AddHash(FilterHash(dk, key.UserKey.TableID))
				b.lastDistKey = append(b.lastDistKey[:0], dk...)
				b.lastTableID = key.UserKey.TableID
				b.hasDistKey = true
			}
		}
	}
	if n := len(b.tableIDs); n == 0 || b.tableIDs[n-1] != key.UserKey.TableID {
		b.tableIDs = append(b.tableIDs, key.UserKey.TableID)
	}
	if b.keyCount == 0 {
		b.firstKey = bytes.Clone(b.keyBuf)
	}
	b.lastKey = append(b.lastKey[:0], b.keyBuf...)
	b.keyCount++
	if !isNewUserKey || value.IsDelete() {
		b.staleCount++
	}
	b.minEpoch = min(b.minEpoch, key.Epoch)
	b.maxEpoch = max(b.maxEpoch, key.Epoch)
	b.rawKeySize += int64(len(b.keyBuf))
	b.rawValueSize += int64(len(encodedValue))
	st := b.tableStats.get(key.UserKey.TableID)
	st.TotalKeyCount++
	st.TotalKeySize += int64(len(b.keyBuf))
	st.TotalValueSize += int64(len(encodedValue))
	return nil
}

// AddMonotonicDeleteEvents attaches delete events to the table.
func (b *Builder) AddMonotonicDeleteEvents(events []MonotonicDeleteEvent) {
	b.events = append(b.events, events...)
}

func (b *Builder) flushBlock() error {
	if b.block.Empty() {
		return nil
	}
	data, uncompressedSize := b.block.Finish()
	bm := &b.blockMetas[len(b.blockMetas)-1]
	bm.Len = uint32(len(data))
	bm.UncompressedSize = uint32(uncompressedSize)
	return b.writer.WriteBlock(data)
}

// LastFullKey returns the encoded last key added.
func (b *Builder) LastFullKey() []byte {
	return b.lastKey
}

// Empty returns true if neither keys nor delete events were added.
func (b *Builder) Empty() bool {
	return b.keyCount == 0 && len(b.events) == 0
}

// ApproximateLen returns the size the table would have if finished now.
func (b *Builder) ApproximateLen() int {
	n := b.writer.DataLen() + b.block.ApproximateLen()
	if b.filter != nil {
		n += b.filter.ApproximateLen()
	}
	return n
}

// ReachedCapacity returns true once the table reached its target size.
func (b *Builder) ReachedCapacity() bool {
	return b.ApproximateLen() >= b.opts.Capacity
}

// Finish encodes the meta block, writes the table and returns its
// description.
func (b *Builder) Finish(ctx context.Context) (*BuilderOutput, error) {
	if b.Empty() {
		return nil, errors.AssertionFailedf("finishing empty table %d", b.objectID)
	}
	if err := b.flushBlock(); err != nil {
		return nil, err
	}
	var keyRange KeyRange
	if b.keyCount > 0 {
		keyRange.Left = b.firstKey
		keyRange.Right = bytes.Clone(b.lastKey)
	}
	if len(b.events) > 0 {
		// The table covers its delete ranges too.
		first := base.FullKey{UserKey: b.events[0].Key.UserKey, Epoch: base.EpochMax}.Encode(nil)
		last := base.FullKey{UserKey: b.events[len(b.events)-1].Key.UserKey, Epoch: base.EpochMax}.Encode(nil)
		if keyRange.Left == nil || base.CompareEncodedFullKeys(first, keyRange.Left) < 0 {
			keyRange.Left = first
		}
		if keyRange.Right == nil || base.CompareEncodedFullKeys(last, keyRange.Right) > 0 {
			keyRange.Right = last
			keyRange.RightExclusive = true
		}
		for _, ev := range b.events {
			id := ev.Key.UserKey.TableID
			if !containsTableID(b.tableIDs, id) {
				b.tableIDs = insertTableID(b.tableIDs, id)
			}
		}
	}
	meta := &Meta{
		BlockMetas:      b.blockMetas,
		KeyCount:        uint32(b.keyCount),
		SmallestKey:     keyRange.Left,
		LargestKey:      keyRange.Right,
		MetaOffset:      uint64(b.writer.DataLen()),
		MonotonicEvents: b.events,
		Version:         Version,
	}
	if b.filter != nil {
		meta.Filter = b.filter.Finish()
	}
	meta.EstimatedSize = uint32(int(meta.MetaOffset) + meta.EncodedSize())
	encoded := meta.Encode()
	if err := b.writer.Finish(ctx, meta, encoded); err != nil {
		b.writer.Abort()
		return nil, err
	}
	var uncompressed uint64
	for i := range b.blockMetas {
		uncompressed += uint64(b.blockMetas[i].UncompressedSize)
	}
	var tombstones uint64
	for _, ev := range b.events {
		if ev.NewEpoch != base.EpochMax {
			tombstones++
		}
	}
	minEpoch, maxEpoch := b.minEpoch, b.maxEpoch
	if b.keyCount == 0 {
		minEpoch, maxEpoch = 0, 0
	}
	return &BuilderOutput{
		Info: SstableInfo{
			ObjectID:             b.objectID,
			SstID:                b.objectID,
			KeyRange:             keyRange,
			FileSize:             meta.MetaOffset + uint64(len(encoded)),
			MetaOffset:           meta.MetaOffset,
			TableIDs:             b.tableIDs,
			TotalKeyCount:        b.keyCount,
			StaleKeyCount:        b.staleCount,
			UncompressedFileSize: uncompressed + uint64(len(encoded)),
			MinEpoch:             minEpoch,
			MaxEpoch:             maxEpoch,
			RangeTombstoneCount:  tombstones,
		},
		TableStats:    b.tableStats,
		BuildDuration: b.start.Elapsed(),
	}, nil
}

// Abort discards the table.
func (b *Builder) Abort() {
	b.writer.Abort()
}

func containsTableID(ids []base.TableID, id base.TableID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func insertTableID(ids []base.TableID, id base.TableID) []base.TableID {
	i := 0
	for i < len(ids) && ids[i] < id {
		i++
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}
