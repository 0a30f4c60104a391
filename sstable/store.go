// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/cache"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/objstorage"
)

// CachePolicy controls how reads interact with the block cache.
type CachePolicy uint8

const (
	// CachePolicyFill looks up and fills the cache.
	CachePolicyFill CachePolicy = iota
	// CachePolicyNotFill looks up the cache but does not fill it. Compaction
	// reads use it so that they do not evict blocks used by foreground reads.
	CachePolicyNotFill
	// CachePolicyDisable bypasses the cache.
	CachePolicyDisable
)

func (p CachePolicy) String() string {
	switch p {
	case CachePolicyFill:
		return "fill"
	case CachePolicyNotFill:
		return "not-fill"
	case CachePolicyDisable:
		return "disable"
	default:
		return "unknown"
	}
}

// Sstable is an opened table: its id, decoded meta and filter.
type Sstable struct {
	ID     uint64
	Meta   *Meta
	Filter FilterReader
}

func newSstable(id uint64, meta *Meta) *Sstable {
	return &Sstable{ID: id, Meta: meta, Filter: NewFilterReader(meta.Filter)}
}

// MayMatchHash returns false if the key with the given filter hash is
// definitely not in the table.
func (s *Sstable) MayMatchHash(h uint64) bool {
	return s.Filter.MayMatch(h)
}

// EstimateSize returns the in-memory size of the table handle.
func (s *Sstable) EstimateSize() int64 {
	return int64(8 + s.Filter.Size() + s.Meta.EncodedSize())
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// DataDirectory is the object path prefix of tables.
	DataDirectory      string
	BlockCacheCapacity int64
	MetaCacheCapacity  int64
	// CacheShards is the number of shards of each cache.
	CacheShards int
}

type blockKey struct {
	objectID uint64
	index    int
}

// Store reads and writes tables in an object store, caching table metas and
// data blocks.
type Store struct {
	objects    objstorage.ObjectStore
	dir        string
	metaCache  *cache.Sharded[uint64, *Sstable]
	blockCache *cache.Sharded[blockKey, *Block]
}

// NewStore returns a store over the given object store.
func NewStore(objects objstorage.ObjectStore, opts StoreOptions) *Store {
	shards := opts.CacheShards
	if shards <= 0 {
		shards = 16
	}
	s := &Store{objects: objects, dir: opts.DataDirectory}
	if opts.MetaCacheCapacity > 0 {
		s.metaCache = cache.NewSharded[uint64, *Sstable](opts.MetaCacheCapacity, shards, fibonacciHash)
	}
	if opts.BlockCacheCapacity > 0 {
		s.blockCache = cache.NewSharded[blockKey, *Block](opts.BlockCacheCapacity, shards,
			func(k blockKey) uint64 { return fibonacciHash(k.objectID) ^ uint64(k.index) })
	}
	return s
}

func fibonacciHash(v uint64) uint64 {
	const m = 11400714819323198485
	return v * m
}

// ObjectStore returns the underlying object store.
func (s *Store) ObjectStore() objstorage.ObjectStore {
	return s.objects
}

// ObjectPath returns the object path of a table.
func (s *Store) ObjectPath(objectID uint64) string {
	return objstorage.SstablePath(s.dir, objectID)
}

// Upload writes an encoded table.
func (s *Store) Upload(ctx context.Context, objectID uint64, data []byte) error {
	return errors.Wrapf(s.objects.Upload(ctx, s.ObjectPath(objectID), data),
		"uploading table %d", objectID)
}

// Delete removes a table and drops its cached meta.
func (s *Store) Delete(ctx context.Context, objectID uint64) error {
	s.metaCache.Delete(objectID)
	return s.objects.Delete(ctx, s.ObjectPath(objectID))
}

// InsertMeta caches the meta of a table that was just written.
func (s *Store) InsertMeta(objectID uint64, meta *Meta) {
	sst := newSstable(objectID, meta)
	s.metaCache.Insert(objectID, sst, sst.EstimateSize())
}

// Sstable returns the opened table described by info, reading its meta block
// at the recorded offset unless cached.
func (s *Store) Sstable(ctx context.Context, info *SstableInfo) (*Sstable, error) {
	if sst, ok := s.metaCache.Get(info.ObjectID); ok {
		return sst, nil
	}
	buf, err := s.objects.Read(ctx, s.ObjectPath(info.ObjectID), int64(info.MetaOffset), -1)
	if err != nil {
		return nil, errors.Wrapf(err, "reading meta of table %d", info.ObjectID)
	}
	return s.decodeAndCache(info.ObjectID, buf)
}

// OpenSstable opens a table knowing only its id. The meta block is located
// from the trailer at the end of the object.
func (s *Store) OpenSstable(ctx context.Context, objectID uint64) (*Sstable, error) {
	if sst, ok := s.metaCache.Get(objectID); ok {
		return sst, nil
	}
	path := s.ObjectPath(objectID)
	md, err := s.objects.Metadata(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening table %d", objectID)
	}
	if md.Size < FooterTailLen {
		return nil, base.CorruptionErrorf("table %d too short: %d bytes", errors.Safe(objectID), errors.Safe(md.Size))
	}
	tail, err := s.objects.Read(ctx, path, md.Size-FooterTailLen, FooterTailLen)
	if err != nil {
		return nil, errors.Wrapf(err, "reading trailer of table %d", objectID)
	}
	ft, err := DecodeFooterTail(tail)
	if err != nil {
		return nil, errors.Wrapf(err, "table %d", objectID)
	}
	if ft.MetaOffset > uint64(md.Size-FooterTailLen) {
		return nil, base.CorruptionErrorf("table %d: meta offset %d beyond object of size %d",
			errors.Safe(objectID), errors.Safe(ft.MetaOffset), errors.Safe(md.Size))
	}
	buf, err := s.objects.Read(ctx, path, int64(ft.MetaOffset), -1)
	if err != nil {
		return nil, errors.Wrapf(err, "reading meta of table %d", objectID)
	}
	return s.decodeAndCache(objectID, buf)
}

func (s *Store) decodeAndCache(objectID uint64, buf []byte) (*Sstable, error) {
	meta, err := DecodeMeta(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "table %d", objectID)
	}
	sst := newSstable(objectID, meta)
	s.metaCache.Insert(objectID, sst, sst.EstimateSize())
	return sst, nil
}

// Block returns the decoded data block at the given index of a table.
func (s *Store) Block(ctx context.Context, sst *Sstable, index int, policy CachePolicy) (*Block, error) {
	key := blockKey{objectID: sst.ID, index: index}
	if policy != CachePolicyDisable {
		if b, ok := s.blockCache.Get(key); ok {
			return b, nil
		}
	}
	if index < 0 || index >= len(sst.Meta.BlockMetas) {
		return nil, errors.AssertionFailedf("block %d out of range in table %d", index, sst.ID)
	}
	bm := &sst.Meta.BlockMetas[index]
	buf, err := s.objects.Read(ctx, s.ObjectPath(sst.ID), int64(bm.Offset), int64(bm.Len))
	if err != nil {
		return nil, errors.Wrapf(err, "reading block %d of table %d", index, sst.ID)
	}
	b, err := DecodeBlock(buf, int(bm.UncompressedSize))
	if err != nil {
		return nil, errors.Wrapf(err, "block %d of table %d", index, sst.ID)
	}
	if policy == CachePolicyFill {
		s.blockCache.Insert(key, b, int64(b.Size()))
	}
	return b, nil
}

// CacheMetrics returns the metrics of the meta and block caches.
func (s *Store) CacheMetrics() (meta, block cache.Metrics) {
	return s.metaCache.Metrics(), s.blockCache.Metrics()
}

// Info describes an opened table whose object has the given size, as it
// would be recorded in a version. Stale key counts are not stored in the
// table and are left zero.
func (s *Sstable) Info(fileSize uint64) SstableInfo {
	info := SstableInfo{
		ObjectID:      s.ID,
		SstID:         s.ID,
		KeyRange:      KeyRange{Left: s.Meta.SmallestKey, Right: s.Meta.LargestKey},
		FileSize:      fileSize,
		MetaOffset:    s.Meta.MetaOffset,
		TableIDs:      s.Meta.TableIDs(),
		TotalKeyCount: uint64(s.Meta.KeyCount),
	}
	for _, ev := range s.Meta.MonotonicEvents {
		if ev.NewEpoch != base.EpochMax {
			info.RangeTombstoneCount++
		}
		if id := ev.Key.UserKey.TableID; !containsTableID(info.TableIDs, id) {
			info.TableIDs = insertTableID(info.TableIDs, id)
		}
	}
	if n := len(s.Meta.MonotonicEvents); n > 0 && len(info.KeyRange.Right) > 0 {
		last := base.FullKey{UserKey: s.Meta.MonotonicEvents[n-1].Key.UserKey, Epoch: base.EpochMax}.Encode(nil)
		info.KeyRange.RightExclusive = bytes.Equal(last, info.KeyRange.Right)
	}
	return info
}
