// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"context"
	"sort"

	"github.com/cockroachdb/hummock/internal/base"
)

// IteratorStats counts the work done by an Iterator.
type IteratorStats struct {
	BlocksLoaded int
	KeysRead     int
}

// Iterator is a forward iterator over the versions of a table, in full key
// order. Data blocks are loaded lazily from the Store.
type Iterator struct {
	ctx    context.Context
	store  *Store
	sst    *Sstable
	policy CachePolicy

	blockIdx int
	iter     *BlockIterator
	err      error
	Stats    IteratorStats
}

// NewIterator returns an unpositioned iterator over the table. ctx bounds
// every block load.
func NewIterator(ctx context.Context, store *Store, sst *Sstable, policy CachePolicy) *Iterator {
	return &Iterator{ctx: ctx, store: store, sst: sst, policy: policy}
}

// Table returns the table being iterated.
func (i *Iterator) Table() *Sstable {
	return i.sst
}

// Rewind positions the iterator at the first version of the table.
func (i *Iterator) Rewind() {
	i.err = nil
	if !i.loadBlock(0) {
		return
	}
	i.iter.SeekToFirst()
	i.skipExhausted()
}

// SeekGE positions the iterator at the first version whose encoded full key
// is greater than or equal to key.
func (i *Iterator) SeekGE(key []byte) {
	i.err = nil
	metas := i.sst.Meta.BlockMetas
	// The first block whose smallest key is greater than key; the target lies
	// in the block before it.
	idx := sort.Search(len(metas), func(j int) bool {
		return base.CompareEncodedFullKeys(metas[j].SmallestKey, key) > 0
	})
	if idx > 0 {
		idx--
	}
	if !i.loadBlock(idx) {
		return
	}
	i.iter.SeekGE(key)
	i.skipExhausted()
}

// Next advances to the next version.
func (i *Iterator) Next() {
	if !i.Valid() {
		return
	}
	i.iter.Next()
	i.skipExhausted()
}

// Valid returns true if the iterator is positioned at a version.
func (i *Iterator) Valid() bool {
	return i.err == nil && i.iter != nil && i.iter.Valid()
}

// Error returns the error that invalidated the iterator, if any.
func (i *Iterator) Error() error {
	return i.err
}

// Key returns the encoded full key of the current version. It is only valid
// until the iterator moves.
func (i *Iterator) Key() []byte {
	return i.iter.Key()
}

// FullKey returns the decoded current key, aliasing Key.
func (i *Iterator) FullKey() base.FullKey {
	return base.MustDecodeFullKey(i.iter.Key())
}

// Value returns the decoded current value. The payload aliases the block.
func (i *Iterator) Value() (base.Value, error) {
	return base.DecodeValue(i.iter.Value())
}

// Close releases the iterator.
func (i *Iterator) Close() error {
	i.iter = nil
	return i.err
}

func (i *Iterator) loadBlock(idx int) bool {
	i.iter = nil
	i.blockIdx = idx
	if idx >= len(i.sst.Meta.BlockMetas) {
		return false
	}
	if err := i.ctx.Err(); err != nil {
		i.err = err
		return false
	}
	b, err := i.store.Block(i.ctx, i.sst, idx, i.policy)
	if err != nil {
		i.err = err
		return false
	}
	i.Stats.BlocksLoaded++
	i.iter = NewBlockIterator(b)
	return true
}

// skipExhausted moves to the following blocks while the current one is
// exhausted.
func (i *Iterator) skipExhausted() {
	for i.iter != nil && !i.iter.Valid() {
		if err := i.iter.Error(); err != nil {
			i.err = err
			return
		}
		if !i.loadBlock(i.blockIdx + 1) {
			return
		}
		i.iter.SeekToFirst()
	}
	if i.iter != nil && i.iter.Valid() {
		i.Stats.KeysRead++
	}
}
