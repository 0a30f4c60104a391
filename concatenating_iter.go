// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"
	"sort"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/sstable"
)

// concatenatingIter walks the tables of a level whose key ranges do not
// overlap, exhausting each table before moving on to the next. Tables must
// be sorted by key range.
type concatenatingIter struct {
	ctx    context.Context
	store  *sstable.Store
	tables []*sstable.Sstable
	policy sstable.CachePolicy

	idx   int
	iter  *sstable.Iterator
	err   error
	stats sstable.IteratorStats
}

var _ internalIterator = (*concatenatingIter)(nil)

func newConcatenatingIter(
	ctx context.Context, store *sstable.Store, tables []*sstable.Sstable, policy sstable.CachePolicy,
) *concatenatingIter {
	return &concatenatingIter{ctx: ctx, store: store, tables: tables, policy: policy}
}

func (c *concatenatingIter) open(idx int) {
	c.closeCurrent()
	c.idx = idx
	if idx < len(c.tables) {
		c.iter = sstable.NewIterator(c.ctx, c.store, c.tables[idx], c.policy)
	}
}

func (c *concatenatingIter) closeCurrent() {
	if c.iter != nil {
		c.stats.BlocksLoaded += c.iter.Stats.BlocksLoaded
		c.stats.KeysRead += c.iter.Stats.KeysRead
		_ = c.iter.Close()
		c.iter = nil
	}
}

// Rewind implements internalIterator.
func (c *concatenatingIter) Rewind() {
	c.err = nil
	c.open(0)
	if c.iter != nil {
		c.iter.Rewind()
	}
	c.skipExhausted()
}

// SeekGE implements internalIterator.
func (c *concatenatingIter) SeekGE(key []byte) {
	c.err = nil
	// The first table whose largest key is not before key.
	idx := sort.Search(len(c.tables), func(i int) bool {
		return base.CompareEncodedFullKeys(c.tables[i].Meta.LargestKey, key) >= 0
	})
	c.open(idx)
	if c.iter != nil {
		c.iter.SeekGE(key)
	}
	c.skipExhausted()
}

// Next implements internalIterator.
func (c *concatenatingIter) Next() {
	if !c.Valid() {
		return
	}
	c.iter.Next()
	c.skipExhausted()
}

func (c *concatenatingIter) skipExhausted() {
	for c.iter != nil && !c.iter.Valid() {
		if err := c.iter.Error(); err != nil {
			c.err = err
			return
		}
		c.open(c.idx + 1)
		if c.iter != nil {
			c.iter.Rewind()
		}
	}
}

// Valid implements internalIterator.
func (c *concatenatingIter) Valid() bool {
	return c.err == nil && c.iter != nil && c.iter.Valid()
}

// Key implements internalIterator.
func (c *concatenatingIter) Key() []byte {
	return c.iter.Key()
}

// Value implements internalIterator.
func (c *concatenatingIter) Value() (Value, error) {
	return c.iter.Value()
}

// Error implements internalIterator.
func (c *concatenatingIter) Error() error {
	return c.err
}

// Close implements internalIterator.
func (c *concatenatingIter) Close() error {
	c.closeCurrent()
	return c.err
}
