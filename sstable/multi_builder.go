// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// TableBuilderFactory opens builders for the output tables of a
// CapacitySplitTableBuilder.
type TableBuilderFactory interface {
	// OpenBuilder allocates a new object id and returns a builder for it. It
	// may block until resources for the table are available.
	OpenBuilder(ctx context.Context) (*Builder, error)
}

// CapacitySplitTableBuilder writes a sorted stream of versions into a
// sequence of tables, starting a new table once the current one reached its
// capacity. The versions of a user key never span two tables.
type CapacitySplitTableBuilder struct {
	factory TableBuilderFactory
	// splitByTable starts a new table whenever the state table id changes.
	splitByTable bool
	deletes      *CompactionDeleteRanges

	current     *Builder
	outputs     []*BuilderOutput
	lastUserKey base.UserKey
	hasLastKey  bool
	// lastSplit is the start of the key range of the current table, nil for
	// the first table of an unbounded range.
	lastSplit *base.UserKey
	// end bounds the key range of the last table, nil if unbounded.
	end *base.UserKey
}

// NewCapacitySplitTableBuilder returns a builder writing tables opened by
// factory. The delete events of deletes are distributed to the tables
// covering them.
func NewCapacitySplitTableBuilder(
	factory TableBuilderFactory, deletes *CompactionDeleteRanges, splitByTable bool,
) *CapacitySplitTableBuilder {
	return &CapacitySplitTableBuilder{
		factory:      factory,
		splitByTable: splitByTable,
		deletes:      deletes,
	}
}

// SetKeyRange restricts the builder to the user key range [start, end). Only
// the delete events of that range are written. A nil bound is unbounded. It
// must be called before the first Add.
func (b *CapacitySplitTableBuilder) SetKeyRange(start, end *base.UserKey) {
	b.lastSplit = start
	b.end = end
}

// Add appends a version. Versions must be added in increasing full key order.
func (b *CapacitySplitTableBuilder) Add(ctx context.Context, key base.FullKey, value base.Value) error {
	isNewUserKey := !b.hasLastKey || base.CompareUserKeys(b.lastUserKey, key.UserKey) != 0
	if isNewUserKey && b.current != nil {
		split := b.current.ReachedCapacity() ||
			(b.splitByTable && b.lastUserKey.TableID != key.UserKey.TableID)
		if split {
			end := key.UserKey.Clone()
			if err := b.seal(ctx, &end); err != nil {
				return err
			}
		}
	}
	if b.current == nil {
		if err := b.open(ctx); err != nil {
			return err
		}
	}
	if err := b.current.Add(key, value, isNewUserKey); err != nil {
		return err
	}
	if isNewUserKey {
		b.lastUserKey = key.UserKey.Clone()
		b.hasLastKey = true
	}
	return nil
}

func (b *CapacitySplitTableBuilder) open(ctx context.Context) error {
	w, err := b.factory.OpenBuilder(ctx)
	if err != nil {
		return errors.Wrap(err, "opening table builder")
	}
	b.current = w
	return nil
}

// seal finishes the current table, attaching the delete events of
// [lastSplit, end).
func (b *CapacitySplitTableBuilder) seal(ctx context.Context, end *base.UserKey) error {
	if b.deletes != nil {
		if events := b.deletes.EventsBetween(b.lastSplit, end); len(events) > 0 {
			if b.current == nil {
				if err := b.open(ctx); err != nil {
					return err
				}
			}
			b.current.AddMonotonicDeleteEvents(events)
		}
	}
	b.lastSplit = end
	if b.current == nil {
		return nil
	}
	w := b.current
	b.current = nil
	out, err := w.Finish(ctx)
	if err != nil {
		return errors.Wrapf(err, "finishing table %d", w.ObjectID())
	}
	b.outputs = append(b.outputs, out)
	return nil
}

// Len returns the number of tables finished so far.
func (b *CapacitySplitTableBuilder) Len() int {
	return len(b.outputs)
}

// Finish seals the last table and returns every table written. Delete events
// past the last version produce a table of their own if needed. The builder
// must not be used afterwards.
func (b *CapacitySplitTableBuilder) Finish(ctx context.Context) ([]*BuilderOutput, error) {
	if err := b.seal(ctx, b.end); err != nil {
		return nil, err
	}
	return b.outputs, nil
}

// Abort discards the table being built. Tables already finished are left to
// the caller.
func (b *CapacitySplitTableBuilder) Abort() {
	if b.current != nil {
		b.current.Abort()
		b.current = nil
	}
}
