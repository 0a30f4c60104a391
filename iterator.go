// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"bytes"
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/sstable"
)

// UserIterator iterates over the user keys of a set of tables as seen by a
// reader at an epoch: for every user key it returns the newest version at or
// below the epoch, skipping keys whose visible version is a delete or is
// deleted by a range tombstone.
type UserIterator struct {
	iter    *mergingIter
	deletes *sstable.CompactionDeleteRanges
	cursor  *sstable.DeleteRangeCursor
	epoch   Epoch
	opts    ReadOptions

	lastKey UserKey
	hasLast bool
	key     UserKey
	value   []byte
	valid   bool
	err     error
}

// NewUserIterator returns an unpositioned iterator over the tables at the
// given epoch.
func NewUserIterator(
	ctx context.Context,
	store *sstable.Store,
	tables []*sstable.SstableInfo,
	epoch Epoch,
	opts ReadOptions,
) (*UserIterator, error) {
	var b sstable.CompactionDeleteRangesBuilder
	iters := make([]internalIterator, 0, len(tables))
	for _, info := range tables {
		sst, err := store.Sstable(ctx, info)
		if err != nil {
			for _, it := range iters {
				_ = it.Close()
			}
			return nil, err
		}
		b.AddMonotonicEvents(sst.Meta.MonotonicEvents)
		iters = append(iters, sstable.NewIterator(ctx, store, sst, opts.CachePolicy))
	}
	return &UserIterator{
		iter:    newMergingIter(iters...),
		deletes: b.Build(0, false),
		epoch:   epoch,
		opts:    opts,
	}, nil
}

// Rewind positions the iterator at the first visible user key.
func (u *UserIterator) Rewind() {
	u.reset()
	u.iter.Rewind()
	u.findNext()
}

// SeekGE positions the iterator at the first visible user key greater than
// or equal to key.
func (u *UserIterator) SeekGE(key UserKey) {
	u.reset()
	u.iter.SeekGE(base.FullKey{UserKey: key, Epoch: base.EpochMax}.Encode(nil))
	u.findNext()
}

// Next advances to the next visible user key.
func (u *UserIterator) Next() {
	if !u.valid {
		return
	}
	u.iter.Next()
	u.findNext()
}

func (u *UserIterator) reset() {
	u.cursor = u.deletes.NewCursor()
	u.hasLast = false
	u.valid = false
	u.err = nil
}

func (u *UserIterator) findNext() {
	u.valid = false
	for ; u.iter.Valid(); u.iter.Next() {
		fk := base.MustDecodeFullKey(u.iter.Key())
		if u.hasLast && base.CompareUserKeys(fk.UserKey, u.lastKey) == 0 {
			// The user key was already resolved by a newer version.
			continue
		}
		if fk.Epoch > u.epoch {
			continue
		}
		u.lastKey = fk.UserKey.Clone()
		u.hasLast = true
		if !u.opts.IgnoreRangeTombstones {
			u.cursor.Seek(fk.UserKey)
			if e := u.cursor.EarliestDeleteWhichCanSeeKey(fk.Epoch); e != base.EpochMax && e <= u.epoch {
				continue
			}
		}
		v, err := u.iter.Value()
		if err != nil {
			u.err = err
			return
		}
		if v.IsDelete() {
			continue
		}
		u.key = u.lastKey
		u.value = bytes.Clone(v.Payload)
		u.valid = true
		return
	}
	u.err = u.iter.Error()
}

// Valid returns true if the iterator is positioned at a user key.
func (u *UserIterator) Valid() bool {
	return u.valid
}

// Key returns the current user key.
func (u *UserIterator) Key() UserKey {
	return u.key
}

// Value returns the payload of the current user key.
func (u *UserIterator) Value() []byte {
	return u.value
}

// Error returns the error that invalidated the iterator, if any.
func (u *UserIterator) Error() error {
	return u.err
}

// Close releases the iterator.
func (u *UserIterator) Close() error {
	return errors.CombineErrors(u.err, u.iter.Close())
}
