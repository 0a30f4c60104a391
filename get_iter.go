// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"bytes"
	"context"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/sstable"
)

// ReadOptions configure point gets and user iterators.
type ReadOptions struct {
	// Extractor computes the filter key of a looked up key. It must match the
	// extractor the tables were built with. Nil skips the filters.
	Extractor sstable.FilterKeyExtractor
	// CachePolicy is the block cache policy of the reads.
	CachePolicy sstable.CachePolicy
	// IgnoreRangeTombstones returns versions deleted by range tombstones.
	IgnoreRangeTombstones bool
}

// Get returns the payload of the newest version of key visible at epoch, or
// ErrNotFound. The tables are searched in order and must be ordered from the
// newest data to the oldest: level 0 newest first, then the tables of the
// deeper levels.
func Get(
	ctx context.Context,
	store *sstable.Store,
	tables []*sstable.SstableInfo,
	key UserKey,
	epoch Epoch,
	opts ReadOptions,
) ([]byte, error) {
	seekKey := base.FullKey{UserKey: key, Epoch: epoch}.Encode(nil)
	for _, info := range tables {
		if !mayContainUserKey(info, key) {
			continue
		}
		sst, err := store.Sstable(ctx, info)
		if err != nil {
			return nil, err
		}
		// Versions below deleteEpoch are deleted by a range tombstone visible
		// at epoch.
		deleteEpoch := base.EpochMax
		if !opts.IgnoreRangeTombstones {
			if e := sstable.MinDeleteEpoch(sst.Meta.MonotonicEvents, key); e <= epoch {
				deleteEpoch = e
			}
		}
		if deleteEpoch == base.EpochMax && opts.Extractor != nil {
			if dk := opts.Extractor.Extract(key); dk != nil &&
				!sst.MayMatchHash(sstable.FilterHash(dk, key.TableID)) {
				continue
			}
		}
		payload, found, err := getFromTable(ctx, store, sst, seekKey, key, deleteEpoch, opts.CachePolicy)
		if err != nil || found {
			return payload, err
		}
		if deleteEpoch != base.EpochMax {
			return nil, ErrNotFound
		}
	}
	return nil, ErrNotFound
}

// getFromTable looks up the newest version of key at or below the epoch of
// seekKey. found is set when the table decides the lookup, in which case a
// nil payload with ErrNotFound means the key is deleted.
func getFromTable(
	ctx context.Context,
	store *sstable.Store,
	sst *sstable.Sstable,
	seekKey []byte,
	key UserKey,
	deleteEpoch Epoch,
	policy sstable.CachePolicy,
) (payload []byte, found bool, err error) {
	it := sstable.NewIterator(ctx, store, sst, policy)
	defer func() {
		if cerr := it.Close(); err == nil {
			err = cerr
		}
	}()
	it.SeekGE(seekKey)
	if !it.Valid() {
		return nil, false, nil
	}
	fk := it.FullKey()
	if base.CompareUserKeys(fk.UserKey, key) != 0 {
		return nil, false, nil
	}
	if fk.Epoch < deleteEpoch && deleteEpoch != base.EpochMax {
		return nil, true, ErrNotFound
	}
	v, err := it.Value()
	if err != nil {
		return nil, true, err
	}
	if v.IsDelete() {
		return nil, true, ErrNotFound
	}
	return bytes.Clone(v.Payload), true, nil
}

// mayContainUserKey returns false if key is outside the key range of the
// table.
func mayContainUserKey(info *sstable.SstableInfo, key UserKey) bool {
	left, err := base.DecodeFullKey(info.KeyRange.Left)
	if err != nil {
		return true
	}
	right, err := base.DecodeFullKey(info.KeyRange.Right)
	if err != nil {
		return true
	}
	return base.CompareUserKeys(left.UserKey, key) <= 0 && base.CompareUserKeys(key, right.UserKey) <= 0
}
