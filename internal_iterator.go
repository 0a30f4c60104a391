// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import "github.com/cockroachdb/hummock/sstable"

// internalIterator iterates over the versions of one or more tables in full
// key order: user key ascending, then epoch descending. Keys are encoded full
// keys and are only valid until the iterator moves.
type internalIterator interface {
	// Rewind positions the iterator at the first version.
	Rewind()
	// SeekGE positions the iterator at the first version whose encoded full
	// key is greater than or equal to key.
	SeekGE(key []byte)
	Next()
	Valid() bool
	Key() []byte
	Value() (Value, error)
	// Error returns the error that invalidated the iterator, if any.
	Error() error
	Close() error
}

var _ internalIterator = (*sstable.Iterator)(nil)
