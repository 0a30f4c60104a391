// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import "context"

// Writer receives the encoded pieces of a table from a Builder.
type Writer interface {
	// WriteBlock appends an encoded data block.
	WriteBlock(block []byte) error
	// DataLen returns the number of bytes of data blocks written.
	DataLen() int
	// Finish appends the encoded meta block and makes the table durable.
	Finish(ctx context.Context, meta *Meta, encodedMeta []byte) error
	// Abort discards the table.
	Abort()
}

// UploadWriter buffers a table in memory and uploads it to a Store in a
// single request when finished.
type UploadWriter struct {
	store    *Store
	objectID uint64
	policy   CachePolicy
	buf      []byte
}

var _ Writer = (*UploadWriter)(nil)

// NewUploadWriter returns a writer for the table with the given object id.
// With CachePolicyFill the meta of the finished table is inserted into the
// store's meta cache.
func NewUploadWriter(store *Store, objectID uint64, policy CachePolicy, capacityHint int) *UploadWriter {
	return &UploadWriter{
		store:    store,
		objectID: objectID,
		policy:   policy,
		buf:      make([]byte, 0, capacityHint),
	}
}

// WriteBlock implements Writer.
func (w *UploadWriter) WriteBlock(block []byte) error {
	w.buf = append(w.buf, block...)
	return nil
}

// DataLen implements Writer.
func (w *UploadWriter) DataLen() int {
	return len(w.buf)
}

// Finish implements Writer.
func (w *UploadWriter) Finish(ctx context.Context, meta *Meta, encodedMeta []byte) error {
	w.buf = append(w.buf, encodedMeta...)
	if err := w.store.Upload(ctx, w.objectID, w.buf); err != nil {
		return err
	}
	if w.policy == CachePolicyFill {
		w.store.InsertMeta(w.objectID, meta)
	}
	w.buf = nil
	return nil
}

// Abort implements Writer.
func (w *UploadWriter) Abort() {
	w.buf = nil
}
