// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import "github.com/cockroachdb/errors"

type mergingIterLevel struct {
	index int
	iter  internalIterator
}

// mergingIter provides a merged view of multiple iterators from different
// levels of the LSM.
//
// The merging iterator does not collapse the versions of a user key: every
// version of every input is returned, ordered by user key ascending and then
// by epoch descending. Inputs are expected to hold distinct full keys; when
// two inputs hold the same full key the earlier input is returned first.
type mergingIter struct {
	levels []mergingIterLevel
	heap   mergingIterHeap
	err    error
}

var _ internalIterator = (*mergingIter)(nil)

// newMergingIter returns an iterator that merges its input. Walking the
// resultant iterator will return all key/value pairs of all input iterators
// in strictly increasing key order.
//
// None of the iters may be nil.
func newMergingIter(iters ...internalIterator) *mergingIter {
	m := &mergingIter{levels: make([]mergingIterLevel, len(iters))}
	for i, iter := range iters {
		m.levels[i] = mergingIterLevel{index: i, iter: iter}
	}
	m.heap.items = make([]mergingIterHeapItem, 0, len(iters))
	return m
}

func (m *mergingIter) initHeap() {
	m.heap.clear()
	for i := range m.levels {
		l := &m.levels[i]
		if l.iter.Valid() {
			m.heap.items = append(m.heap.items, mergingIterHeapItem{mergingIterLevel: l})
		} else if err := l.iter.Error(); err != nil {
			m.err = err
		}
	}
	m.heap.init()
}

// Rewind implements internalIterator.
func (m *mergingIter) Rewind() {
	m.err = nil
	for i := range m.levels {
		m.levels[i].iter.Rewind()
	}
	m.initHeap()
}

// SeekGE implements internalIterator.
func (m *mergingIter) SeekGE(key []byte) {
	m.err = nil
	for i := range m.levels {
		m.levels[i].iter.SeekGE(key)
	}
	m.initHeap()
}

// Next implements internalIterator.
func (m *mergingIter) Next() {
	if !m.Valid() {
		return
	}
	top := m.heap.items[0].mergingIterLevel
	top.iter.Next()
	if top.iter.Valid() {
		m.heap.fixTop()
		return
	}
	if err := top.iter.Error(); err != nil {
		m.err = err
		return
	}
	m.heap.pop()
}

// Valid implements internalIterator.
func (m *mergingIter) Valid() bool {
	return m.err == nil && m.heap.len() > 0
}

// Key implements internalIterator.
func (m *mergingIter) Key() []byte {
	return m.heap.items[0].iter.Key()
}

// Value implements internalIterator.
func (m *mergingIter) Value() (Value, error) {
	return m.heap.items[0].iter.Value()
}

// Error implements internalIterator.
func (m *mergingIter) Error() error {
	return m.err
}

// Close implements internalIterator.
func (m *mergingIter) Close() error {
	err := m.err
	for i := range m.levels {
		err = errors.CombineErrors(err, m.levels[i].iter.Close())
	}
	m.levels = nil
	m.heap.items = nil
	return err
}
