// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package cache implements the epoch-aware LRU caches used for table blocks,
// table metas and streaming state.
//
// Every entry records the epoch of the cache at the time the entry was last
// inserted or touched. Since the cache epoch never decreases and touching an
// entry moves it to the front of the recency list, the list is ordered by
// epoch as well as by recency: evicting every entry older than an epoch only
// needs to pop from the back of the list.
package cache

import "github.com/cockroachdb/swiss"

type entry[K comparable, V any] struct {
	key        K
	value      V
	epoch      uint64
	next, prev *entry[K, V]
}

// entryList is a double-linked circular list of *entry elements. The code is
// derived from the stdlib container/list but customized to entry in order to
// avoid a separate allocation for every element.
type entryList[K comparable, V any] struct {
	root entry[K, V]
}

func (l *entryList[K, V]) init() {
	l.root.next = &l.root
	l.root.prev = &l.root
}

func (l *entryList[K, V]) empty() bool {
	return l.root.next == &l.root
}

func (l *entryList[K, V]) back() *entry[K, V] {
	return l.root.prev
}

func (l *entryList[K, V]) insertAfter(e, at *entry[K, V]) {
	n := at.next
	at.next = e
	e.prev = at
	e.next = n
	n.prev = e
}

func (l *entryList[K, V]) remove(e *entry[K, V]) *entry[K, V] {
	if e == &l.root {
		panic("cannot remove root list node")
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next = nil // avoid memory leaks
	e.prev = nil // avoid memory leaks
	return e
}

func (l *entryList[K, V]) pushFront(e *entry[K, V]) {
	l.insertAfter(e, &l.root)
}

func (l *entryList[K, V]) moveToFront(e *entry[K, V]) {
	if l.root.next == e {
		return
	}
	l.insertAfter(l.remove(e), &l.root)
}

// LRU is an epoch-aware least recently used cache. It is not safe for
// concurrent use.
type LRU[K comparable, V any] struct {
	index swiss.Map[K, *entry[K, V]]
	lru   entryList[K, V]
	epoch uint64
}

// NewLRU returns an empty cache.
func NewLRU[K comparable, V any]() *LRU[K, V] {
	c := &LRU[K, V]{}
	c.init()
	return c
}

func (c *LRU[K, V]) init() {
	c.index.Init(0)
	c.lru.init()
}

// UpdateEpoch advances the epoch assigned to entries touched from now on.
// Epochs never move backwards.
func (c *LRU[K, V]) UpdateEpoch(epoch uint64) {
	c.epoch = max(c.epoch, epoch)
}

// CurrentEpoch returns the epoch assigned to touched entries.
func (c *LRU[K, V]) CurrentEpoch() uint64 {
	return c.epoch
}

// Put inserts or replaces the value of k and marks it most recently used. It
// returns the replaced value, if any.
func (c *LRU[K, V]) Put(k K, v V) (old V, replaced bool) {
	if e, ok := c.index.Get(k); ok {
		old, e.value, e.epoch = e.value, v, c.epoch
		c.lru.moveToFront(e)
		return old, true
	}
	e := &entry[K, V]{key: k, value: v, epoch: c.epoch}
	c.index.Put(k, e)
	c.lru.pushFront(e)
	return old, false
}

func (c *LRU[K, V]) touch(k K) *entry[K, V] {
	e, ok := c.index.Get(k)
	if !ok {
		return nil
	}
	e.epoch = c.epoch
	c.lru.moveToFront(e)
	return e
}

// Get returns the value of k and marks it most recently used.
func (c *LRU[K, V]) Get(k K) (v V, ok bool) {
	if e := c.touch(k); e != nil {
		return e.value, true
	}
	return v, false
}

// GetMut is like Get but returns a pointer through which the value can be
// modified in place. The pointer is invalidated by any other call on the
// cache.
func (c *LRU[K, V]) GetMut(k K) (*V, bool) {
	if e := c.touch(k); e != nil {
		return &e.value, true
	}
	return nil, false
}

// Peek returns the value of k without touching it.
func (c *LRU[K, V]) Peek(k K) (v V, ok bool) {
	if e, ok := c.index.Get(k); ok {
		return e.value, true
	}
	return v, false
}

// PeekMut is like GetMut without touching the entry.
func (c *LRU[K, V]) PeekMut(k K) (*V, bool) {
	if e, ok := c.index.Get(k); ok {
		return &e.value, true
	}
	return nil, false
}

// Contains returns true if k is cached. It does not touch the entry.
func (c *LRU[K, V]) Contains(k K) bool {
	_, ok := c.index.Get(k)
	return ok
}

// Remove removes k, returning its value.
func (c *LRU[K, V]) Remove(k K) (v V, ok bool) {
	e, ok := c.index.Get(k)
	if !ok {
		return v, false
	}
	c.index.Delete(k)
	c.lru.remove(e)
	return e.value, true
}

// PopLRU removes the least recently used entry.
func (c *LRU[K, V]) PopLRU() (k K, v V, ok bool) {
	if c.lru.empty() {
		return k, v, false
	}
	e := c.lru.remove(c.lru.back())
	c.index.Delete(e.key)
	return e.key, e.value, true
}

// PopLRUByEpoch removes the least recently used entry if it was last touched
// before the given epoch.
func (c *LRU[K, V]) PopLRUByEpoch(epoch uint64) (k K, v V, ok bool) {
	if c.lru.empty() || c.lru.back().epoch >= epoch {
		return k, v, false
	}
	return c.PopLRU()
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	return c.index.Len()
}

// Clear removes every entry. The epoch is preserved.
func (c *LRU[K, V]) Clear() {
	c.init()
}
