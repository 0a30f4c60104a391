// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// FilterKeyExtractor selects the bytes of a user key that participate in the
// table filter (its distribution key). A nil result leaves the key out of the
// filter.
type FilterKeyExtractor interface {
	Extract(key base.UserKey) []byte
}

// FullKeyExtractor uses the whole table key.
type FullKeyExtractor struct{}

// Extract implements FilterKeyExtractor.
func (FullKeyExtractor) Extract(key base.UserKey) []byte {
	return key.TableKey
}

// FixedLengthExtractor uses a fixed-length prefix of the table key. Keys
// shorter than the prefix are left out of the filter.
type FixedLengthExtractor struct {
	Len int
}

// Extract implements FilterKeyExtractor.
func (e FixedLengthExtractor) Extract(key base.UserKey) []byte {
	if len(key.TableKey) < e.Len {
		return nil
	}
	return key.TableKey[:e.Len]
}

// DummyExtractor leaves every key out of the filter.
type DummyExtractor struct{}

// Extract implements FilterKeyExtractor.
func (DummyExtractor) Extract(base.UserKey) []byte {
	return nil
}

// MultiExtractor dispatches on the table id of the key. Keys of tables
// without an extractor are left out of the filter.
type MultiExtractor struct {
	extractors map[base.TableID]FilterKeyExtractor
}

// Extract implements FilterKeyExtractor.
func (e *MultiExtractor) Extract(key base.UserKey) []byte {
	if ex, ok := e.extractors[key.TableID]; ok {
		return ex.Extract(key)
	}
	return nil
}

// Len returns the number of tables with an extractor.
func (e *MultiExtractor) Len() int {
	return len(e.extractors)
}

// FilterKeyExtractorManager is the registry of filter key extractors of the
// state tables known to a compactor.
type FilterKeyExtractorManager struct {
	mu         sync.RWMutex
	extractors map[base.TableID]FilterKeyExtractor
}

// NewFilterKeyExtractorManager returns an empty registry.
func NewFilterKeyExtractorManager() *FilterKeyExtractorManager {
	return &FilterKeyExtractorManager{extractors: make(map[base.TableID]FilterKeyExtractor)}
}

// Update registers the extractor of a table.
func (m *FilterKeyExtractorManager) Update(id base.TableID, e FilterKeyExtractor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractors[id] = e
}

// Remove drops the extractor of a table.
func (m *FilterKeyExtractorManager) Remove(id base.TableID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.extractors, id)
}

// Acquire returns an extractor for the given tables. Every table must be
// registered.
func (m *FilterKeyExtractorManager) Acquire(ids []base.TableID) (*MultiExtractor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := &MultiExtractor{extractors: make(map[base.TableID]FilterKeyExtractor, len(ids))}
	for _, id := range ids {
		e, ok := m.extractors[id]
		if !ok {
			return nil, errors.Newf("no filter key extractor registered for table %d", id)
		}
		res.extractors[id] = e
	}
	return res, nil
}

// AcquireOrDefault is like Acquire but uses def for the tables without a
// registered extractor.
func (m *FilterKeyExtractorManager) AcquireOrDefault(ids []base.TableID, def FilterKeyExtractor) *MultiExtractor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := &MultiExtractor{extractors: make(map[base.TableID]FilterKeyExtractor, len(ids))}
	for _, id := range ids {
		if e, ok := m.extractors[id]; ok {
			res.extractors[id] = e
		} else {
			res.extractors[id] = def
		}
	}
	return res
}
