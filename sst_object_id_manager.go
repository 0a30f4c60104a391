// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// ObjectIDTrackerID identifies a registered object id watermark.
type ObjectIDTrackerID uint64

// SstObjectIDManager hands out object ids for new tables. Ids are allocated
// by the metadata service in batches of fetchNumber; only one batch request
// is in flight at a time and concurrent callers wait for it.
//
// The manager also tracks the smallest id each in-flight writer may still
// use, so that garbage collection of unreferenced objects can be bounded by
// Watermark.
type SstObjectIDManager struct {
	client      HummockMetaClient
	fetchNumber uint32

	mu struct {
		sync.Mutex
		available SstIDRange
		// fetching is non-nil while a batch request is in flight and is
		// closed once it completes.
		fetching    chan struct{}
		trackers    map[ObjectIDTrackerID]uint64
		nextTracker ObjectIDTrackerID
	}
}

// NewSstObjectIDManager returns a manager fetching fetchNumber ids per
// request.
func NewSstObjectIDManager(client HummockMetaClient, fetchNumber uint32) *SstObjectIDManager {
	m := &SstObjectIDManager{client: client, fetchNumber: max(fetchNumber, 1)}
	m.mu.trackers = make(map[ObjectIDTrackerID]uint64)
	return m
}

// GetNewSstObjectID returns an id no other caller received. It only blocks
// when the local batch is exhausted. If the metadata service cannot be
// reached the error is marked ErrConnectivity; no id is ever invented
// locally.
func (m *SstObjectIDManager) GetNewSstObjectID(ctx context.Context) (uint64, error) {
	for {
		m.mu.Lock()
		if m.mu.available.Len() > 0 {
			id := m.mu.available.Start
			m.mu.available.Start++
			m.mu.Unlock()
			return id, nil
		}
		if ch := m.mu.fetching; ch != nil {
			m.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		ch := make(chan struct{})
		m.mu.fetching = ch
		m.mu.Unlock()

		r, err := m.client.GetNewSstIDs(ctx, m.fetchNumber)

		m.mu.Lock()
		m.mu.fetching = nil
		close(ch)
		if err == nil {
			if r.Len() == 0 {
				err = errors.AssertionFailedf("meta service allocated an empty id range")
			} else {
				m.mu.available = r
			}
		}
		m.mu.Unlock()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			return 0, errors.Wrap(base.MarkConnectivityError(err), "fetching new object ids")
		}
	}
}

// AddWatermarkTracker registers a writer. Every id the writer obtains after
// this call is greater than or equal to the recorded watermark.
func (m *SstObjectIDManager) AddWatermarkTracker(ctx context.Context) (ObjectIDTrackerID, error) {
	id, err := m.GetNewSstObjectID(ctx)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mu.nextTracker++
	t := m.mu.nextTracker
	m.mu.trackers[t] = id
	return t, nil
}

// RemoveWatermarkTracker unregisters a writer.
func (m *SstObjectIDManager) RemoveWatermarkTracker(t ObjectIDTrackerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mu.trackers, t)
}

// Watermark returns the smallest id registered by an active tracker, or
// math.MaxUint64 if there is none. Objects with smaller ids are not being
// written.
func (m *SstObjectIDManager) Watermark() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := uint64(math.MaxUint64)
	for _, id := range m.mu.trackers {
		w = min(w, id)
	}
	return w
}
