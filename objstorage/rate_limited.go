// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package objstorage

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/tokenbucket"
)

// RateLimited wraps an ObjectStore and paces uploads to a target byte rate.
// Reads, deletes and listings are not paced.
type RateLimited struct {
	ObjectStore

	mu struct {
		sync.Mutex
		limiter tokenbucket.TokenBucket
	}
}

// NewRateLimited returns a store that paces uploads to bytesPerSec. A
// non-positive rate returns the wrapped store unchanged.
func NewRateLimited(store ObjectStore, bytesPerSec int64) ObjectStore {
	if bytesPerSec <= 0 {
		return store
	}
	r := &RateLimited{ObjectStore: store}
	r.mu.limiter.Init(tokenbucket.TokensPerSecond(bytesPerSec), tokenbucket.Tokens(bytesPerSec))
	return r
}

// Upload implements ObjectStore.
func (r *RateLimited) Upload(ctx context.Context, path string, data []byte) error {
	if err := r.wait(ctx, int64(len(data))); err != nil {
		return err
	}
	return r.ObjectStore.Upload(ctx, path, data)
}

// wait blocks until n bytes worth of tokens are available. Objects larger
// than the burst drive the bucket into debt rather than blocking forever.
func (r *RateLimited) wait(ctx context.Context, n int64) error {
	for {
		r.mu.Lock()
		ok, d := r.mu.limiter.TryToFulfill(tokenbucket.Tokens(n))
		r.mu.Unlock()
		if ok {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
