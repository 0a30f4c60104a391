// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/cockroachdb/crlib/fifo"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// MemoryLimiter bounds the memory held by in-flight compaction buffers.
// Requests are granted in FIFO order, so a large request is not starved by a
// stream of small ones.
type MemoryLimiter struct {
	limit int64
	// sem is nil for an unlimited limiter.
	sem   *fifo.Semaphore
	inUse atomic.Int64
}

// NewMemoryLimiter returns a limiter granting at most limit bytes at once.
func NewMemoryLimiter(limit int64) *MemoryLimiter {
	if limit <= 0 {
		panic(errors.AssertionFailedf("memory limit must be positive: %d", limit))
	}
	return &MemoryLimiter{limit: limit, sem: fifo.NewSemaphore(limit)}
}

// UnlimitedMemoryLimiter returns a limiter that grants every request
// immediately while still accounting for usage.
func UnlimitedMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{limit: math.MaxInt64}
}

// Limit returns the configured bound.
func (l *MemoryLimiter) Limit() int64 {
	return l.limit
}

// InUse returns the number of bytes currently granted.
func (l *MemoryLimiter) InUse() int64 {
	return l.inUse.Load()
}

// Acquire blocks until n bytes are available or ctx is done. A request
// larger than the limit can never be granted and fails immediately with an
// error marked ErrResourceExhausted.
func (l *MemoryLimiter) Acquire(ctx context.Context, n int64) (*MemoryPermit, error) {
	if n < 0 {
		return nil, errors.AssertionFailedf("negative memory request: %d", n)
	}
	if l.sem != nil {
		if n > l.limit {
			return nil, base.ResourceExhaustedErrorf("memory request of %d bytes exceeds the limit of %d bytes",
				errors.Safe(n), errors.Safe(l.limit))
		}
		if err := l.sem.Acquire(ctx, n); err != nil {
			return nil, err
		}
	}
	l.inUse.Add(n)
	return &MemoryPermit{limiter: l, n: n}, nil
}

// TryAcquire grants n bytes if they are available right away.
func (l *MemoryLimiter) TryAcquire(n int64) (*MemoryPermit, bool) {
	if l.sem != nil && (n > l.limit || !l.sem.TryAcquire(n)) {
		return nil, false
	}
	l.inUse.Add(n)
	return &MemoryPermit{limiter: l, n: n}, true
}

// MemoryPermit is a grant of memory from a MemoryLimiter. It must be released
// exactly once.
type MemoryPermit struct {
	limiter  *MemoryLimiter
	n        int64
	released atomic.Bool
}

// Size returns the number of bytes granted.
func (p *MemoryPermit) Size() int64 {
	return p.n
}

// Release returns the memory to the limiter.
func (p *MemoryPermit) Release() {
	if !p.released.CompareAndSwap(false, true) {
		panic(errors.AssertionFailedf("memory permit of %d bytes released twice", p.n))
	}
	l := p.limiter
	l.inUse.Add(-p.n)
	if l.sem != nil {
		l.sem.Release(p.n)
	}
}
