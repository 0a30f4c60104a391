// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package objstorage

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// InMemory is an ObjectStore holding objects in memory. It is used by tests and
// by local (single process) compaction.
type InMemory struct {
	mu struct {
		sync.RWMutex
		objects map[string]memObject
	}
}

type memObject struct {
	data    []byte
	modTime time.Time
}

var _ ObjectStore = (*InMemory)(nil)

// NewInMemory returns an empty in-memory store.
func NewInMemory() *InMemory {
	s := &InMemory{}
	s.mu.objects = make(map[string]memObject)
	return s
}

// Upload implements ObjectStore.
func (s *InMemory) Upload(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.objects[path] = memObject{data: bytes.Clone(data), modTime: time.Now()}
	return nil
}

// Read implements ObjectStore.
func (s *InMemory) Read(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.mu.objects[path]
	if !ok {
		return nil, errors.Wrapf(ErrObjectNotFound, "%s", path)
	}
	end, err := checkRange(path, int64(len(obj.data)), offset, length)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(obj.data[offset:end]), nil
}

// Metadata implements ObjectStore.
func (s *InMemory) Metadata(ctx context.Context, path string) (ObjectMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.mu.objects[path]
	if !ok {
		return ObjectMetadata{}, errors.Wrapf(ErrObjectNotFound, "%s", path)
	}
	return ObjectMetadata{Path: path, Size: int64(len(obj.data)), LastModified: obj.modTime}, nil
}

// Delete implements ObjectStore.
func (s *InMemory) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mu.objects, path)
	return nil
}

// List implements ObjectStore.
func (s *InMemory) List(ctx context.Context, prefix string) ([]ObjectMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []ObjectMetadata
	for p, obj := range s.mu.objects {
		if strings.HasPrefix(p, prefix) {
			res = append(res, ObjectMetadata{Path: p, Size: int64(len(obj.data)), LastModified: obj.modTime})
		}
	}
	slices.SortFunc(res, func(a, b ObjectMetadata) int { return strings.Compare(a.Path, b.Path) })
	return res, nil
}

// Len returns the number of objects held.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mu.objects)
}
