// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package objstorage defines the blob store that tables are uploaded to and
// read from, along with in-memory, local-filesystem and rate-limited
// implementations.
package objstorage

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ObjectStore is used to access and manage objects.
//
// An object is conceptually like a large immutable file. Objects are written
// once with Upload and never mutated; they are removed with Delete once no
// version references them.
type ObjectStore interface {
	// Upload writes the object at path. Uploading to an existing path
	// replaces the object.
	Upload(ctx context.Context, path string, data []byte) error
	// Read returns length bytes of the object starting at offset. A negative
	// length reads to the end of the object.
	Read(ctx context.Context, path string, offset, length int64) ([]byte, error)
	// Metadata returns the metadata of the object at path.
	Metadata(ctx context.Context, path string) (ObjectMetadata, error)
	// Delete removes the object at path. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, path string) error
	// List returns the metadata of every object whose path has the given
	// prefix, ordered by path.
	List(ctx context.Context, prefix string) ([]ObjectMetadata, error)
}

// ObjectMetadata describes an object.
type ObjectMetadata struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// ErrObjectNotFound is returned when reading or inspecting a missing object.
var ErrObjectNotFound = errors.New("objstorage: object not found")

// SstableSuffix is the suffix of table objects.
const SstableSuffix = ".sst"

// SstablePath returns the path of the table object with the given id under
// the data directory: {dataDir}/{objectID}.sst.
func SstablePath(dataDir string, objectID uint64) string {
	return path.Join(dataDir, fmt.Sprintf("%d%s", objectID, SstableSuffix))
}

// ParseSstablePath returns the object id of a table path, or false if the
// path does not name a table.
func ParseSstablePath(p string) (uint64, bool) {
	name, ok := strings.CutSuffix(path.Base(p), SstableSuffix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(name, 10, 64)
	return id, err == nil
}

// checkRange validates a read of [offset, offset+length) against an object of
// the given size and returns the resolved end offset.
func checkRange(p string, size, offset, length int64) (int64, error) {
	if offset < 0 || offset > size {
		return 0, errors.Newf("objstorage: read of %s at offset %d outside object of size %d", p, offset, size)
	}
	if length < 0 {
		return size, nil
	}
	end := offset + length
	if end > size {
		return 0, errors.Newf("objstorage: read of %s [%d, %d) outside object of size %d", p, offset, end, size)
	}
	return end, nil
}
