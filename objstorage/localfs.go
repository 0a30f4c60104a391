// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package objstorage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// LocalFS is an ObjectStore rooted at a directory of the local filesystem.
// Object paths are slash separated and relative to the root.
type LocalFS struct {
	root string
}

var _ ObjectStore = (*LocalFS)(nil)

// NewLocalFS returns a store rooted at dir, creating the directory if needed.
func NewLocalFS(dir string) (*LocalFS, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, base.MarkConnectivityError(errors.Wrapf(err, "creating %s", dir))
	}
	return &LocalFS{root: dir}, nil
}

func (s *LocalFS) filename(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(p))
}

// Upload implements ObjectStore. The object is written to a temporary file
// and synced before being renamed into place, so readers never observe a
// partially written object.
func (s *LocalFS) Upload(ctx context.Context, p string, data []byte) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := s.filename(p)
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return base.MarkConnectivityError(err)
	}
	tmp := name + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return base.MarkConnectivityError(err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err == nil {
		err = f.Sync()
	}
	if err = errors.CombineErrors(err, f.Close()); err != nil {
		return base.MarkConnectivityError(err)
	}
	return base.MarkConnectivityError(os.Rename(tmp, name))
}

// Read implements ObjectStore.
func (s *LocalFS) Read(ctx context.Context, p string, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.filename(p))
	if err != nil {
		return nil, s.translate(p, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, base.MarkConnectivityError(err)
	}
	end, err := checkRange(p, info.Size(), offset, length)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, end-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, base.MarkConnectivityError(err)
	}
	return buf, nil
}

// Metadata implements ObjectStore.
func (s *LocalFS) Metadata(ctx context.Context, p string) (ObjectMetadata, error) {
	info, err := os.Stat(s.filename(p))
	if err != nil {
		return ObjectMetadata{}, s.translate(p, err)
	}
	return ObjectMetadata{Path: p, Size: info.Size(), LastModified: info.ModTime()}, nil
}

// Delete implements ObjectStore.
func (s *LocalFS) Delete(ctx context.Context, p string) error {
	if err := os.Remove(s.filename(p)); err != nil && !os.IsNotExist(err) {
		return base.MarkConnectivityError(err)
	}
	return nil
}

// List implements ObjectStore.
func (s *LocalFS) List(ctx context.Context, prefix string) ([]ObjectMetadata, error) {
	var res []ObjectMetadata
	err := filepath.WalkDir(s.root, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(name, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.root, name)
		if err != nil {
			return err
		}
		p := filepath.ToSlash(rel)
		if !strings.HasPrefix(p, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		res = append(res, ObjectMetadata{Path: p, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, base.MarkConnectivityError(err)
	}
	slices.SortFunc(res, func(a, b ObjectMetadata) int { return strings.Compare(a.Path, b.Path) })
	return res, nil
}

func (s *LocalFS) translate(p string, err error) error {
	if os.IsNotExist(err) {
		return errors.Wrapf(ErrObjectNotFound, "%s", p)
	}
	return base.MarkConnectivityError(err)
}
