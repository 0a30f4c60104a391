// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/errors"

// ErrCorruption is a marker to indicate that data in an object (footer, meta
// block, data block) is malformed: a magic, version or checksum mismatch, or a
// truncated encoding. Corrupt objects are never retried.
var ErrCorruption = errors.New("hummock: corruption")

// ErrConnectivity is a marker for failures reaching the metadata service or
// the object store. Retries are the responsibility of the task scheduler.
var ErrConnectivity = errors.New("hummock: connectivity")

// ErrResourceExhausted is a marker for requests the memory limiter can never
// satisfy within its configured bound.
var ErrResourceExhausted = errors.New("hummock: resource exhausted")

// ErrCancelled is a marker for work abandoned because its task was cancelled.
var ErrCancelled = errors.New("hummock: cancelled")

// ErrNotFound means that a get did not find the requested key.
var ErrNotFound = errors.New("hummock: not found")

// MarkCorruptionError marks the given error as a corruption error.
func MarkCorruptionError(err error) error {
	if errors.Is(err, ErrCorruption) {
		return err
	}
	return errors.Mark(err, ErrCorruption)
}

// CorruptionErrorf formats according to a format specifier and returns
// the string as an error value that is marked as a corruption error.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// MarkConnectivityError marks err as a connectivity error.
func MarkConnectivityError(err error) error {
	if err == nil || errors.Is(err, ErrConnectivity) {
		return err
	}
	return errors.Mark(err, ErrConnectivity)
}

// ResourceExhaustedErrorf returns a formatted error marked as
// ErrResourceExhausted.
func ResourceExhaustedErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrResourceExhausted)
}

// AssertionFailedf creates an assertion error and panics in invariant-checking
// code paths. Violations mean continuing could corrupt a version.
func AssertionFailedf(format string, args ...interface{}) error {
	return errors.AssertionFailedf(format, args...)
}
