// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base defines fundamental types used across hummock: keys and their
// encodings, values, error markers and the logger interface.
//
// # Keys
//
// A [UserKey] is a state table id followed by the table-local key bytes. A
// [FullKey] tags a user key with the [Epoch] of the version it names. Full
// keys are encoded as the big-endian table id, the table key and the
// big-endian epoch, and are ordered by user key ascending and then by epoch
// descending so that the newest version of a user key sorts first. Encoded
// full keys must be compared with [CompareEncodedFullKeys]: the epoch suffix
// does not sort bytewise.
//
// A [PointRange] is a boundary of a delete range. Its ExcludeLeftKey flag
// places the boundary immediately after its user key.
package base
