// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import "github.com/cockroachdb/hummock/internal/base"

// TableID exports the base.TableID type.
type TableID = base.TableID

// Epoch exports the base.Epoch type.
type Epoch = base.Epoch

// EpochMax exports the base.EpochMax constant.
const EpochMax = base.EpochMax

// EpochFromPhysicalTime returns the epoch of a physical time in
// milliseconds.
func EpochFromPhysicalTime(ms uint64) Epoch {
	return base.EpochFromPhysicalTime(ms)
}

// UserKey exports the base.UserKey type.
type UserKey = base.UserKey

// FullKey exports the base.FullKey type.
type FullKey = base.FullKey

// Value exports the base.Value type.
type Value = base.Value

// Logger exports the base.Logger type.
type Logger = base.Logger

// DefaultLogger exports the base.DefaultLogger value.
var DefaultLogger = base.DefaultLogger

// MakeUserKey constructs a user key of the given state table.
func MakeUserKey(tableID TableID, tableKey []byte) UserKey {
	return base.MakeUserKey(tableID, tableKey)
}

// MakeFullKey constructs a full key.
func MakeFullKey(tableID TableID, tableKey []byte, epoch Epoch) FullKey {
	return base.MakeFullKey(tableID, tableKey, epoch)
}

// PutValue returns a put of the given payload.
func PutValue(payload []byte) Value {
	return base.PutValue(payload)
}

// DeleteValue returns a point delete.
func DeleteValue() Value {
	return base.DeleteValue()
}

// ErrCorruption exports the base.ErrCorruption marker.
var ErrCorruption = base.ErrCorruption

// ErrConnectivity exports the base.ErrConnectivity marker.
var ErrConnectivity = base.ErrConnectivity

// ErrResourceExhausted exports the base.ErrResourceExhausted marker.
var ErrResourceExhausted = base.ErrResourceExhausted

// ErrCancelled exports the base.ErrCancelled marker.
var ErrCancelled = base.ErrCancelled

// ErrNotFound exports the base.ErrNotFound marker.
var ErrNotFound = base.ErrNotFound
