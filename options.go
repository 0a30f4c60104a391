// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/sstable"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultSstableSize      = 256 << 20 // 256 MB
	defaultBlockSize        = 64 << 10  // 64 KB
	defaultMetaCacheSize    = 64 << 20
	defaultBlockCacheSize   = 128 << 20
	defaultIDFetchNumber    = 100
	defaultMaxSubCompaction = 4
	defaultPollInterval     = time.Second
)

// Options holds the optional parameters for a compactor. The zero value
// yields a usable configuration once EnsureDefaults has been called.
type Options struct {
	// SstableSize is the target size of an output table in bytes. A task may
	// override it with CompactTask.TargetFileSize.
	SstableSize int64

	// BlockSize is the target size of a data block in bytes.
	BlockSize int

	// BlockRestartInterval is the number of keys between restart points of a
	// data block.
	BlockRestartInterval int

	// BloomFalsePositive is the target false positive rate of the bloom
	// filters of output tables.
	BloomFalsePositive float64

	Compression sstable.Compression
	FilterKind  sstable.FilterKind

	// CompactorMemoryLimit bounds the memory held by the table buffers of all
	// running tasks, in bytes. It must exceed twice the sum of SstableSize and
	// BlockSize so that at least one output table can always be built.
	CompactorMemoryLimit int64

	// CompactionWorkerThreads bounds the number of sub-compactions running at
	// once across every task.
	CompactionWorkerThreads int

	// MaxConcurrentTasks bounds the number of tasks a Compactor runs at once.
	// Defaults to CompactionWorkerThreads.
	MaxConcurrentTasks int

	// SstableIDRemoteFetchNumber is the number of object ids fetched from the
	// metadata service at a time.
	SstableIDRemoteFetchNumber uint32

	// MaxSubCompaction is the maximum number of key ranges a task is split
	// into.
	MaxSubCompaction int

	// SplitByTable starts a new output table at every state table boundary.
	SplitByTable bool

	// DataDirectory is the object path prefix of tables.
	DataDirectory string

	MetaCacheCapacity  int64
	BlockCacheCapacity int64

	// ObjectStoreUploadBytesPerSec rate limits uploads when non-zero.
	ObjectStoreUploadBytesPerSec int64

	// TaskSelector chooses the input of the tasks a Compactor asks for.
	// Defaults to DefaultTaskSelector.
	TaskSelector TaskSelector

	// PollInterval is the interval at which a Compactor asks the metadata
	// service for tasks when it has spare capacity.
	PollInterval time.Duration

	// Logger used to write log messages.
	//
	// The default logger uses the Go standard library log package.
	Logger Logger

	// EventListener provides hooks to listening to significant compactor
	// events.
	EventListener *EventListener

	// MetricsRegisterer, if set, receives the compactor's prometheus
	// collectors.
	MetricsRegisterer prometheus.Registerer
}

// EnsureDefaults ensures that the default values for all options are set if a
// valid value was not already specified.
func (o *Options) EnsureDefaults() {
	if o.SstableSize <= 0 {
		o.SstableSize = defaultSstableSize
	}
	if o.BlockSize <= 0 {
		o.BlockSize = defaultBlockSize
	}
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = sstable.DefaultRestartInterval
	}
	if o.BloomFalsePositive <= 0 {
		o.BloomFalsePositive = 0.01
	}
	if o.CompactorMemoryLimit <= 0 {
		o.CompactorMemoryLimit = 4 * (o.SstableSize + int64(o.BlockSize))
	}
	if o.CompactionWorkerThreads <= 0 {
		o.CompactionWorkerThreads = runtime.GOMAXPROCS(0)
	}
	if o.MaxConcurrentTasks <= 0 {
		o.MaxConcurrentTasks = o.CompactionWorkerThreads
	}
	if o.SstableIDRemoteFetchNumber == 0 {
		o.SstableIDRemoteFetchNumber = defaultIDFetchNumber
	}
	if o.MaxSubCompaction <= 0 {
		o.MaxSubCompaction = defaultMaxSubCompaction
	}
	if o.DataDirectory == "" {
		o.DataDirectory = "hummock_001"
	}
	if o.MetaCacheCapacity == 0 {
		o.MetaCacheCapacity = defaultMetaCacheSize
	}
	if o.BlockCacheCapacity == 0 {
		o.BlockCacheCapacity = defaultBlockCacheSize
	}
	if o.TaskSelector == nil {
		o.TaskSelector = DefaultTaskSelector()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger
	}
	if o.EventListener == nil {
		o.EventListener = &EventListener{}
	}
	o.EventListener.EnsureDefaults(o.Logger)
}

// Validate verifies that the options are mutually consistent.
func (o *Options) Validate() error {
	// Note that we can presume Options.EnsureDefaults has been called, so there
	// is no need to check for zero values.

	var buf strings.Builder
	if minLimit := 2 * (o.SstableSize + int64(o.BlockSize)); o.CompactorMemoryLimit <= minLimit {
		fmt.Fprintf(&buf, "CompactorMemoryLimit (%d) must be > 2 * (SstableSize + BlockSize) (%d)\n",
			o.CompactorMemoryLimit, minLimit)
	}
	if int64(o.BlockSize) > o.SstableSize {
		fmt.Fprintf(&buf, "BlockSize (%d) must be <= SstableSize (%d)\n", o.BlockSize, o.SstableSize)
	}
	if o.BloomFalsePositive >= 1 {
		fmt.Fprintf(&buf, "BloomFalsePositive (%f) must be < 1\n", o.BloomFalsePositive)
	}
	if o.MaxConcurrentTasks < 1 {
		fmt.Fprintf(&buf, "MaxConcurrentTasks (%d) must be >= 1\n", o.MaxConcurrentTasks)
	}
	if o.ObjectStoreUploadBytesPerSec < 0 {
		fmt.Fprintf(&buf, "ObjectStoreUploadBytesPerSec (%d) must be >= 0\n", o.ObjectStoreUploadBytesPerSec)
	}

	if buf.Len() == 0 {
		return nil
	}
	return errors.New(buf.String())
}

// MakeBuilderOptions constructs sstable.BuilderOptions for output tables of
// the given capacity. A zero capacity uses SstableSize.
func (o *Options) MakeBuilderOptions(capacity int64) sstable.BuilderOptions {
	if capacity <= 0 {
		capacity = o.SstableSize
	}
	return sstable.BuilderOptions{
		Capacity:           int(capacity),
		BlockCapacity:      o.BlockSize,
		RestartInterval:    o.BlockRestartInterval,
		Compression:        o.Compression,
		FilterKind:         o.FilterKind,
		BloomFalsePositive: o.BloomFalsePositive,
	}
}

// MakeStoreOptions constructs sstable.StoreOptions from the receiver.
func (o *Options) MakeStoreOptions() sstable.StoreOptions {
	return sstable.StoreOptions{
		DataDirectory:      o.DataDirectory,
		BlockCacheCapacity: o.BlockCacheCapacity,
		MetaCacheCapacity:  o.MetaCacheCapacity,
	}
}

func (o *Options) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "[Options]\n")
	fmt.Fprintf(&buf, "  sstable_size=%d\n", o.SstableSize)
	fmt.Fprintf(&buf, "  block_size=%d\n", o.BlockSize)
	fmt.Fprintf(&buf, "  block_restart_interval=%d\n", o.BlockRestartInterval)
	fmt.Fprintf(&buf, "  bloom_false_positive=%g\n", o.BloomFalsePositive)
	fmt.Fprintf(&buf, "  compression=%s\n", o.Compression)
	fmt.Fprintf(&buf, "  filter_kind=%s\n", o.FilterKind)
	fmt.Fprintf(&buf, "  compactor_memory_limit=%d\n", o.CompactorMemoryLimit)
	fmt.Fprintf(&buf, "  compaction_worker_threads=%d\n", o.CompactionWorkerThreads)
	fmt.Fprintf(&buf, "  max_concurrent_tasks=%d\n", o.MaxConcurrentTasks)
	fmt.Fprintf(&buf, "  sstable_id_remote_fetch_number=%d\n", o.SstableIDRemoteFetchNumber)
	fmt.Fprintf(&buf, "  max_sub_compaction=%d\n", o.MaxSubCompaction)
	fmt.Fprintf(&buf, "  split_by_table=%t\n", o.SplitByTable)
	fmt.Fprintf(&buf, "  data_directory=%s\n", o.DataDirectory)
	fmt.Fprintf(&buf, "  meta_cache_capacity=%d\n", o.MetaCacheCapacity)
	fmt.Fprintf(&buf, "  block_cache_capacity=%d\n", o.BlockCacheCapacity)
	fmt.Fprintf(&buf, "  object_store_upload_bytes_per_sec=%d\n", o.ObjectStoreUploadBytesPerSec)
	fmt.Fprintf(&buf, "  poll_interval=%s\n", o.PollInterval)
	return buf.String()
}
