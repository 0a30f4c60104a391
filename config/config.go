// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package config loads the YAML configuration of a compactor.
package config

import (
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock"
	"github.com/cockroachdb/hummock/sstable"
	"github.com/shirou/gopsutil/v3/mem"
	"gopkg.in/yaml.v3"
)

// StorageConfig holds the table layout and object store configuration.
type StorageConfig struct {
	SstableSizeMB        int64   `yaml:"sstable_size_mb"`
	BlockSizeKB          int     `yaml:"block_size_kb"`
	BloomFalsePositive   float64 `yaml:"bloom_false_positive"`
	CompressionAlgorithm string  `yaml:"compression_algorithm"`
	FilterKind           string  `yaml:"filter_kind"`
	DataDirectory        string  `yaml:"data_directory"`
	MetaCacheCapacityMB  int64   `yaml:"meta_cache_capacity_mb"`
	BlockCacheCapacityMB int64   `yaml:"block_cache_capacity_mb"`
	// ObjectStoreUploadBytesPerSec rate limits uploads. Zero disables the
	// limit.
	ObjectStoreUploadBytesPerSec int64 `yaml:"object_store_upload_bytes_per_sec"`
}

// CompactorConfig holds the compactor configuration.
type CompactorConfig struct {
	// CompactorMemoryLimitMB is derived from the available system memory
	// when absent.
	CompactorMemoryLimitMB             *int64  `yaml:"compactor_memory_limit_mb"`
	CompactorMemoryAvailableProportion float64 `yaml:"compactor_memory_available_proportion"`
	CompactionWorkerThreadsNumber      int     `yaml:"compaction_worker_threads_number"`
	MaxConcurrentTasks                 int     `yaml:"max_concurrent_tasks"`
	SstableIDRemoteFetchNumber         uint32  `yaml:"sstable_id_remote_fetch_number"`
	MaxSubCompaction                   int     `yaml:"max_sub_compaction"`
	SplitByTable                       bool    `yaml:"split_by_table"`
	PollInterval                       string  `yaml:"poll_interval"`
}

// Config is the configuration document of a compactor.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Compactor CompactorConfig `yaml:"compactor"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			SstableSizeMB:        256,
			BlockSizeKB:          64,
			BloomFalsePositive:   0.001,
			CompressionAlgorithm: "none",
			FilterKind:           "bloom",
			DataDirectory:        "hummock_001",
			MetaCacheCapacityMB:  64,
			BlockCacheCapacityMB: 128,
		},
		Compactor: CompactorConfig{
			CompactorMemoryAvailableProportion: 0.8,
			CompactionWorkerThreadsNumber:      4,
			SstableIDRemoteFetchNumber:         100,
			MaxSubCompaction:                   4,
			PollInterval:                       "1s",
		},
	}
}

// Load reads a YAML document over the default configuration. Unknown fields
// are rejected.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "decoding config")
	}
	return cfg, nil
}

// LoadConfig reads the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config %s", path)
	}
	defer f.Close()
	return Load(f)
}

// availableMemory returns the memory available to the process in bytes.
var availableMemory = func() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// MemoryLimit returns the compactor memory limit in bytes: the configured
// limit, or the configured proportion of the available memory minus the
// meta cache.
func (c *Config) MemoryLimit() (int64, error) {
	if l := c.Compactor.CompactorMemoryLimitMB; l != nil {
		return *l << 20, nil
	}
	avail, err := availableMemory()
	if err != nil {
		return 0, errors.Wrap(err, "reading available memory")
	}
	p := c.Compactor.CompactorMemoryAvailableProportion
	if p <= 0 || p > 1 {
		return 0, errors.Newf("compactor_memory_available_proportion %f must be in (0, 1]", p)
	}
	limit := int64(float64(avail)*p) - c.Storage.MetaCacheCapacityMB<<20
	if limit <= 0 {
		return 0, errors.Newf("available memory (%d bytes) does not cover the meta cache", avail)
	}
	return limit, nil
}

// Options returns the compactor options described by the configuration. The
// options are completed with their defaults and validated.
func (c *Config) Options(logger hummock.Logger) (*hummock.Options, error) {
	compression, err := sstable.ParseCompression(c.Storage.CompressionAlgorithm)
	if err != nil {
		return nil, err
	}
	filterKind, err := sstable.ParseFilterKind(c.Storage.FilterKind)
	if err != nil {
		return nil, err
	}
	limit, err := c.MemoryLimit()
	if err != nil {
		return nil, err
	}
	var poll time.Duration
	if c.Compactor.PollInterval != "" {
		if poll, err = time.ParseDuration(c.Compactor.PollInterval); err != nil {
			return nil, errors.Wrap(err, "parsing poll_interval")
		}
	}
	opts := &hummock.Options{
		SstableSize:                  c.Storage.SstableSizeMB << 20,
		BlockSize:                    c.Storage.BlockSizeKB << 10,
		BloomFalsePositive:           c.Storage.BloomFalsePositive,
		Compression:                  compression,
		FilterKind:                   filterKind,
		CompactorMemoryLimit:         limit,
		CompactionWorkerThreads:      c.Compactor.CompactionWorkerThreadsNumber,
		MaxConcurrentTasks:           c.Compactor.MaxConcurrentTasks,
		SstableIDRemoteFetchNumber:   c.Compactor.SstableIDRemoteFetchNumber,
		MaxSubCompaction:             c.Compactor.MaxSubCompaction,
		SplitByTable:                 c.Compactor.SplitByTable,
		DataDirectory:                c.Storage.DataDirectory,
		MetaCacheCapacity:            c.Storage.MetaCacheCapacityMB << 20,
		BlockCacheCapacity:           c.Storage.BlockCacheCapacityMB << 20,
		ObjectStoreUploadBytesPerSec: c.Storage.ObjectStoreUploadBytesPerSec,
		PollInterval:                 poll,
		Logger:                       logger,
	}
	opts.EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}
