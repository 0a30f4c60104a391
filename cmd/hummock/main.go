// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"log"
	"os"

	"github.com/cockroachdb/hummock/objstorage"
	"github.com/cockroachdb/hummock/sstable"
	"github.com/spf13/cobra"
)

var (
	storeDir string
	dataDir  string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "hummock [command] (flags)",
	Short: "hummock table introspection and offline compaction tool",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	sstCmd.AddCommand(sstDumpCmd, sstVerifyCmd)
	rootCmd.AddCommand(sstCmd, compactCmd)

	for _, cmd := range []*cobra.Command{sstDumpCmd, sstVerifyCmd, compactCmd} {
		cmd.Flags().StringVar(
			&storeDir, "dir", ".", "root directory of the local object store")
		cmd.Flags().StringVar(
			&dataDir, "data-dir", "hummock_001", "object path prefix of tables")
		cmd.Flags().BoolVarP(
			&verbose, "verbose", "v", false, "enable verbose output")
	}

	sstDumpCmd.Flags().BoolVar(
		&dumpKeys, "keys", false, "print every key of the table")

	compactCmd.Flags().StringVar(
		&compactConfig, "config", "", "path of a YAML configuration file")
	compactCmd.Flags().IntVar(
		&compactLevels, "levels", 2, "number of levels of the compaction group")
	compactCmd.Flags().Uint64Var(
		&compactWatermark, "watermark", compactWatermark, "watermark epoch of the task")
	compactCmd.Flags().Uint64Var(
		&compactEpochTimeMs, "epoch-time-ms", 0,
		"physical time in milliseconds retention is measured from (0 disables TTL)")
	compactCmd.Flags().Uint32Var(
		&compactRetention, "retention", 0, "retention in seconds applied to every table")

	if err := rootCmd.Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}

func openStore(blockCache int64) *sstable.Store {
	fs, err := objstorage.NewLocalFS(storeDir)
	if err != nil {
		log.Fatal(err)
	}
	return sstable.NewStore(fs, sstable.StoreOptions{
		DataDirectory:      dataDir,
		MetaCacheCapacity:  16 << 20,
		BlockCacheCapacity: blockCache,
	})
}
