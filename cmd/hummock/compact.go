// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"

	"github.com/cockroachdb/hummock"
	"github.com/cockroachdb/hummock/config"
	"github.com/cockroachdb/hummock/objstorage"
	"github.com/cockroachdb/hummock/sstable"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	compactConfig      string
	compactLevels      int
	compactWatermark   uint64 = math.MaxUint64
	compactEpochTimeMs uint64
	compactRetention   uint32
)

var compactCmd = &cobra.Command{
	Use:   "compact <object-id>...",
	Short: "compact tables of a local object store",
	Long: `
Compact the given tables, oldest first, into new tables of the same object
store. The tables are committed to level 0 of a compaction group with
--levels levels and compacted into level 1. Input tables are left in place.
`,
	Args: cobra.MinimumNArgs(1),
	Run:  runCompact,
}

func runCompact(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	cfg := config.Default()
	if compactConfig != "" {
		var err error
		if cfg, err = config.LoadConfig(compactConfig); err != nil {
			log.Fatal(err)
		}
	}
	cfg.Storage.DataDirectory = dataDir
	opts, err := cfg.Options(hummock.DefaultLogger)
	if err != nil {
		log.Fatal(err)
	}
	if verbose {
		l := hummock.TeeEventListener(*opts.EventListener, hummock.MakeLoggingEventListener(opts.Logger))
		opts.EventListener = &l
	}

	fs, err := objstorage.NewLocalFS(storeDir)
	if err != nil {
		log.Fatal(err)
	}
	client := hummock.NewMockMetaClient(compactLevels)
	c, err := hummock.NewCompactor(opts, fs, client)
	if err != nil {
		log.Fatal(err)
	}

	const group hummock.CompactionGroupID = 1
	var inputs []sstable.SstableInfo
	for _, id := range parseObjectIDs(args) {
		sst, err := c.Store().OpenSstable(ctx, id)
		if err != nil {
			log.Fatal(err)
		}
		md, err := fs.Metadata(ctx, c.Store().ObjectPath(id))
		if err != nil {
			log.Fatal(err)
		}
		info := sst.Info(uint64(md.Size))
		client.RegisterTables(group, info.TableIDs...)
		client.ReserveObjectIDs(id)
		inputs = append(inputs, info)
	}
	client.CommitTables(group, inputs...)
	client.SetWatermark(hummock.Epoch(compactWatermark))
	if compactRetention > 0 && compactEpochTimeMs > 0 {
		client.SetCurrentEpochTime(hummock.EpochFromPhysicalTime(compactEpochTimeMs))
		for _, info := range inputs {
			for _, id := range info.TableIDs {
				client.SetTableOption(group, id, hummock.TableOption{RetentionSeconds: compactRetention})
			}
		}
		client.SetCompactionFilterMask(hummock.CompactionFilterTTL)
	}

	task, err := client.GetCompactTask(ctx, group, hummock.ManualTaskSelector{Level: 0})
	if err != nil {
		log.Fatal(err)
	}
	if task == nil {
		log.Fatal("no compaction task")
	}
	fmt.Println(task)
	result, err := c.RunTask(ctx, task)
	if err != nil {
		log.Fatal(err)
	}
	if result.Status != hummock.TaskSuccess {
		log.Fatalf("%s: %v", result.Status, result.Err)
	}

	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetAutoWrapText(false)
	tbl.SetHeader([]string{"object", "size", "keys", "state tables", "smallest", "largest"})
	for _, out := range result.OutputSsts {
		tbl.Append([]string{
			strconv.FormatUint(out.ObjectID, 10),
			strconv.FormatUint(out.FileSize, 10),
			strconv.FormatUint(out.TotalKeyCount, 10),
			fmt.Sprint(out.TableIDs),
			formatKey(out.KeyRange.Left),
			formatKey(out.KeyRange.Right),
		})
	}
	tbl.Render()
	fmt.Println(c.Context().Metrics.TaskDurations())
}
