// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/sstable"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var dumpKeys bool

var sstCmd = &cobra.Command{
	Use:   "sst",
	Short: "table introspection commands",
}

var sstDumpCmd = &cobra.Command{
	Use:   "dump <object-id>",
	Short: "print the meta block of a table",
	Long: `
Print the footer of a table, the location of each of its data blocks and its
delete range events. With --keys every key of the table is printed too.
`,
	Args: cobra.ExactArgs(1),
	Run:  runSstDump,
}

var sstVerifyCmd = &cobra.Command{
	Use:   "verify <object-id>...",
	Short: "read and checksum every block of tables",
	Args:  cobra.MinimumNArgs(1),
	Run:   runSstVerify,
}

func parseObjectIDs(args []string) []uint64 {
	ids := make([]uint64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			log.Fatalf("invalid object id %q: %v", arg, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func formatKey(encoded []byte) string {
	if len(encoded) == 0 {
		return "-"
	}
	k, err := base.DecodeFullKey(encoded)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return k.String()
}

func runSstDump(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(0)
	id := parseObjectIDs(args)[0]
	sst, err := store.OpenSstable(ctx, id)
	if err != nil {
		log.Fatal(err)
	}
	m := sst.Meta
	fmt.Printf("table %d\n", id)
	fmt.Printf("  version:        %d\n", m.Version)
	fmt.Printf("  meta offset:    %d\n", m.MetaOffset)
	fmt.Printf("  estimated size: %d\n", m.EstimatedSize)
	fmt.Printf("  keys:           %d\n", m.KeyCount)
	fmt.Printf("  smallest:       %s\n", formatKey(m.SmallestKey))
	fmt.Printf("  largest:        %s\n", formatKey(m.LargestKey))
	fmt.Printf("  filter:         %d bytes\n", sst.Filter.Size())
	fmt.Printf("  state tables:   %v\n", m.TableIDs())
	fmt.Println()

	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetAutoWrapText(false)
	tbl.SetHeader([]string{"block", "offset", "len", "uncompressed", "smallest key"})
	for i := range m.BlockMetas {
		bm := &m.BlockMetas[i]
		tbl.Append([]string{
			strconv.Itoa(i),
			strconv.FormatUint(uint64(bm.Offset), 10),
			strconv.FormatUint(uint64(bm.Len), 10),
			strconv.FormatUint(uint64(bm.UncompressedSize), 10),
			formatKey(bm.SmallestKey),
		})
	}
	tbl.Render()

	if len(m.MonotonicEvents) > 0 {
		fmt.Println()
		events := tablewriter.NewWriter(os.Stdout)
		events.SetAutoFormatHeaders(false)
		events.SetHeader([]string{"event key", "new epoch"})
		for _, ev := range m.MonotonicEvents {
			events.Append([]string{ev.Key.String(), ev.NewEpoch.String()})
		}
		events.Render()
	}

	if !dumpKeys {
		return
	}
	fmt.Println()
	it := sstable.NewIterator(ctx, store, sst, sstable.CachePolicyDisable)
	for it.Rewind(); it.Valid(); it.Next() {
		v, err := it.Value()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s %s\n", it.FullKey(), v)
	}
	if err := it.Close(); err != nil {
		log.Fatal(err)
	}
}

// verifyTable decodes every block of a table, which verifies the block
// checksums, and checks that keys are strictly increasing.
func verifyTable(ctx context.Context, store *sstable.Store, id uint64) (blocks, keys int, err error) {
	sst, err := store.OpenSstable(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	var prev []byte
	for i := range sst.Meta.BlockMetas {
		b, err := store.Block(ctx, sst, i, sstable.CachePolicyDisable)
		if err != nil {
			return blocks, keys, err
		}
		blocks++
		it := sstable.NewBlockIterator(b)
		for it.SeekToFirst(); it.Valid(); it.Next() {
			if _, err := base.DecodeFullKey(it.Key()); err != nil {
				return blocks, keys, errors.Wrapf(err, "block %d", i)
			}
			if prev != nil && base.CompareEncodedFullKeys(prev, it.Key()) >= 0 {
				return blocks, keys, base.CorruptionErrorf("block %d: key %s out of order",
					errors.Safe(i), formatKey(it.Key()))
			}
			prev = it.CopyKey()
			keys++
		}
		if err := it.Error(); err != nil {
			return blocks, keys, errors.Wrapf(err, "block %d", i)
		}
	}
	if keys != int(sst.Meta.KeyCount) {
		return blocks, keys, base.CorruptionErrorf("found %d keys, meta records %d",
			errors.Safe(keys), errors.Safe(sst.Meta.KeyCount))
	}
	return blocks, keys, nil
}

func runSstVerify(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(0)
	failed := 0
	for _, id := range parseObjectIDs(args) {
		blocks, keys, err := verifyTable(ctx, store, id)
		if err != nil {
			failed++
			fmt.Printf("table %d: %v\n", id, err)
			continue
		}
		if verbose {
			fmt.Printf("table %d: ok (%d blocks, %d keys)\n", id, blocks, keys)
		}
	}
	if failed > 0 {
		log.Fatalf("%d of %d tables failed verification", failed, len(args))
	}
	fmt.Printf("verified %d tables\n", len(args))
}
