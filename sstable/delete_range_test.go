// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/stretchr/testify/require"
)

func parsePoint(t *testing.T, s string) base.PointRange {
	exclude := strings.HasSuffix(s, "+")
	return base.MakePointRange(base.MakeUserKey(1, []byte(strings.TrimSuffix(s, "+"))), exclude)
}

// parseTombstones parses lines of the form "<start>[+] <end>[+] <epoch>" into
// tombstones of table 1.
func parseTombstones(t *testing.T, input string) []DeleteRangeTombstone {
	var res []DeleteRangeTombstone
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		require.Len(t, fields, 3, "malformed tombstone %q", line)
		epoch, err := strconv.ParseUint(fields[2], 10, 64)
		require.NoError(t, err)
		res = append(res, DeleteRangeTombstone{
			Start:    parsePoint(t, fields[0]),
			End:      parsePoint(t, fields[1]),
			Sequence: base.Epoch(epoch),
		})
	}
	return res
}

func formatEvents(events []MonotonicDeleteEvent) string {
	if len(events) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "%s\n", ev)
	}
	return b.String()
}

func TestDeleteRangeDataDriven(t *testing.T) {
	var ranges *CompactionDeleteRanges
	datadriven.RunTest(t, "testdata/delete_range", func(t *testing.T, d *datadriven.TestData) string {
		userKey := func(arg string) *base.UserKey {
			if !d.HasArg(arg) {
				return nil
			}
			var s string
			d.ScanArgs(t, arg, &s)
			k := base.MakeUserKey(1, []byte(s))
			return &k
		}
		switch d.Cmd {
		case "build":
			var b CompactionDeleteRangesBuilder
			b.AddTombstones(parseTombstones(t, d.Input)...)
			var watermark uint64
			if d.HasArg("watermark") {
				d.ScanArgs(t, "watermark", &watermark)
			}
			ranges = b.Build(base.Epoch(watermark), d.HasArg("gc"))
			return formatEvents(ranges.MonotonicEvents())

		case "events-between":
			return formatEvents(ranges.EventsBetween(userKey("start"), userKey("end")))

		case "earliest":
			var epoch uint64
			d.ScanArgs(t, "epoch", &epoch)
			c := ranges.NewCursor()
			c.Seek(*userKey("key"))
			return c.EarliestDeleteWhichCanSeeKey(base.Epoch(epoch)).String() + "\n"

		case "min-delete-epoch":
			return MinDeleteEpoch(ranges.MonotonicEvents(), *userKey("key")).String() + "\n"

		default:
			return fmt.Sprintf("unknown command: %s", d.Cmd)
		}
	})
}

func TestMonotonicEventsContiguous(t *testing.T) {
	const e1, e2, e3 = 100, 200, 300
	events := CreateMonotonicEventsFromTombstones([]DeleteRangeTombstone{
		MakeDeleteRangeTombstone(1, []byte{0}, false, []byte{5}, false, e1),
		MakeDeleteRangeTombstone(1, []byte{5}, false, []byte{7}, false, e2),
		MakeDeleteRangeTombstone(1, []byte{7}, false, []byte{11}, false, e3),
	})
	require.Equal(t, []MonotonicDeleteEvent{
		MakeMonotonicDeleteEvent(1, []byte{0}, e1),
		MakeMonotonicDeleteEvent(1, []byte{5}, e2),
		MakeMonotonicDeleteEvent(1, []byte{7}, e3),
		MakeMonotonicDeleteEvent(1, []byte{11}, base.EpochMax),
	}, events)
}

func TestOverlappingTombstones(t *testing.T) {
	const e1, e2 = 100, 200
	var b CompactionDeleteRangesBuilder
	b.AddTombstones(
		MakeDeleteRangeTombstone(1, []byte("a"), false, []byte("b"), false, e2),
		MakeDeleteRangeTombstone(1, []byte("a"), false, []byte("b"), false, e1),
	)
	r := b.Build(0, false)
	require.Equal(t, []MonotonicDeleteEvent{
		MakeMonotonicDeleteEvent(1, []byte("a"), e1),
		MakeMonotonicDeleteEvent(1, []byte("b"), base.EpochMax),
	}, r.MonotonicEvents())

	c := r.NewCursor()
	c.Seek(base.MakeUserKey(1, []byte("a")))
	// deletedAt reports whether a reader at readEpoch sees the version at
	// epoch as deleted.
	deletedAt := func(epoch, readEpoch base.Epoch) bool {
		e := c.EarliestDeleteWhichCanSeeKey(epoch)
		return e != base.EpochMax && e <= readEpoch
	}
	for _, read := range []base.Epoch{e2, e2 + 1, base.EpochMax} {
		require.True(t, deletedAt(e1-1, read))
		require.True(t, deletedAt(e1+50, read))
		require.True(t, deletedAt(e2-1, read))
		require.False(t, deletedAt(e2, read))
		require.False(t, deletedAt(e2+1, read))
	}
	// Only the older tombstone is visible between e1 and e2.
	require.True(t, deletedAt(e1-1, e1))
	require.False(t, deletedAt(e1, e1+50))
	require.False(t, deletedAt(e1-1, e1-1))

	c.Seek(base.MakeUserKey(1, []byte("b")))
	require.False(t, deletedAt(1, base.EpochMax))
}

func TestDeleteRangeRandomized(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	const keys = "abcdefghij"
	for iter := 0; iter < 200; iter++ {
		var ts []DeleteRangeTombstone
		for n := rng.IntN(6); n > 0; n-- {
			i, j := rng.IntN(len(keys)), rng.IntN(len(keys))
			if i > j {
				i, j = j, i
			}
			ts = append(ts, MakeDeleteRangeTombstone(1, []byte{keys[i]}, false, []byte{keys[j]}, false,
				base.Epoch(1+rng.IntN(8))))
		}
		var b CompactionDeleteRangesBuilder
		b.AddTombstones(ts...)
		r := b.Build(0, false)
		events := r.MonotonicEvents()
		if len(events) > 0 {
			require.Equal(t, base.EpochMax, events[len(events)-1].NewEpoch)
		}
		require.Equal(t, events, CreateMonotonicEventsFromTombstones(TombstonesFromMonotonicEvents(events)))

		c := r.NewCursor()
		for k := 0; k < len(keys); k++ {
			key := base.MakeUserKey(1, []byte{keys[k]})
			covering := func(epoch base.Epoch) base.Epoch {
				res := base.EpochMax
				for _, t := range ts {
					if t.Start.UserKey.TableKey[0] <= keys[k] && keys[k] < t.End.UserKey.TableKey[0] &&
						t.Sequence > epoch && t.Sequence < res {
						res = t.Sequence
					}
				}
				return res
			}
			require.Equal(t, covering(0), MinDeleteEpoch(events, key), "key %c", keys[k])
			c.Seek(key)
			for e := base.Epoch(0); e < 10; e++ {
				require.Equal(t, covering(e), c.EarliestDeleteWhichCanSeeKey(e), "key %c epoch %d", keys[k], e)
			}
		}
	}
}

func TestMonotonicDeleteEventCorruptFlag(t *testing.T) {
	ev := MakeMonotonicDeleteEvent(1, []byte("k"), 5)
	buf := ev.Encode(nil)
	require.Len(t, buf, ev.EncodedSize())
	buf[4+ev.Key.UserKey.EncodedLen()] = 2
	_, err := decodeMonotonicDeleteEvent(&decoder{buf: buf})
	require.ErrorContains(t, err, "exclude left key flag should be 0 or 1")
}
