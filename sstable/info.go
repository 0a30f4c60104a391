// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"fmt"
	"slices"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/redact"
)

// KeyRange is a range of encoded full keys.
type KeyRange struct {
	Left           []byte
	Right          []byte
	RightExclusive bool
}

// SstableInfo describes a table as recorded in a version.
type SstableInfo struct {
	ObjectID             uint64
	SstID                uint64
	KeyRange             KeyRange
	FileSize             uint64
	MetaOffset           uint64
	TableIDs             []base.TableID
	TotalKeyCount        uint64
	StaleKeyCount        uint64
	UncompressedFileSize uint64
	MinEpoch             base.Epoch
	MaxEpoch             base.Epoch
	RangeTombstoneCount  uint64
}

// ContainsTable returns true if the table holds keys of the given state
// table.
func (s *SstableInfo) ContainsTable(id base.TableID) bool {
	_, ok := slices.BinarySearch(s.TableIDs, id)
	return ok
}

// SafeFormat implements redact.SafeFormatter.
func (s *SstableInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%d:%s", redact.SafeUint(s.ObjectID), redact.Safe(humanizeBytes(s.FileSize)))
}

func (s *SstableInfo) String() string {
	return redact.StringWithoutMarkers(s)
}

func humanizeBytes(n uint64) string {
	switch {
	case n < 1<<10:
		return fmt.Sprintf("%dB", n)
	case n < 1<<20:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	}
}

// TableStats are the per-state-table counters of the keys written to a table.
type TableStats struct {
	TotalKeySize   int64
	TotalValueSize int64
	TotalKeyCount  int64
}

// Add accumulates o into s.
func (s *TableStats) Add(o TableStats) {
	s.TotalKeySize += o.TotalKeySize
	s.TotalValueSize += o.TotalValueSize
	s.TotalKeyCount += o.TotalKeyCount
}

// TableStatsMap maps state tables to their stats.
type TableStatsMap map[base.TableID]*TableStats

// Merge accumulates o into m.
func (m TableStatsMap) Merge(o TableStatsMap) {
	for id, s := range o {
		if cur, ok := m[id]; ok {
			cur.Add(*s)
		} else {
			c := *s
			m[id] = &c
		}
	}
}

func (m TableStatsMap) get(id base.TableID) *TableStats {
	s, ok := m[id]
	if !ok {
		s = &TableStats{}
		m[id] = s
	}
	return s
}
