// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/google/btree"
)

// epochMultiset is an ordered multiset of tombstone epochs.
type epochMultiset struct {
	tree *btree.BTreeG[epochCount]
}

type epochCount struct {
	epoch base.Epoch
	n     int
}

func newEpochMultiset() epochMultiset {
	return epochMultiset{tree: btree.NewG(8, func(a, b epochCount) bool {
		return a.epoch < b.epoch
	})}
}

func (s epochMultiset) add(e base.Epoch) {
	c, _ := s.tree.Get(epochCount{epoch: e})
	s.tree.ReplaceOrInsert(epochCount{epoch: e, n: c.n + 1})
}

func (s epochMultiset) remove(e base.Epoch) {
	c, ok := s.tree.Get(epochCount{epoch: e})
	switch {
	case !ok:
		panic(base.AssertionFailedf("removing inactive tombstone epoch %s", e))
	case c.n == 1:
		s.tree.Delete(c)
	default:
		s.tree.ReplaceOrInsert(epochCount{epoch: e, n: c.n - 1})
	}
}

func (s epochMultiset) apply(ev *DeleteRangeEvent) {
	for _, e := range ev.Exits {
		s.remove(e)
	}
	for _, e := range ev.Enters {
		s.add(e)
	}
}

// min returns the smallest active epoch or base.EpochMax.
func (s epochMultiset) min() base.Epoch {
	if c, ok := s.tree.Min(); ok {
		return c.epoch
	}
	return base.EpochMax
}

// firstAbove returns the smallest active epoch strictly greater than e, or
// base.EpochMax.
func (s epochMultiset) firstAbove(e base.Epoch) base.Epoch {
	res := base.EpochMax
	if e == base.EpochMax {
		return res
	}
	s.tree.AscendGreaterOrEqual(epochCount{epoch: e + 1}, func(c epochCount) bool {
		res = c.epoch
		return false
	})
	return res
}

// CompactionDeleteRangesBuilder collects the tombstones of every input table
// of a compaction.
type CompactionDeleteRangesBuilder struct {
	tombstones []DeleteRangeTombstone
}

// AddTombstones adds raw tombstones.
func (b *CompactionDeleteRangesBuilder) AddTombstones(ts ...DeleteRangeTombstone) {
	b.tombstones = append(b.tombstones, ts...)
}

// AddMonotonicEvents adds the tombstones encoded by the delete events of an
// input table.
func (b *CompactionDeleteRangesBuilder) AddMonotonicEvents(events []MonotonicDeleteEvent) {
	b.tombstones = append(b.tombstones, TombstonesFromMonotonicEvents(events)...)
}

// Build returns the aggregated delete ranges of the compaction. When
// gcDeleteKeys is set, tombstones at or below the watermark are not carried
// into the output tables: every version they cover is dropped by the
// compaction itself.
func (b *CompactionDeleteRangesBuilder) Build(watermark base.Epoch, gcDeleteKeys bool) *CompactionDeleteRanges {
	r := &CompactionDeleteRanges{events: BuildEvents(b.tombstones)}
	kept := b.tombstones
	if gcDeleteKeys {
		kept = nil
		for _, t := range b.tombstones {
			if t.Sequence > watermark {
				kept = append(kept, t)
			}
		}
	}
	r.outputEvents = CreateMonotonicEventsFromTombstones(kept)
	return r
}

// CompactionDeleteRanges holds the delete ranges of a compaction.
type CompactionDeleteRanges struct {
	// events covers every input tombstone and drives the cursors that classify
	// versions.
	events []DeleteRangeEvent
	// outputEvents are the monotonic events to be written to output tables.
	outputEvents []MonotonicDeleteEvent
}

// Empty returns true if the compaction has no tombstones.
func (r *CompactionDeleteRanges) Empty() bool {
	return len(r.events) == 0
}

// MonotonicEvents returns the delete events carried into output tables.
func (r *CompactionDeleteRanges) MonotonicEvents() []MonotonicDeleteEvent {
	return r.outputEvents
}

// EventsBetween returns the output delete events covering the user key range
// [start, end). A nil start or end is unbounded. The event in effect at start
// is moved to start, and the result is closed with a base.EpochMax event at end
// when a deletion would otherwise extend past it.
func (r *CompactionDeleteRanges) EventsBetween(start, end *base.UserKey) []MonotonicDeleteEvent {
	var res []MonotonicDeleteEvent
	push := func(ev MonotonicDeleteEvent) {
		if n := len(res); n > 0 &&
			res[n-1].Key.UserKey.TableID == ev.Key.UserKey.TableID &&
			res[n-1].NewEpoch == ev.NewEpoch {
			return
		}
		if len(res) == 0 && ev.NewEpoch == base.EpochMax {
			return
		}
		res = append(res, ev)
	}
	var startPoint, endPoint base.PointRange
	if start != nil {
		startPoint = base.MakePointRange(start.Clone(), false)
		if e := MinDeleteEpoch(r.outputEvents, *start); e != base.EpochMax {
			push(MonotonicDeleteEvent{Key: startPoint, NewEpoch: e})
		}
	}
	if end != nil {
		endPoint = base.MakePointRange(end.Clone(), false)
	}
	for _, ev := range r.outputEvents {
		if start != nil && base.ComparePointRanges(ev.Key, startPoint) <= 0 {
			continue
		}
		if end != nil && base.ComparePointRanges(ev.Key, endPoint) >= 0 {
			break
		}
		push(ev)
	}
	if n := len(res); n > 0 && res[n-1].NewEpoch != base.EpochMax {
		if end == nil {
			panic(base.AssertionFailedf("unterminated delete events"))
		}
		res = append(res, MonotonicDeleteEvent{Key: endPoint, NewEpoch: base.EpochMax})
	}
	return res
}

// NewCursor returns a cursor positioned before the first user key.
func (r *CompactionDeleteRanges) NewCursor() *DeleteRangeCursor {
	return &DeleteRangeCursor{events: r.events, active: newEpochMultiset()}
}

// DeleteRangeCursor tracks the tombstones covering a user key as the
// compaction advances through the key space in ascending order.
type DeleteRangeCursor struct {
	events []DeleteRangeEvent
	next   int
	active epochMultiset
}

// Seek advances the cursor to key. Keys must be passed in non-decreasing
// order.
func (c *DeleteRangeCursor) Seek(key base.UserKey) {
	p := base.MakePointRange(key, false)
	for c.next < len(c.events) && base.ComparePointRanges(c.events[c.next].Key, p) <= 0 {
		c.active.apply(&c.events[c.next])
		c.next++
	}
}

// EarliestDeleteWhichCanSeeKey returns the epoch of the oldest tombstone
// covering the current key that deletes a version at the given epoch, or
// base.EpochMax if no tombstone deletes it.
func (c *DeleteRangeCursor) EarliestDeleteWhichCanSeeKey(epoch base.Epoch) base.Epoch {
	return c.active.firstAbove(epoch)
}

