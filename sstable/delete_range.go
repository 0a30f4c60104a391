// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// DeleteRangeTombstone deletes every version with an epoch lower than
// Sequence of the user keys in [Start, End).
type DeleteRangeTombstone struct {
	Start    base.PointRange
	End      base.PointRange
	Sequence base.Epoch
}

// MakeDeleteRangeTombstone returns the tombstone deleting the table keys
// between start and end of the given table. isLeftOpen excludes start itself;
// isRightClose includes end.
func MakeDeleteRangeTombstone(
	tableID base.TableID,
	start []byte,
	isLeftOpen bool,
	end []byte,
	isRightClose bool,
	sequence base.Epoch,
) DeleteRangeTombstone {
	return DeleteRangeTombstone{
		Start:    base.MakePointRange(base.MakeUserKey(tableID, start), isLeftOpen),
		End:      base.MakePointRange(base.MakeUserKey(tableID, end), isRightClose),
		Sequence: sequence,
	}
}

func (t DeleteRangeTombstone) String() string {
	return fmt.Sprintf("[%s, %s)@%s", t.Start, t.End, t.Sequence)
}

// CompareTombstones orders tombstones by start, then end, then by descending
// sequence so that the newest of two tombstones over the same range sorts
// first.
func CompareTombstones(a, b DeleteRangeTombstone) int {
	if c := base.ComparePointRanges(a.Start, b.Start); c != 0 {
		return c
	}
	if c := base.ComparePointRanges(a.End, b.End); c != 0 {
		return c
	}
	return cmp.Compare(b.Sequence, a.Sequence)
}

// MonotonicDeleteEvent states that from Key (inclusive according to its
// ExcludeLeftKey flag) until the key of the next event, every version with
// an epoch lower than NewEpoch is deleted. NewEpoch of base.EpochMax means no
// deletion is in effect.
type MonotonicDeleteEvent struct {
	Key      base.PointRange
	NewEpoch base.Epoch
}

// MakeMonotonicDeleteEvent constructs an event at an inclusive key.
func MakeMonotonicDeleteEvent(tableID base.TableID, key []byte, newEpoch base.Epoch) MonotonicDeleteEvent {
	return MonotonicDeleteEvent{
		Key:      base.MakePointRange(base.MakeUserKey(tableID, key), false),
		NewEpoch: newEpoch,
	}
}

// Encode appends the event to buf:
//
//	| user key len (4B) | user key | exclude left key (1B) | new epoch (8B) |
func (e *MonotonicDeleteEvent) Encode(buf []byte) []byte {
	buf = e.Key.UserKey.EncodeLengthPrefixed(buf)
	var flag byte
	if e.Key.ExcludeLeftKey {
		flag = 1
	}
	buf = append(buf, flag)
	return binary.LittleEndian.AppendUint64(buf, uint64(e.NewEpoch))
}

// EncodedSize returns the number of bytes Encode appends.
func (e *MonotonicDeleteEvent) EncodedSize() int {
	return 4 + e.Key.UserKey.EncodedLen() + 1 + 8
}

func decodeMonotonicDeleteEvent(d *decoder) (MonotonicDeleteEvent, error) {
	if d.err != nil {
		return MonotonicDeleteEvent{}, d.err
	}
	uk, rest, err := base.DecodeUserKeyLengthPrefixed(d.buf)
	if err != nil {
		return MonotonicDeleteEvent{}, err
	}
	d.buf = rest
	var exclude bool
	switch flag := d.u8("delete event flag"); flag {
	case 0:
	case 1:
		exclude = true
	default:
		if d.err == nil {
			return MonotonicDeleteEvent{}, base.CorruptionErrorf(
				"exclude left key flag should be 0 or 1, found %d", errors.Safe(flag))
		}
	}
	epoch := base.Epoch(d.u64("delete event epoch"))
	if d.err != nil {
		return MonotonicDeleteEvent{}, d.err
	}
	return MonotonicDeleteEvent{
		Key:      base.MakePointRange(uk.Clone(), exclude),
		NewEpoch: epoch,
	}, nil
}

func (e MonotonicDeleteEvent) String() string {
	return fmt.Sprintf("<%s, %s>", e.Key, e.NewEpoch)
}

// DeleteRangeEvent is the set of tombstones that stop (Exits) and start
// (Enters) at a single point of the key space.
type DeleteRangeEvent struct {
	Key    base.PointRange
	Exits  []base.Epoch
	Enters []base.Epoch
}

// BuildEvents turns tombstones into boundary events ordered by key. A
// tombstone contributes an enter event at its start and an exit event at its
// end. Events at equal keys are grouped together, keeping the tombstone
// order within the group.
func BuildEvents(tombstones []DeleteRangeTombstone) []DeleteRangeEvent {
	type signed struct {
		key   base.PointRange
		epoch base.Epoch
		enter bool
	}
	sorted := slices.Clone(tombstones)
	slices.SortFunc(sorted, CompareTombstones)
	raw := make([]signed, 0, 2*len(sorted))
	for _, t := range sorted {
		if base.ComparePointRanges(t.Start, t.End) >= 0 {
			continue
		}
		raw = append(raw,
			signed{key: t.Start, epoch: t.Sequence, enter: true},
			signed{key: t.End, epoch: t.Sequence, enter: false})
	}
	sort.SliceStable(raw, func(i, j int) bool {
		return base.ComparePointRanges(raw[i].key, raw[j].key) < 0
	})
	var events []DeleteRangeEvent
	for _, s := range raw {
		if n := len(events); n == 0 || base.ComparePointRanges(events[n-1].Key, s.key) != 0 {
			events = append(events, DeleteRangeEvent{Key: s.key})
		}
		ev := &events[len(events)-1]
		if s.enter {
			ev.Enters = append(ev.Enters, s.epoch)
		} else {
			ev.Exits = append(ev.Exits, s.epoch)
		}
	}
	return events
}

// CreateMonotonicEvents sweeps the boundary events maintaining the multiset of
// active tombstone epochs and emits, at every boundary, the smallest active
// epoch (or base.EpochMax when none is active). Consecutive events with the
// same table id and epoch are collapsed into the first one.
func CreateMonotonicEvents(events []DeleteRangeEvent) []MonotonicDeleteEvent {
	active := newEpochMultiset()
	res := make([]MonotonicDeleteEvent, 0, len(events))
	for i := range events {
		active.apply(&events[i])
		ev := MonotonicDeleteEvent{Key: events[i].Key, NewEpoch: active.min()}
		if n := len(res); n > 0 &&
			res[n-1].Key.UserKey.TableID == ev.Key.UserKey.TableID &&
			res[n-1].NewEpoch == ev.NewEpoch {
			continue
		}
		res = append(res, ev)
	}
	return res
}

// CreateMonotonicEventsFromTombstones is BuildEvents followed by
// CreateMonotonicEvents.
func CreateMonotonicEventsFromTombstones(tombstones []DeleteRangeTombstone) []MonotonicDeleteEvent {
	return CreateMonotonicEvents(BuildEvents(tombstones))
}

// TombstonesFromMonotonicEvents reconstructs tombstones from the events of a
// table: every event with a finite epoch covers the range up to the next
// event.
func TombstonesFromMonotonicEvents(events []MonotonicDeleteEvent) []DeleteRangeTombstone {
	var res []DeleteRangeTombstone
	for i := 0; i+1 < len(events); i++ {
		if events[i].NewEpoch == base.EpochMax {
			continue
		}
		res = append(res, DeleteRangeTombstone{
			Start:    events[i].Key,
			End:      events[i+1].Key,
			Sequence: events[i].NewEpoch,
		})
	}
	return res
}

// MinDeleteEpoch returns the epoch of the event in effect at key: the event
// with the greatest key not after key. It returns base.EpochMax when no
// event precedes key. A version of key is deleted when its epoch is lower
// than the returned epoch.
func MinDeleteEpoch(events []MonotonicDeleteEvent, key base.UserKey) base.Epoch {
	p := base.MakePointRange(key, false)
	i := sort.Search(len(events), func(i int) bool {
		return base.ComparePointRanges(events[i].Key, p) > 0
	})
	if i == 0 {
		return base.EpochMax
	}
	return events[i-1].NewEpoch
}
