// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// BlockMeta locates one data block within a table.
type BlockMeta struct {
	// SmallestKey is the encoded full key of the first entry of the block.
	SmallestKey      []byte
	Offset           uint32
	Len              uint32
	UncompressedSize uint32
}

// Encode appends the block meta to buf:
//
//	| offset (4B) | len (4B) | uncompressed size (4B) | smallest key len (4B) | smallest key |
func (m *BlockMeta) Encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, m.Offset)
	buf = binary.LittleEndian.AppendUint32(buf, m.Len)
	buf = binary.LittleEndian.AppendUint32(buf, m.UncompressedSize)
	return appendLengthPrefixed(buf, m.SmallestKey)
}

func decodeBlockMeta(d *decoder) BlockMeta {
	return BlockMeta{
		Offset:           d.u32("block meta offset"),
		Len:              d.u32("block meta len"),
		UncompressedSize: d.u32("block meta uncompressed size"),
		SmallestKey:      d.lengthPrefixed("block meta smallest key"),
	}
}

// EncodedSize returns the number of bytes Encode appends.
func (m *BlockMeta) EncodedSize() int {
	return 16 + len(m.SmallestKey)
}

// TableID returns the table id of the block's smallest key.
func (m *BlockMeta) TableID() base.TableID {
	return base.MustDecodeFullKey(m.SmallestKey).UserKey.TableID
}

// Meta is the meta block of a table.
type Meta struct {
	BlockMetas []BlockMeta
	// Filter is the encoded bloom or xor filter, empty if the table has none.
	Filter        []byte
	EstimatedSize uint32
	KeyCount      uint32
	// SmallestKey and LargestKey are encoded full keys.
	SmallestKey []byte
	LargestKey  []byte
	// MetaOffset is the offset of the meta block within the table object.
	MetaOffset      uint64
	MonotonicEvents []MonotonicDeleteEvent
	// Version is the format version read from the footer. Encoding always
	// writes the current Version, so a decoded Meta carries Version.
	Version uint32
}

// EncodedSize returns the length of the encoded meta block.
func (m *Meta) EncodedSize() int {
	n := 4
	for i := range m.BlockMetas {
		n += m.BlockMetas[i].EncodedSize()
	}
	n += 4 + len(m.Filter)
	n += 4 + 4
	n += 4 + len(m.SmallestKey)
	n += 4 + len(m.LargestKey)
	n += 4
	for i := range m.MonotonicEvents {
		n += m.MonotonicEvents[i].EncodedSize()
	}
	return n + footerTailLen
}

// EncodeTo appends the encoded meta block to buf. The Version field is
// ignored: the current Version is always written.
func (m *Meta) EncodeTo(buf []byte) []byte {
	start := len(buf)
	buf = binary.LittleEndian.AppendUint32(buf, checkedUint32(len(m.BlockMetas)))
	for i := range m.BlockMetas {
		buf = m.BlockMetas[i].Encode(buf)
	}
	buf = appendLengthPrefixed(buf, m.Filter)
	buf = binary.LittleEndian.AppendUint32(buf, m.EstimatedSize)
	buf = binary.LittleEndian.AppendUint32(buf, m.KeyCount)
	buf = appendLengthPrefixed(buf, m.SmallestKey)
	buf = appendLengthPrefixed(buf, m.LargestKey)
	buf = binary.LittleEndian.AppendUint32(buf, checkedUint32(len(m.MonotonicEvents)))
	for i := range m.MonotonicEvents {
		buf = m.MonotonicEvents[i].Encode(buf)
	}
	buf = binary.LittleEndian.AppendUint64(buf, m.MetaOffset)
	buf = binary.LittleEndian.AppendUint64(buf, checksum(buf[start:]))
	buf = binary.LittleEndian.AppendUint32(buf, Version)
	return binary.LittleEndian.AppendUint32(buf, Magic)
}

// Encode returns the encoded meta block.
func (m *Meta) Encode() []byte {
	return m.EncodeTo(make([]byte, 0, max(defaultMetaBufferCapacity, m.EncodedSize())))
}

// DecodeMeta decodes a meta block. The trailer is validated backwards first:
// magic, then version, then the checksum over the rest of the block. The
// decoded meta does not alias buf.
func DecodeMeta(buf []byte) (*Meta, error) {
	cursor := len(buf)
	if cursor < footerTailLen {
		return nil, base.CorruptionErrorf("meta block too short: %d bytes", errors.Safe(cursor))
	}
	cursor -= 4
	if magic := binary.LittleEndian.Uint32(buf[cursor:]); magic != Magic {
		return nil, base.CorruptionErrorf("magic mismatch: expected %#x, found %#x",
			errors.Safe(Magic), errors.Safe(magic))
	}
	cursor -= 4
	version := binary.LittleEndian.Uint32(buf[cursor:])
	if version != Version {
		return nil, base.CorruptionErrorf("invalid format version %d", errors.Safe(version))
	}
	cursor -= 8
	sum := binary.LittleEndian.Uint64(buf[cursor:])
	if err := verifyChecksum(buf[:cursor], sum); err != nil {
		return nil, err
	}

	d := &decoder{buf: buf[:cursor]}
	m := &Meta{Version: version}
	if n := d.u32("block meta count"); n > 0 && d.err == nil {
		m.BlockMetas = make([]BlockMeta, 0, min(int(n), len(d.buf)/16))
		for i := uint32(0); i < n && d.err == nil; i++ {
			m.BlockMetas = append(m.BlockMetas, decodeBlockMeta(d))
		}
	}
	m.Filter = d.lengthPrefixed("filter")
	m.EstimatedSize = d.u32("estimated size")
	m.KeyCount = d.u32("key count")
	m.SmallestKey = d.lengthPrefixed("smallest key")
	m.LargestKey = d.lengthPrefixed("largest key")
	if n := d.u32("delete event count"); n > 0 && d.err == nil {
		m.MonotonicEvents = make([]MonotonicDeleteEvent, 0, min(int(n), len(d.buf)/17))
		for i := uint32(0); i < n && d.err == nil; i++ {
			ev, err := decodeMonotonicDeleteEvent(d)
			if err != nil {
				return nil, err
			}
			m.MonotonicEvents = append(m.MonotonicEvents, ev)
		}
	}
	m.MetaOffset = d.u64("meta offset")
	if d.err != nil {
		return nil, d.err
	}
	if len(d.buf) != 0 {
		return nil, base.CorruptionErrorf("%d trailing bytes in meta block", errors.Safe(len(d.buf)))
	}
	return m, nil
}

// FooterTail is the fixed trailer of a table.
type FooterTail struct {
	MetaOffset uint64
	Checksum   uint64
	Version    uint32
}

// DecodeFooterTail decodes the last bytes of a table object, validating the
// magic and version. tail must hold at least the final FooterTailLen bytes of
// the object; preceding bytes are ignored.
func DecodeFooterTail(tail []byte) (FooterTail, error) {
	if len(tail) < footerTailLen {
		return FooterTail{}, base.CorruptionErrorf("footer too short: %d bytes", errors.Safe(len(tail)))
	}
	tail = tail[len(tail)-footerTailLen:]
	if magic := binary.LittleEndian.Uint32(tail[20:]); magic != Magic {
		return FooterTail{}, base.CorruptionErrorf("magic mismatch: expected %#x, found %#x",
			errors.Safe(Magic), errors.Safe(magic))
	}
	version := binary.LittleEndian.Uint32(tail[16:])
	if version != Version {
		return FooterTail{}, base.CorruptionErrorf("invalid format version %d", errors.Safe(version))
	}
	return FooterTail{
		MetaOffset: binary.LittleEndian.Uint64(tail[0:]),
		Checksum:   binary.LittleEndian.Uint64(tail[8:]),
		Version:    version,
	}, nil
}

// FooterTailLen is the number of trailing bytes DecodeFooterTail needs.
const FooterTailLen = footerTailLen

// TableIDs returns the distinct table ids of the blocks, in block order.
func (m *Meta) TableIDs() []base.TableID {
	var ids []base.TableID
	for i := range m.BlockMetas {
		id := m.BlockMetas[i].TableID()
		if len(ids) == 0 || ids[len(ids)-1] != id {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Meta) String() string {
	var smallest, largest string
	if len(m.SmallestKey) > 0 {
		smallest = base.MustDecodeFullKey(m.SmallestKey).String()
	}
	if len(m.LargestKey) > 0 {
		largest = base.MustDecodeFullKey(m.LargestKey).String()
	}
	return fmt.Sprintf("blocks=%d keys=%d size=%d filter=%d events=%d [%s, %s]",
		len(m.BlockMetas), m.KeyCount, m.EstimatedSize, len(m.Filter),
		len(m.MonotonicEvents), smallest, largest)
}
