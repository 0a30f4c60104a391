// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base // import "github.com/cockroachdb/hummock/internal/base"

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// TableID identifies the state table a key belongs to. It is the leading
// component of every user key.
type TableID uint32

// SafeFormat implements redact.SafeFormatter.
func (id TableID) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%d", redact.SafeUint(id))
}

// Epoch is a hybrid timestamp. The high 48 bits hold a physical time in
// milliseconds and the low 16 bits a logical counter. A version of a key with
// a higher epoch takes precedence over the same user key at a lower epoch.
type Epoch uint64

const (
	// EpochMax is the largest epoch. In a delete event it means that no
	// deletion is in effect.
	EpochMax Epoch = math.MaxUint64

	epochPhysicalShift = 16
)

// EpochFromPhysicalTime returns the epoch for the given physical time in
// milliseconds, with a zero logical component.
func EpochFromPhysicalTime(ms uint64) Epoch {
	return Epoch(ms << epochPhysicalShift)
}

// PhysicalTime returns the physical component of the epoch in milliseconds.
func (e Epoch) PhysicalTime() uint64 {
	return uint64(e) >> epochPhysicalShift
}

// SubtractMs returns the epoch whose physical time is ms milliseconds before
// e's, saturating at zero.
func (e Epoch) SubtractMs(ms uint64) Epoch {
	pt := e.PhysicalTime()
	if pt < ms {
		return 0
	}
	return EpochFromPhysicalTime(pt - ms)
}

func (e Epoch) String() string {
	if e == EpochMax {
		return "inf"
	}
	return fmt.Sprintf("%d", uint64(e))
}

// SafeFormat implements redact.SafeFormatter.
func (e Epoch) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(e.String()))
}

const (
	// TableIDLen is the encoded length of a table id.
	TableIDLen = 4
	// EpochLen is the encoded length of the epoch suffix of a full key.
	EpochLen = 8
)

// UserKey is a key as seen by a state table: the owning table id followed by
// the table-local key bytes.
type UserKey struct {
	TableID  TableID
	TableKey []byte
}

// MakeUserKey constructs a UserKey.
func MakeUserKey(tableID TableID, tableKey []byte) UserKey {
	return UserKey{TableID: tableID, TableKey: tableKey}
}

// EncodedLen returns the length of the user key once encoded.
func (k UserKey) EncodedLen() int {
	return TableIDLen + len(k.TableKey)
}

// Encode appends the user key encoding (table id big-endian followed by the
// table key) to buf.
func (k UserKey) Encode(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(k.TableID))
	return append(buf, k.TableKey...)
}

// EncodeLengthPrefixed appends a little-endian u32 length followed by the
// user key encoding.
func (k UserKey) EncodeLengthPrefixed(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(k.EncodedLen()))
	return k.Encode(buf)
}

// DecodeUserKey decodes an encoded user key. The returned key aliases buf.
func DecodeUserKey(buf []byte) (UserKey, error) {
	if len(buf) < TableIDLen {
		return UserKey{}, CorruptionErrorf("user key too short: %d bytes", errors.Safe(len(buf)))
	}
	return UserKey{
		TableID:  TableID(binary.BigEndian.Uint32(buf)),
		TableKey: buf[TableIDLen:],
	}, nil
}

// DecodeUserKeyLengthPrefixed decodes a length-prefixed user key from the front
// of buf, returning the key and the remainder of buf.
func DecodeUserKeyLengthPrefixed(buf []byte) (UserKey, []byte, error) {
	if len(buf) < 4 {
		return UserKey{}, nil, CorruptionErrorf("truncated user key length")
	}
	n := int(binary.LittleEndian.Uint32(buf))
	buf = buf[4:]
	if len(buf) < n {
		return UserKey{}, nil, CorruptionErrorf("truncated user key: want %d bytes, have %d",
			errors.Safe(n), errors.Safe(len(buf)))
	}
	k, err := DecodeUserKey(buf[:n:n])
	return k, buf[n:], err
}

// Clone returns a deep copy of k.
func (k UserKey) Clone() UserKey {
	return UserKey{TableID: k.TableID, TableKey: bytes.Clone(k.TableKey)}
}

// Empty returns true for the zero user key.
func (k UserKey) Empty() bool {
	return k.TableID == 0 && len(k.TableKey) == 0
}

func (k UserKey) String() string {
	return fmt.Sprintf("%d:%s", k.TableID, FormatBytes(k.TableKey))
}

// CompareUserKeys orders user keys by table id and then by table key.
func CompareUserKeys(a, b UserKey) int {
	if c := cmp.Compare(a.TableID, b.TableID); c != 0 {
		return c
	}
	return bytes.Compare(a.TableKey, b.TableKey)
}

// FullKey is a user key tagged with the epoch of the version it names.
type FullKey struct {
	UserKey UserKey
	Epoch   Epoch
}

// MakeFullKey constructs a FullKey.
func MakeFullKey(tableID TableID, tableKey []byte, epoch Epoch) FullKey {
	return FullKey{UserKey: MakeUserKey(tableID, tableKey), Epoch: epoch}
}

// EncodedLen returns the length of the encoded full key.
func (k FullKey) EncodedLen() int {
	return k.UserKey.EncodedLen() + EpochLen
}

// Encode appends the encoded full key to buf: the user key encoding followed by
// the epoch as a big-endian u64.
func (k FullKey) Encode(buf []byte) []byte {
	buf = k.UserKey.Encode(buf)
	return binary.BigEndian.AppendUint64(buf, uint64(k.Epoch))
}

// Clone returns a deep copy of k.
func (k FullKey) Clone() FullKey {
	return FullKey{UserKey: k.UserKey.Clone(), Epoch: k.Epoch}
}

func (k FullKey) String() string {
	return fmt.Sprintf("%s@%s", k.UserKey, k.Epoch)
}

// DecodeFullKey decodes an encoded full key. The returned key aliases buf.
func DecodeFullKey(buf []byte) (FullKey, error) {
	if len(buf) < TableIDLen+EpochLen {
		return FullKey{}, CorruptionErrorf("full key too short: %d bytes", errors.Safe(len(buf)))
	}
	n := len(buf) - EpochLen
	uk, err := DecodeUserKey(buf[:n:n])
	if err != nil {
		return FullKey{}, err
	}
	return FullKey{UserKey: uk, Epoch: Epoch(binary.BigEndian.Uint64(buf[n:]))}, nil
}

// MustDecodeFullKey is like DecodeFullKey but panics on malformed input. It is
// used on keys that were produced by this process.
func MustDecodeFullKey(buf []byte) FullKey {
	k, err := DecodeFullKey(buf)
	if err != nil {
		panic(err)
	}
	return k
}

// CompareFullKeys orders full keys by user key ascending and then by epoch
// descending, so that the newest version of a user key sorts first.
func CompareFullKeys(a, b FullKey) int {
	if c := CompareUserKeys(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	return cmp.Compare(b.Epoch, a.Epoch)
}

// CompareEncodedFullKeys is CompareFullKeys on encoded keys.
func CompareEncodedFullKeys(a, b []byte) int {
	na, nb := len(a)-EpochLen, len(b)-EpochLen
	if c := bytes.Compare(a[:na], b[:nb]); c != 0 {
		return c
	}
	return cmp.Compare(binary.BigEndian.Uint64(b[nb:]), binary.BigEndian.Uint64(a[na:]))
}

// PointRange is a point in the user key space used as a delete range
// boundary. A boundary with ExcludeLeftKey set sits immediately after
// UserKey.
type PointRange struct {
	UserKey        UserKey
	ExcludeLeftKey bool
}

// MakePointRange constructs a PointRange.
func MakePointRange(k UserKey, excludeLeftKey bool) PointRange {
	return PointRange{UserKey: k, ExcludeLeftKey: excludeLeftKey}
}

// Clone returns a deep copy of p.
func (p PointRange) Clone() PointRange {
	return PointRange{UserKey: p.UserKey.Clone(), ExcludeLeftKey: p.ExcludeLeftKey}
}

func (p PointRange) String() string {
	if p.ExcludeLeftKey {
		return p.UserKey.String() + "+"
	}
	return p.UserKey.String()
}

// ComparePointRanges orders points by user key; at equal user keys the
// inclusive point sorts first.
func ComparePointRanges(a, b PointRange) int {
	if c := CompareUserKeys(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	switch {
	case a.ExcludeLeftKey == b.ExcludeLeftKey:
		return 0
	case a.ExcludeLeftKey:
		return 1
	default:
		return -1
	}
}

// FormatBytes renders a key for logs and test output: printable ASCII is
// written as is, anything else is hex escaped.
func FormatBytes(b []byte) string {
	var buf bytes.Buffer
	for _, c := range b {
		if c >= 0x20 && c < 0x7f && c != '\\' {
			buf.WriteByte(c)
		} else {
			fmt.Fprintf(&buf, "\\x%02x", c)
		}
	}
	return buf.String()
}
