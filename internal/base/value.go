// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "fmt"

// ValueKind distinguishes puts from point deletes. The constants are part of
// the on-disk format.
type ValueKind uint8

const (
	ValueKindPut    ValueKind = 0
	ValueKindDelete ValueKind = 1
)

// Value is the value half of a key/value pair stored in a table: either a put
// carrying a payload or a point delete.
type Value struct {
	Kind    ValueKind
	Payload []byte
}

// PutValue returns a put of the given payload.
func PutValue(payload []byte) Value {
	return Value{Kind: ValueKindPut, Payload: payload}
}

// DeleteValue returns a point delete.
func DeleteValue() Value {
	return Value{Kind: ValueKindDelete}
}

// IsDelete returns true for point deletes.
func (v Value) IsDelete() bool {
	return v.Kind == ValueKindDelete
}

// EncodedLen returns the length of the encoded value.
func (v Value) EncodedLen() int {
	if v.IsDelete() {
		return 1
	}
	return 1 + len(v.Payload)
}

// Encode appends the encoded value (kind byte followed by the payload) to buf.
func (v Value) Encode(buf []byte) []byte {
	buf = append(buf, byte(v.Kind))
	if v.IsDelete() {
		return buf
	}
	return append(buf, v.Payload...)
}

// DecodeValue decodes an encoded value. The payload aliases buf.
func DecodeValue(buf []byte) (Value, error) {
	if len(buf) == 0 {
		return Value{}, CorruptionErrorf("empty value")
	}
	switch k := ValueKind(buf[0]); k {
	case ValueKindPut:
		return Value{Kind: k, Payload: buf[1:]}, nil
	case ValueKindDelete:
		return Value{Kind: k}, nil
	default:
		return Value{}, CorruptionErrorf("unknown value kind %d", k)
	}
}

func (v Value) String() string {
	if v.IsDelete() {
		return "DEL"
	}
	return fmt.Sprintf("PUT(%s)", FormatBytes(v.Payload))
}
