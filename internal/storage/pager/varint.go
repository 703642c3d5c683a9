package pager

import (
	"encoding/binary"
	"math"

	"github.com/SimonWaldherr/tinySQL/internal/storage/dberr"
)

// GetVarint decodes a big-endian SQLite-style varint from the start of buf,
// returning the decoded value and the number of bytes consumed (1-9). The
// first 8 bytes contribute 7 bits each (high bit is the continuation
// flag); a 9th byte, if present, contributes all 8 bits. This mirrors the
// reference decoding in Lindeneg-sqlite-exploration/utils.go, generalized
// to return an error instead of silently truncating on a short buffer.
func GetVarint(buf []byte) (int64, int, error) {
	var v uint64
	for i := 0; i < len(buf) && i < 9; i++ {
		b := buf[i]
		if i == 8 {
			v = (v << 8) | uint64(b)
			return int64(v), 9, nil
		}
		v = (v << 7) | uint64(b&0x7f)
		if b < 0x80 {
			return int64(v), i + 1, nil
		}
	}
	return 0, 0, dberr.Corrupt(0, "truncated varint")
}

// PutVarint encodes x into the shortest canonical big-endian varint form
// and returns the number of bytes written into buf (which must have room
// for up to 9 bytes). Mirrors SQLite's putVarint64 shape: if the top 8
// bits are nonzero the full 9-byte form is used (8 bytes of 7-bit groups
// plus one verbatim byte), otherwise the minimal 7-bit-group encoding is
// used with the continuation bit set on every byte but the last.
func PutVarint(buf []byte, x int64) int {
	u := uint64(x)
	if u&0xff00000000000000 != 0 {
		buf[8] = byte(u)
		u >>= 8
		for i := 7; i >= 0; i-- {
			buf[i] = byte(u&0x7f) | 0x80
			u >>= 7
		}
		return 9
	}
	var tmp [9]byte
	n := 0
	for {
		tmp[n] = byte(u&0x7f) | 0x80
		u >>= 7
		n++
		if u == 0 {
			break
		}
	}
	tmp[0] &= 0x7f
	for i, j := 0, n-1; j >= 0; j, i = j-1, i+1 {
		buf[i] = tmp[j]
	}
	return n
}

// VarintLen returns the encoded length of x without writing it.
func VarintLen(x int64) int {
	var buf [9]byte
	return PutVarint(buf[:], x)
}

// SerialType is the small integer code (spec §3 "Payload") that determines
// the on-disk width and interpretation of one column value.
type SerialType int64

const (
	SerialNull  SerialType = 0
	SerialInt8  SerialType = 1
	SerialInt16 SerialType = 2
	SerialInt24 SerialType = 3
	SerialInt32 SerialType = 4
	SerialInt48 SerialType = 5
	SerialInt64 SerialType = 6
	SerialFloat SerialType = 7
	SerialZero  SerialType = 8
	SerialOne   SerialType = 9
	// 10, 11 are reserved for internal use by SQLite and never appear.
)

// SerialTypeSize returns the on-disk width in bytes of a column encoded
// with serial type st. BLOB is even and >=12; TEXT is odd and >=13.
func SerialTypeSize(st SerialType) int {
	switch {
	case st == SerialNull, st == SerialZero, st == SerialOne:
		return 0
	case st == SerialInt8:
		return 1
	case st == SerialInt16:
		return 2
	case st == SerialInt24:
		return 3
	case st == SerialInt32:
		return 4
	case st == SerialInt48:
		return 6
	case st == SerialInt64:
		return 8
	case st == SerialFloat:
		return 8
	case st >= 12 && st%2 == 0:
		return int((st - 12) / 2)
	case st >= 13 && st%2 == 1:
		return int((st - 13) / 2)
	default:
		return 0
	}
}

// IsText reports whether st encodes a TEXT column.
func (st SerialType) IsText() bool { return st >= 13 && st%2 == 1 }

// IsBlob reports whether st encodes a BLOB column.
func (st SerialType) IsBlob() bool { return st >= 12 && st%2 == 0 }

// IsNull reports whether st encodes SQL NULL.
func (st SerialType) IsNull() bool { return st == SerialNull }

// SerialTypeForText returns the serial type for a TEXT value of n bytes.
func SerialTypeForText(n int) SerialType { return SerialType(13 + 2*n) }

// SerialTypeForBlob returns the serial type for a BLOB value of n bytes.
func SerialTypeForBlob(n int) SerialType { return SerialType(12 + 2*n) }

// SerialTypeForInt picks the narrowest integer serial type that can
// represent v, matching SQLite's manifest-typing encoder.
func SerialTypeForInt(v int64) SerialType {
	switch {
	case v == 0:
		return SerialZero
	case v == 1:
		return SerialOne
	case v >= -128 && v <= 127:
		return SerialInt8
	case v >= -32768 && v <= 32767:
		return SerialInt16
	case v >= -8388608 && v <= 8388607:
		return SerialInt24
	case v >= -2147483648 && v <= 2147483647:
		return SerialInt32
	case v >= -(1<<47) && v < (1<<47):
		return SerialInt48
	default:
		return SerialInt64
	}
}

// DecodeInt decodes a two's-complement big-endian integer of the width
// implied by st from data (which must be exactly SerialTypeSize(st) long).
func DecodeInt(st SerialType, data []byte) int64 {
	switch st {
	case SerialZero:
		return 0
	case SerialOne:
		return 1
	case SerialInt8:
		return int64(int8(data[0]))
	case SerialInt16:
		return int64(int16(binary.BigEndian.Uint16(data)))
	case SerialInt24:
		v := int32(data[0])<<16 | int32(data[1])<<8 | int32(data[2])
		if v&(1<<23) != 0 {
			v |= ^((1 << 24) - 1)
		}
		return int64(v)
	case SerialInt32:
		return int64(int32(binary.BigEndian.Uint32(data)))
	case SerialInt48:
		var v int64
		for i := 0; i < 6; i++ {
			v = v<<8 | int64(data[i])
		}
		if v&(1<<47) != 0 {
			v |= ^((int64(1) << 48) - 1)
		}
		return v
	case SerialInt64:
		return int64(binary.BigEndian.Uint64(data))
	default:
		return 0
	}
}

// EncodeInt writes v into dst using the width implied by st.
func EncodeInt(st SerialType, v int64, dst []byte) {
	switch st {
	case SerialZero, SerialOne:
		// zero-width
	case SerialInt8:
		dst[0] = byte(v)
	case SerialInt16:
		binary.BigEndian.PutUint16(dst, uint16(v))
	case SerialInt24:
		dst[0] = byte(v >> 16)
		dst[1] = byte(v >> 8)
		dst[2] = byte(v)
	case SerialInt32:
		binary.BigEndian.PutUint32(dst, uint32(v))
	case SerialInt48:
		for i := 5; i >= 0; i-- {
			dst[i] = byte(v)
			v >>= 8
		}
	case SerialInt64:
		binary.BigEndian.PutUint64(dst, uint64(v))
	}
}

// DecodeFloat decodes an IEEE-754 double from 8 big-endian bytes.
func DecodeFloat(data []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(data))
}

// EncodeFloat writes f as 8 big-endian bytes into dst.
func EncodeFloat(f float64, dst []byte) {
	binary.BigEndian.PutUint64(dst, math.Float64bits(f))
}
