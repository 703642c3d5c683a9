package pager

import (
	"github.com/SimonWaldherr/tinySQL/internal/storage/dberr"
)

// Value is a decoded column value. Exactly one of the typed fields is
// meaningful, selected by Type. Text/Blob are borrowed slices into the
// originating page buffer (or, for overflowing payloads, into a
// caller-supplied scratch buffer) — see RowCursor.ReadBytes/ReadText.
type Value struct {
	Type  SerialType
	Int   int64
	Float float64
	Bytes []byte // TEXT or BLOB payload
}

func (v Value) IsNull() bool { return v.Type.IsNull() }

// EncodeRecord serializes cols into the SQLite record format: a header of
// header_size (varint) + one serial-type varint per column, followed by
// the column bodies in order. Used by the B-tree writer (C6) to build new
// cell payloads.
func EncodeRecord(cols []Value) []byte {
	serials := make([]SerialType, len(cols))
	headerBody := 0
	dataBody := 0
	for i, c := range cols {
		var st SerialType
		switch {
		case c.Type.IsNull():
			st = SerialNull
		case c.Type.IsText():
			st = SerialTypeForText(len(c.Bytes))
		case c.Type.IsBlob():
			st = SerialTypeForBlob(len(c.Bytes))
		case c.Type == SerialFloat:
			st = SerialFloat
		default:
			st = SerialTypeForInt(c.Int)
		}
		serials[i] = st
		headerBody += VarintLen(int64(st))
		dataBody += SerialTypeSize(st)
	}
	// header_size varint itself is self-referential; SQLite resolves this
	// by trying encoded lengths until stable, but in practice a 1-byte
	// header-size varint suffices unless the header itself exceeds 127
	// bytes, handled below by recomputing once if needed.
	hdrSizeLen := 1
	for {
		total := hdrSizeLen + headerBody
		if VarintLen(int64(total)) == hdrSizeLen {
			break
		}
		hdrSizeLen = VarintLen(int64(total))
	}
	headerSize := hdrSizeLen + headerBody
	buf := make([]byte, headerSize+dataBody)
	off := PutVarint(buf, int64(headerSize))
	for _, st := range serials {
		off += PutVarint(buf[off:], int64(st))
	}
	dataOff := headerSize
	for i, c := range cols {
		st := serials[i]
		sz := SerialTypeSize(st)
		switch {
		case st.IsText() || st.IsBlob():
			copy(buf[dataOff:dataOff+sz], c.Bytes)
		case st == SerialFloat:
			EncodeFloat(c.Float, buf[dataOff:dataOff+sz])
		case sz > 0:
			EncodeInt(st, c.Int, buf[dataOff:dataOff+sz])
		}
		dataOff += sz
	}
	return buf
}

// RowCursor exposes zero-copy access to one decoded record (spec §4.4). It
// borrows from the page buffer passed to DecodeRecord; callers must not
// retain returned slices past the lifetime of that buffer/pin.
type RowCursor struct {
	data    []byte // full record bytes (header+body), possibly spanning overflow via caller-assembled buffer
	serials []SerialType
	offsets []int // body offset of each column within data
	RowID   int64 // valid for table-leaf cells; 0 otherwise
}

// DecodeRecord parses a record's header and indexes column offsets without
// copying column bodies (spec §4.4 "zero per-row allocation" contract).
// Every column is indexed (cheap — a varint walk) but no column body is
// materialized until one of the accessors below is called on it.
func DecodeRecord(data []byte) (*RowCursor, error) {
	hdrSize, n, err := GetVarint(data)
	if err != nil {
		return nil, err
	}
	if hdrSize < int64(n) || int(hdrSize) > len(data) {
		return nil, dberr.Corrupt(0, "record header size out of bounds")
	}
	var serials []SerialType
	off := n
	for off < int(hdrSize) {
		st, k, err := GetVarint(data[off:])
		if err != nil {
			return nil, err
		}
		serials = append(serials, SerialType(st))
		off += k
	}
	offsets := make([]int, len(serials))
	body := int(hdrSize)
	for i, st := range serials {
		offsets[i] = body
		body += SerialTypeSize(st)
	}
	if body > len(data) {
		return nil, dberr.Corrupt(0, "record body overruns payload")
	}
	return &RowCursor{data: data, serials: serials, offsets: offsets}, nil
}

func (r *RowCursor) FieldCount() int { return len(r.serials) }

func (r *RowCursor) SerialTypeAt(i int) SerialType { return r.serials[i] }

func (r *RowCursor) IsNull(i int) bool { return r.serials[i].IsNull() }

func (r *RowCursor) ReadInt(i int) int64 {
	st := r.serials[i]
	sz := SerialTypeSize(st)
	if sz == 0 {
		return DecodeInt(st, nil)
	}
	return DecodeInt(st, r.data[r.offsets[i]:r.offsets[i]+sz])
}

func (r *RowCursor) ReadFloat(i int) float64 {
	st := r.serials[i]
	if st != SerialFloat {
		return float64(r.ReadInt(i))
	}
	return DecodeFloat(r.data[r.offsets[i] : r.offsets[i]+8])
}

// ReadBytes returns the borrowed BLOB slice for column i.
func (r *RowCursor) ReadBytes(i int) []byte {
	sz := SerialTypeSize(r.serials[i])
	return r.data[r.offsets[i] : r.offsets[i]+sz]
}

// ReadText returns the borrowed UTF-8 TEXT slice for column i.
func (r *RowCursor) ReadText(i int) string {
	return string(r.ReadBytes(i))
}

// Value materializes column i into a Value (used by callers that want a
// tagged union instead of per-type accessors, e.g. the public handle).
func (r *RowCursor) Value(i int) Value {
	st := r.serials[i]
	switch {
	case st.IsNull():
		return Value{Type: SerialNull}
	case st.IsText(), st.IsBlob():
		return Value{Type: st, Bytes: r.ReadBytes(i)}
	case st == SerialFloat:
		return Value{Type: SerialFloat, Float: r.ReadFloat(i)}
	default:
		return Value{Type: st, Int: r.ReadInt(i)}
	}
}
