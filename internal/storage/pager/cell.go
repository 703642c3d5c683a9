package pager

// Table and index B-tree cell encoding (spec §3 "Cell"). A table leaf
// cell is [varint payload_len][varint rowid][payload local
// bytes][u32 overflow page, if payload does not fit locally]. A table
// interior cell is [u32 left child][varint rowid] (the rowid is the
// largest rowid in the left subtree, i.e. the divider key). An index
// leaf cell drops the separate rowid field — [varint payload_len]
// [payload local bytes][u32 overflow page?] — because the index key
// record's own trailing column already carries the rowid (spec §4.5).
// An index interior cell is [u32 left child][varint payload_len]
// [payload local bytes][u32 overflow page?]: the same leaf shape with
// a child pointer prefixed, since (unlike a table interior cell) the
// divider itself is a full key record, not a single integer. Grounded
// on Lindeneg-sqlite-exploration/cell.go's parseLeafIndexCell and
// parseInteriorIndexCell.

// encodeLeafCell builds a table leaf cell for rowid carrying payload
// (the full, unsplit record bytes). usable is the page's usable size,
// used to decide the local/overflow split per spec §3 "Overflow".
func encodeLeafCell(rowid int64, payload []byte, usable int) (cell []byte, overflowPortion []byte, hasOverflow bool) {
	local, overflows := LocalPayloadBounds(usable, len(payload))
	var buf []byte
	lenBuf := make([]byte, 9)
	n1 := PutVarint(lenBuf, int64(len(payload)))
	ridBuf := make([]byte, 9)
	n2 := PutVarint(ridBuf, rowid)
	buf = append(buf, lenBuf[:n1]...)
	buf = append(buf, ridBuf[:n2]...)
	if !overflows {
		buf = append(buf, payload...)
		return buf, nil, false
	}
	buf = append(buf, payload[:local]...)
	buf = append(buf, make([]byte, 4)...) // overflow page number, patched by caller
	return buf, payload[local:], true
}

// decodeLeafCellHeader parses the varint payload_len and rowid at the
// start of a raw leaf cell, returning the byte offset where the local
// payload bytes begin.
func decodeLeafCellHeader(cell []byte) (payloadLen int64, rowid int64, bodyOff int, err error) {
	payloadLen, n1, err := GetVarint(cell)
	if err != nil {
		return 0, 0, 0, err
	}
	rowid, n2, err := GetVarint(cell[n1:])
	if err != nil {
		return 0, 0, 0, err
	}
	return payloadLen, rowid, n1 + n2, nil
}

func leafCellOverflowPageOff(cell []byte, usable int, bodyOff int, payloadLen int64) (off int, hasOverflow bool) {
	local, overflows := LocalPayloadBounds(usable, int(payloadLen))
	if !overflows {
		return 0, false
	}
	return bodyOff + local, true
}

// newLeafCellLenFn builds the page layer's defragment() callback for a
// table leaf page, closing over the page's usable size (needed to
// recompute the local/overflow split per cell).
func newLeafCellLenFn(usable int) cellLenFunc {
	return func(cell []byte) int {
		payloadLen, _, bodyOff, err := decodeLeafCellHeader(cell)
		if err != nil {
			return len(cell)
		}
		local, overflows := LocalPayloadBounds(usable, int(payloadLen))
		if overflows {
			return bodyOff + local + 4
		}
		return bodyOff + int(payloadLen)
	}
}

// encodeInteriorCell builds a table interior cell: child pointer +
// divider rowid.
func encodeInteriorCell(child PageID, rowid int64) []byte {
	buf := make([]byte, 4, 13)
	buf[0] = byte(child >> 24)
	buf[1] = byte(child >> 16)
	buf[2] = byte(child >> 8)
	buf[3] = byte(child)
	ridBuf := make([]byte, 9)
	n := PutVarint(ridBuf, rowid)
	return append(buf, ridBuf[:n]...)
}

func decodeInteriorCell(cell []byte) (child PageID, rowid int64, err error) {
	child = PageID(uint32(cell[0])<<24 | uint32(cell[1])<<16 | uint32(cell[2])<<8 | uint32(cell[3]))
	rowid, _, err = GetVarint(cell[4:])
	return child, rowid, err
}

func interiorCellLen(cell []byte) int {
	_, n, err := GetVarint(cell[4:])
	if err != nil {
		return len(cell)
	}
	return 4 + n
}

// encodeIndexLeafCell builds an index leaf cell carrying key (the full
// encoded index-key record: every indexed column followed by the
// owning row's rowid as a trailing tie-break column, per spec §4.5).
func encodeIndexLeafCell(key []byte, usable int) (cell []byte, overflowPortion []byte, hasOverflow bool) {
	local, overflows := LocalPayloadBounds(usable, len(key))
	var buf []byte
	lenBuf := make([]byte, 9)
	n1 := PutVarint(lenBuf, int64(len(key)))
	buf = append(buf, lenBuf[:n1]...)
	if !overflows {
		buf = append(buf, key...)
		return buf, nil, false
	}
	buf = append(buf, key[:local]...)
	buf = append(buf, make([]byte, 4)...) // overflow page number, patched by caller
	return buf, key[local:], true
}

// decodeIndexLeafCellHeader parses the varint payload_len at the start
// of a raw index leaf cell, returning the offset where the key
// record's local bytes begin.
func decodeIndexLeafCellHeader(cell []byte) (payloadLen int64, bodyOff int, err error) {
	payloadLen, n, err := GetVarint(cell)
	if err != nil {
		return 0, 0, err
	}
	return payloadLen, n, nil
}

func indexLeafCellOverflowPageOff(cell []byte, usable, bodyOff int, payloadLen int64) (off int, hasOverflow bool) {
	local, overflows := LocalPayloadBounds(usable, int(payloadLen))
	if !overflows {
		return 0, false
	}
	return bodyOff + local, true
}

// newIndexLeafCellLenFn builds the page layer's defragment() callback
// for an index leaf page, mirroring newLeafCellLenFn without the
// rowid varint.
func newIndexLeafCellLenFn(usable int) cellLenFunc {
	return func(cell []byte) int {
		payloadLen, bodyOff, err := decodeIndexLeafCellHeader(cell)
		if err != nil {
			return len(cell)
		}
		local, overflows := LocalPayloadBounds(usable, int(payloadLen))
		if overflows {
			return bodyOff + local + 4
		}
		return bodyOff + int(payloadLen)
	}
}

// encodeIndexInteriorCell builds an index interior cell: child pointer
// followed by the divider key record (the first key of the right
// subtree), local/overflow split exactly as a leaf cell's payload is.
func encodeIndexInteriorCell(child PageID, key []byte, usable int) (cell []byte, overflowPortion []byte, hasOverflow bool) {
	head := make([]byte, 4)
	head[0] = byte(child >> 24)
	head[1] = byte(child >> 16)
	head[2] = byte(child >> 8)
	head[3] = byte(child)
	leafCell, overflowPortion, hasOverflow := encodeIndexLeafCell(key, usable)
	return append(head, leafCell...), overflowPortion, hasOverflow
}

func decodeIndexInteriorCellHeader(cell []byte) (child PageID, payloadLen int64, bodyOff int, err error) {
	child = PageID(uint32(cell[0])<<24 | uint32(cell[1])<<16 | uint32(cell[2])<<8 | uint32(cell[3]))
	payloadLen, n, err := GetVarint(cell[4:])
	if err != nil {
		return 0, 0, 0, err
	}
	return child, payloadLen, 4 + n, nil
}

func indexInteriorCellOverflowPageOff(cell []byte, usable, bodyOff int, payloadLen int64) (off int, hasOverflow bool) {
	local, overflows := LocalPayloadBounds(usable, int(payloadLen))
	if !overflows {
		return 0, false
	}
	return bodyOff + local, true
}

func newIndexInteriorCellLenFn(usable int) cellLenFunc {
	return func(cell []byte) int {
		_, payloadLen, bodyOff, err := decodeIndexInteriorCellHeader(cell)
		if err != nil {
			return len(cell)
		}
		local, overflows := LocalPayloadBounds(usable, int(payloadLen))
		if overflows {
			return bodyOff + local + 4
		}
		return bodyOff + int(payloadLen)
	}
}
