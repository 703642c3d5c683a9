package pager

import (
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/tinySQL/internal/storage/dberr"
)

// PageID is a 1-based page number; 0 is never a valid page.
type PageID uint32

// InvalidPageID marks a null page pointer.
const InvalidPageID PageID = 0

// PageType identifies the kind of B-tree page, keyed by the type byte at
// the start of the page (offset 100 on page 1, offset 0 elsewhere).
type PageType uint8

const (
	PageTypeInteriorIndex PageType = 0x02
	PageTypeInteriorTable PageType = 0x05
	PageTypeLeafIndex     PageType = 0x0A
	PageTypeLeafTable     PageType = 0x0D
)

func (pt PageType) String() string {
	switch pt {
	case PageTypeInteriorIndex:
		return "interior-index"
	case PageTypeInteriorTable:
		return "interior-table"
	case PageTypeLeafIndex:
		return "leaf-index"
	case PageTypeLeafTable:
		return "leaf-table"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(pt))
	}
}

func (pt PageType) IsLeaf() bool {
	return pt == PageTypeLeafIndex || pt == PageTypeLeafTable
}

func (pt PageType) IsTable() bool {
	return pt == PageTypeInteriorTable || pt == PageTypeLeafTable
}

// pageHeaderSize is 8 bytes for leaf pages, 12 for interior pages (the
// extra 4 being the rightmost-child pointer).
const (
	pageHdrTypeOff        = 0
	pageHdrFirstFreeOff   = 1
	pageHdrCellCountOff   = 3
	pageHdrCellContentOff = 5
	pageHdrFragFreeOff    = 7
	pageHdrRightChildOff  = 8 // interior only
)

func pageHeaderSize(pt PageType) int {
	if pt == PageTypeInteriorIndex || pt == PageTypeInteriorTable {
		return 12
	}
	return 8
}

// BTreePage wraps one page buffer with accessors for the common header and
// the cell-pointer array. hdrBase is 100 on page 1 (the page sits after the
// database header) and 0 on every other page.
type BTreePage struct {
	buf     []byte
	hdrBase int
	usable  int
	cellLenFn cellLenFunc
}

// WrapBTreePage interprets an existing page buffer as a B-tree page.
func WrapBTreePage(buf []byte, isPage1 bool, usable int) *BTreePage {
	base := 0
	if isPage1 {
		base = HeaderSize
	}
	return &BTreePage{buf: buf, hdrBase: base, usable: usable}
}

// InitBTreePage zeroes and initializes a page buffer as an empty page of
// the given type.
func InitBTreePage(buf []byte, pt PageType, isPage1 bool, usable int) *BTreePage {
	base := 0
	if isPage1 {
		base = HeaderSize
	}
	for i := base; i < len(buf); i++ {
		buf[i] = 0
	}
	p := &BTreePage{buf: buf, hdrBase: base, usable: usable}
	buf[base+pageHdrTypeOff] = byte(pt)
	binary.BigEndian.PutUint16(buf[base+pageHdrFirstFreeOff:], 0)
	binary.BigEndian.PutUint16(buf[base+pageHdrCellCountOff:], 0)
	p.setCellContentStart(uint32(usable))
	buf[base+pageHdrFragFreeOff] = 0
	if !pt.IsLeaf() {
		binary.BigEndian.PutUint32(buf[base+pageHdrRightChildOff:], uint32(InvalidPageID))
	}
	return p
}

func (p *BTreePage) Bytes() []byte { return p.buf }

func (p *BTreePage) Type() PageType { return PageType(p.buf[p.hdrBase+pageHdrTypeOff]) }

func (p *BTreePage) setType(pt PageType) { p.buf[p.hdrBase+pageHdrTypeOff] = byte(pt) }

func (p *BTreePage) CellCount() int {
	return int(binary.BigEndian.Uint16(p.buf[p.hdrBase+pageHdrCellCountOff:]))
}

func (p *BTreePage) setCellCount(n int) {
	binary.BigEndian.PutUint16(p.buf[p.hdrBase+pageHdrCellCountOff:], uint16(n))
}

// cellContentStart returns the byte offset (absolute within the page
// buffer) where the cell content area begins. 0 on disk means 65536.
func (p *BTreePage) cellContentStart() int {
	v := binary.BigEndian.Uint16(p.buf[p.hdrBase+pageHdrCellContentOff:])
	if v == 0 {
		return 65536
	}
	return int(v)
}

func (p *BTreePage) setCellContentStart(v uint32) {
	if v == 65536 {
		binary.BigEndian.PutUint16(p.buf[p.hdrBase+pageHdrCellContentOff:], 0)
		return
	}
	binary.BigEndian.PutUint16(p.buf[p.hdrBase+pageHdrCellContentOff:], uint16(v))
}

func (p *BTreePage) FragmentedFreeBytes() int {
	return int(p.buf[p.hdrBase+pageHdrFragFreeOff])
}

func (p *BTreePage) RightChild() PageID {
	return PageID(binary.BigEndian.Uint32(p.buf[p.hdrBase+pageHdrRightChildOff:]))
}

func (p *BTreePage) SetRightChild(id PageID) {
	binary.BigEndian.PutUint32(p.buf[p.hdrBase+pageHdrRightChildOff:], uint32(id))
}

// cellPtrArrayOff is the absolute offset of the cell-pointer array, right
// after the page header.
func (p *BTreePage) cellPtrArrayOff() int {
	return p.hdrBase + pageHeaderSize(p.Type())
}

func (p *BTreePage) cellPointer(i int) int {
	off := p.cellPtrArrayOff() + 2*i
	return int(binary.BigEndian.Uint16(p.buf[off:]))
}

func (p *BTreePage) setCellPointer(i int, v int) {
	off := p.cellPtrArrayOff() + 2*i
	binary.BigEndian.PutUint16(p.buf[off:], uint16(v))
}

// FreeSpace returns the number of unallocated bytes between the end of the
// cell-pointer array and the start of the cell-content area.
func (p *BTreePage) FreeSpace() int {
	n := p.CellCount()
	arrayEnd := p.cellPtrArrayOff() + 2*n
	return p.cellContentStart() - arrayEnd
}

// RawCell returns the raw bytes of the i-th cell (pointer array order, not
// necessarily disk order).
func (p *BTreePage) RawCell(i int) []byte {
	off := p.cellPointer(i)
	end := p.usableEnd()
	return p.buf[off:end]
}

// usableEnd is the absolute offset marking the end of the usable page
// area (the reserved tail, if any, begins here). It is measured from the
// start of the physical page buffer regardless of hdrBase, matching the
// SQLite convention that reserved space sits at the tail of every page,
// including page 1.
func (p *BTreePage) usableEnd() int {
	return p.usable
}

// appendCell compacts-as-needed and appends raw cell bytes to the page,
// inserting a new pointer-array slot at position idx (0-based, among
// existing cells) to keep the pointer array in key order. Returns false if
// the cell does not fit in current free space.
func (p *BTreePage) appendCell(idx int, data []byte) bool {
	n := p.CellCount()
	need := len(data) + 2
	if p.FreeSpace() < need {
		if !p.defragment() || p.FreeSpace() < need {
			return false
		}
	}
	newContentStart := p.cellContentStart() - len(data)
	copy(p.buf[newContentStart:], data)

	// Shift pointer array entries at and after idx to make room.
	for i := n; i > idx; i-- {
		p.setCellPointer(i, p.cellPointer(i-1))
	}
	p.setCellPointer(idx, newContentStart)
	p.setCellContentStart(uint32(newContentStart))
	p.setCellCount(n + 1)
	return true
}

// removeCellAt deletes the pointer-array entry at idx (does not reclaim
// the cell body bytes; the next defragment() call reclaims them).
func (p *BTreePage) removeCellAt(idx int) {
	n := p.CellCount()
	for i := idx; i < n-1; i++ {
		p.setCellPointer(i, p.cellPointer(i+1))
	}
	p.setCellCount(n - 1)
}

// defragment rebuilds the cell-content area by repacking live cells
// against the end of the page, eliminating fragmentation. Requires that
// the caller already knows each cell's length; we derive it from context
// via cellLen, supplied per page type by the caller through cellLenFn.
func (p *BTreePage) defragment() bool {
	if p.cellLenFn == nil {
		return false
	}
	n := p.CellCount()
	type ent struct {
		off int
		ln  int
	}
	ents := make([]ent, n)
	for i := 0; i < n; i++ {
		off := p.cellPointer(i)
		ln := p.cellLenFn(p.buf[off:p.usableEnd()])
		ents[i] = ent{off, ln}
	}
	end := p.usableEnd()
	scratch := make([]byte, end-p.cellPtrArrayOff())
	cursor := len(scratch)
	for i := n - 1; i >= 0; i-- {
		cursor -= ents[i].ln
		copy(scratch[cursor:], p.buf[ents[i].off:ents[i].off+ents[i].ln])
		ents[i].off = p.cellPtrArrayOff() + cursor
	}
	copy(p.buf[p.cellPtrArrayOff():end], scratch)
	for i := 0; i < n; i++ {
		p.setCellPointer(i, ents[i].off)
	}
	newStart := p.cellPtrArrayOff() + cursor
	p.setCellContentStart(uint32(newStart))
	p.buf[p.hdrBase+pageHdrFragFreeOff] = 0
	return true
}

// cellLenFn lets the B-tree layer tell the page how to compute a cell's
// encoded length given its starting bytes, so defragment() can repack
// without the page layer needing to understand cell contents itself.
type cellLenFunc func(cell []byte) int

func (p *BTreePage) withCellLen(fn cellLenFunc) *BTreePage {
	p.cellLenFn = fn
	return p
}

func pageValidateBounds(buf []byte, off, n int) error {
	if off < 0 || n < 0 || off+n > len(buf) {
		return dberr.Corrupt(0, "cell offset out of bounds")
	}
	return nil
}
