package pager

import (
	"encoding/binary"

	"github.com/SimonWaldherr/tinySQL/internal/storage/dberr"
)

// Overflow pages store the spill portion of a payload too large to fit
// inline. The first 4 bytes of the page hold the next overflow page
// number (0 at the end of the chain); the rest of the usable page area is
// payload data, per spec §3 "Overflow".

func overflowNext(buf []byte) PageID {
	return PageID(binary.BigEndian.Uint32(buf[0:4]))
}

func setOverflowNext(buf []byte, next PageID) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(next))
}

// OverflowCapacity is the number of payload bytes one overflow page can
// hold, given the usable page size.
func OverflowCapacity(usable int) int {
	return usable - 4
}

// LocalPayloadBounds computes, per spec §4.1/§3, how many bytes of a
// record of size total are stored inline on a table-leaf cell versus
// spilled to an overflow chain. U is the usable page size.
func LocalPayloadBounds(u, total int) (local int, overflows bool) {
	maxLocal := u - 35
	if total <= maxLocal {
		return total, false
	}
	minLocal := ((u-12)*32)/255 - 23
	k := minLocal + (total-minLocal)%(u-4)
	if k > maxLocal {
		k = minLocal
	}
	return k, true
}

// overflowIO bundles the page-level primitives writeOverflowChain and
// readOverflowChain need, so this file stays independent of the pager's
// transaction/cache machinery and can be unit-tested with fakes.
type overflowIO struct {
	Alloc func() (PageID, error)
	Read  func(PageID) ([]byte, error)
	Write func(PageID, []byte) error
}

// writeOverflowChain writes payload across a chain of freshly allocated
// overflow pages, returning the first page id (InvalidPageID if payload
// is empty).
func writeOverflowChain(payload []byte, usable int, io overflowIO) (PageID, error) {
	if len(payload) == 0 {
		return InvalidPageID, nil
	}
	cap := OverflowCapacity(usable)
	var first, prev PageID
	remaining := payload
	for len(remaining) > 0 {
		id, err := io.Alloc()
		if err != nil {
			return InvalidPageID, err
		}
		if first == InvalidPageID {
			first = id
		}
		n := len(remaining)
		if n > cap {
			n = cap
		}
		buf := make([]byte, usable)
		setOverflowNext(buf, InvalidPageID)
		copy(buf[4:], remaining[:n])
		if err := io.Write(id, buf); err != nil {
			return InvalidPageID, err
		}
		if prev != InvalidPageID {
			prevBuf, err := io.Read(prev)
			if err != nil {
				return InvalidPageID, err
			}
			setOverflowNext(prevBuf, id)
			if err := io.Write(prev, prevBuf); err != nil {
				return InvalidPageID, err
			}
		}
		prev = id
		remaining = remaining[n:]
	}
	return first, nil
}

// readOverflowChain reassembles a payload spilled across an overflow
// chain into dst (a caller-owned scratch buffer, per spec §4.4), starting
// from the first overflow page and reading totalLen bytes total.
func readOverflowChain(first PageID, totalLen, usable int, dst []byte, readPage func(PageID) ([]byte, error)) error {
	cap := OverflowCapacity(usable)
	id := first
	off := 0
	for off < totalLen {
		if id == InvalidPageID {
			return dberr.Corrupt(0, "overflow chain ended early")
		}
		buf, err := readPage(id)
		if err != nil {
			return err
		}
		n := totalLen - off
		if n > cap {
			n = cap
		}
		copy(dst[off:off+n], buf[4:4+n])
		off += n
		id = overflowNext(buf)
	}
	return nil
}

// freeOverflowChain walks a chain freeing every page via the supplied
// free callback — used when a cell holding an overflow payload is
// deleted or replaced.
func freeOverflowChain(first PageID, readPage func(PageID) ([]byte, error), free func(PageID) error) error {
	id := first
	for id != InvalidPageID {
		buf, err := readPage(id)
		if err != nil {
			return err
		}
		next := overflowNext(buf)
		if err := free(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}
