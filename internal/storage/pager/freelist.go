package pager

import "encoding/binary"

// Free-list pages (spec §3 "Free list") are a singly linked chain of
// trunk pages. Each trunk page begins with next_trunk (u32) and
// leaf_count (u32), followed by leaf_count u32 leaf page numbers — plain
// free page numbers available for reuse, not a type of page in the
// PageType sense. Allocation prefers a free-list leaf; if none is
// available, the file grows by one page.

const freeListTrunkHeader = 8 // next_trunk(4) + leaf_count(4)

func freeListTrunkCapacity(usable int) int {
	return (usable - freeListTrunkHeader) / 4
}

func trunkNext(buf []byte) PageID {
	return PageID(binary.BigEndian.Uint32(buf[0:4]))
}

func setTrunkNext(buf []byte, next PageID) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(next))
}

func trunkLeafCount(buf []byte) int {
	return int(binary.BigEndian.Uint32(buf[4:8]))
}

func setTrunkLeafCount(buf []byte, n int) {
	binary.BigEndian.PutUint32(buf[4:8], uint32(n))
}

func trunkLeaf(buf []byte, i int) PageID {
	off := freeListTrunkHeader + i*4
	return PageID(binary.BigEndian.Uint32(buf[off:]))
}

func setTrunkLeaf(buf []byte, i int, id PageID) {
	off := freeListTrunkHeader + i*4
	binary.BigEndian.PutUint32(buf[off:], uint32(id))
}

// FreeManager tracks the on-disk free-list chain. It keeps only the head
// page id and the total count in memory (the spec's header fields
// FirstFreelistTrunk/FreelistCount); the chain itself is read/written
// lazily through the pager, matching the spec's "prefers a free-list
// leaf" allocation rule without requiring a full in-memory page set.
type FreeManager struct {
	head  PageID
	count uint32
}

func NewFreeManager(head PageID, count uint32) *FreeManager {
	return &FreeManager{head: head, count: count}
}

func (fm *FreeManager) Head() PageID   { return fm.head }
func (fm *FreeManager) Count() uint32  { return fm.count }

// Alloc pops one page id off the free-list chain, preferring the current
// trunk page's trailing leaf entry (cheapest: no chain restructuring). It
// returns InvalidPageID when the free list is empty, signaling the
// caller to grow the file instead. readPage/writePage are the caller's
// page I/O; the B-tree writers pass Tx.ReadPage/Tx.WritePage, so
// free-list pages go through the cache and the rollback journal.
func (fm *FreeManager) Alloc(readPage func(PageID) ([]byte, error), writePage func(PageID, []byte) error) (PageID, error) {
	if fm.head == InvalidPageID {
		return InvalidPageID, nil
	}
	buf, err := readPage(fm.head)
	if err != nil {
		return InvalidPageID, err
	}
	n := trunkLeafCount(buf)
	if n > 0 {
		id := trunkLeaf(buf, n-1)
		setTrunkLeafCount(buf, n-1)
		if err := writePage(fm.head, buf); err != nil {
			return InvalidPageID, err
		}
		fm.count--
		return id, nil
	}
	// Trunk page itself becomes the allocated page; promote its next
	// trunk to head.
	id := fm.head
	fm.head = trunkNext(buf)
	fm.count--
	return id, nil
}

// Free pushes pid back onto the free list, appending it to the current
// trunk page's leaf array when there is room, else making pid the new
// trunk page (pointing at the old head). pageSize is the physical page
// size (not the usable size): a freed page becomes a full page on disk,
// and allocating the new trunk buffer at only usable length leaves the
// reserved tail (the encryption tag/nonce region when the database is
// password-protected) missing, which panics when File.WritePageRaw's
// crypto transform slices page[usable:usable+tagLen] out of it.
func (fm *FreeManager) Free(pid PageID, pageSize, usable int, readPage func(PageID) ([]byte, error), writePage func(PageID, []byte) error) error {
	if fm.head != InvalidPageID {
		buf, err := readPage(fm.head)
		if err != nil {
			return err
		}
		n := trunkLeafCount(buf)
		if n < freeListTrunkCapacity(usable) {
			setTrunkLeaf(buf, n, pid)
			setTrunkLeafCount(buf, n+1)
			if err := writePage(fm.head, buf); err != nil {
				return err
			}
			fm.count++
			return nil
		}
	}
	buf := make([]byte, pageSize)
	setTrunkNext(buf, fm.head)
	setTrunkLeafCount(buf, 0)
	if err := writePage(pid, buf); err != nil {
		return err
	}
	fm.head = pid
	fm.count++
	return nil
}
