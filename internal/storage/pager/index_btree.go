package pager

import (
	"bytes"

	"github.com/SimonWaldherr/tinySQL/internal/storage/dberr"
)

// Index B-tree support (spec C5/C6, Testable Property 3 "in-order scan
// ... for both table (rowid) and index (lex) B-trees"). Unlike a table
// B-tree, an index B-tree is keyed by the lexicographic order of an
// encoded record — the indexed columns, with the owning row's rowid
// appended as a trailing tie-break column — rather than by a bare
// int64 rowid. IndexWriter/IndexCursor below mirror Writer/Cursor's
// shape (same split/descend/scan structure) but compare full key
// records instead of decoding a rowid varint, and their cells carry
// the whole key instead of a separate rowid field, per
// Lindeneg-sqlite-exploration/cell.go's parseLeafIndexCell and
// parseInteriorIndexCell.

// storage classes, in SQLite's default sort order: NULL < numeric <
// text < blob (spec §4.8's affinity rules govern how a value reaches
// one of these classes at encode time; comparison itself only ever
// looks at the class actually stored).
const (
	classNull = iota
	classNumeric
	classText
	classBlob
)

func storageClass(t SerialType) int {
	switch {
	case t.IsNull():
		return classNull
	case t.IsText():
		return classText
	case t.IsBlob():
		return classBlob
	default:
		return classNumeric // SerialFloat and every integer serial type
	}
}

func numericFloat(v Value) float64 {
	if v.Type == SerialFloat {
		return v.Float
	}
	return float64(v.Int)
}

// compareValues orders two decoded column values the way SQLite's
// default BINARY collation does: by storage class first, then
// numerically within the numeric class or byte-wise within text/blob.
func compareValues(a, b Value) int {
	ac, bc := storageClass(a.Type), storageClass(b.Type)
	if ac != bc {
		if ac < bc {
			return -1
		}
		return 1
	}
	switch ac {
	case classNull:
		return 0
	case classNumeric:
		af, bf := numericFloat(a), numericFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	default: // classText, classBlob
		return bytes.Compare(a.Bytes, b.Bytes)
	}
}

// compareIndexKeys orders two encoded index-key records column by
// column, falling back to raw byte comparison if either fails to
// decode (defensive only; both sides are always records this engine
// itself wrote).
func compareIndexKeys(a, b []byte) int {
	ra, errA := DecodeRecord(a)
	rb, errB := DecodeRecord(b)
	if errA != nil || errB != nil {
		return bytes.Compare(a, b)
	}
	n := ra.FieldCount()
	if rb.FieldCount() < n {
		n = rb.FieldCount()
	}
	for i := 0; i < n; i++ {
		if c := compareValues(ra.Value(i), rb.Value(i)); c != 0 {
			return c
		}
	}
	return ra.FieldCount() - rb.FieldCount()
}

// EncodeIndexKey builds the key record for one index entry: every
// indexed column's value, in index-column order, followed by rowid as
// a trailing INTEGER column that breaks ties between rows that share
// identical indexed values (spec §4.5).
func EncodeIndexKey(cols []Value, rowid int64) []byte {
	full := make([]Value, len(cols)+1)
	copy(full, cols)
	full[len(cols)] = Value{Type: SerialTypeForInt(rowid), Int: rowid}
	return EncodeRecord(full)
}

// indexKeyRowID extracts the trailing rowid column appended by
// EncodeIndexKey from a decoded index key record.
func indexKeyRowID(rc *RowCursor) int64 {
	return rc.ReadInt(rc.FieldCount() - 1)
}

func assembleIndexKey(cell []byte, bodyOff int, payloadLen int64, usable int, tx *Tx) ([]byte, error) {
	local, overflows := LocalPayloadBounds(usable, int(payloadLen))
	if !overflows {
		return cell[bodyOff : bodyOff+int(payloadLen)], nil
	}
	full := make([]byte, payloadLen)
	copy(full, cell[bodyOff:bodyOff+local])
	ovfOff := bodyOff + local
	firstOvf := PageID(uint32(cell[ovfOff])<<24 | uint32(cell[ovfOff+1])<<16 | uint32(cell[ovfOff+2])<<8 | uint32(cell[ovfOff+3]))
	if err := readOverflowChain(firstOvf, int(payloadLen)-local, usable, full[local:], func(id PageID) ([]byte, error) {
		return tx.ReadPage(id)
	}); err != nil {
		return nil, err
	}
	return full, nil
}

// IndexWriter mutates an index B-tree: insert a new (key) entry and
// delete an exact (key) entry, splitting on overflow the same way
// Writer does for table pages. Unlike Writer, delete never merges
// underflowing siblings back together — an index page left below the
// usual fill threshold after a delete still reads and scans correctly,
// it is just a little sparser on disk than a freshly rebuilt one would
// be, and reclaiming that slack is what a future vacuum pass is for.
type IndexWriter struct {
	tx     *Tx
	root   PageID
	usable int
	fm     *FreeManager
}

func NewIndexWriter(tx *Tx, root PageID, fm *FreeManager) *IndexWriter {
	return &IndexWriter{tx: tx, root: root, usable: tx.fl.Header().UsablePageSize(), fm: fm}
}

func (w *IndexWriter) Root() PageID { return w.root }

func (w *IndexWriter) readPageTyped(id PageID) (*BTreePage, error) {
	buf, err := w.tx.ReadPage(id)
	if err != nil {
		return nil, err
	}
	bp := WrapBTreePage(buf, id == 1, w.usable)
	if bp.Type().IsLeaf() {
		bp.withCellLen(newIndexLeafCellLenFn(w.usable))
	} else {
		bp.withCellLen(newIndexInteriorCellLenFn(w.usable))
	}
	return bp, nil
}

func (w *IndexWriter) allocPage() (PageID, []byte, error) {
	if w.fm != nil && w.fm.Count() > 0 {
		id, err := w.fm.Alloc(
			func(id PageID) ([]byte, error) { return w.tx.ReadPage(id) },
			func(id PageID, buf []byte) error { return w.tx.WritePage(id, buf) },
		)
		if err == nil && id != InvalidPageID {
			return id, make([]byte, w.tx.fl.Header().PageSize), nil
		}
	}
	id, err := w.tx.AllocatePage()
	if err != nil {
		return 0, nil, err
	}
	return id, make([]byte, w.tx.fl.Header().PageSize), nil
}

func (w *IndexWriter) freePage(id PageID) error {
	w.tx.cache.Remove(id)
	if w.fm == nil {
		return nil
	}
	return w.fm.Free(id, int(w.tx.fl.Header().PageSize), w.usable,
		func(id PageID) ([]byte, error) { return w.tx.ReadPage(id) },
		func(id PageID, buf []byte) error { return w.tx.WritePage(id, buf) },
	)
}

type indexPathStep struct {
	page PageID
	idx  int
}

// descend walks from root to the leaf that owns (or should own) key,
// comparing against each interior divider's own key record.
func (w *IndexWriter) descend(key []byte) (leaf PageID, path []indexPathStep, err error) {
	id := w.root
	for {
		bp, err := w.readPageTyped(id)
		if err != nil {
			return 0, nil, err
		}
		if bp.Type().IsLeaf() {
			return id, path, nil
		}
		n := bp.CellCount()
		lo, hi := 0, n
		for lo < hi {
			mid := (lo + hi) / 2
			_, dividerKey, derr := w.interiorCellKey(bp.RawCell(mid))
			if derr != nil {
				return 0, nil, derr
			}
			if compareIndexKeys(dividerKey, key) < 0 {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		path = append(path, indexPathStep{page: id, idx: lo})
		if lo >= n {
			id = bp.RightChild()
		} else {
			child, _, derr := w.interiorCellKey(bp.RawCell(lo))
			if derr != nil {
				return 0, nil, derr
			}
			id = child
		}
	}
}

func (w *IndexWriter) interiorCellKey(cell []byte) (PageID, []byte, error) {
	child, payloadLen, bodyOff, err := decodeIndexInteriorCellHeader(cell)
	if err != nil {
		return 0, nil, err
	}
	key, err := assembleIndexKey(cell, bodyOff, payloadLen, w.usable, w.tx)
	return child, key, err
}

func (w *IndexWriter) leafCellKey(cell []byte) ([]byte, error) {
	payloadLen, bodyOff, err := decodeIndexLeafCellHeader(cell)
	if err != nil {
		return nil, err
	}
	return assembleIndexKey(cell, bodyOff, payloadLen, w.usable, w.tx)
}

// findInLeaf locates the insertion point for key among bp's cells: the
// index of the first cell whose key is not less than key.
func (w *IndexWriter) findInLeaf(bp *BTreePage, key []byte) (idx int, err error) {
	n := bp.CellCount()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		k, derr := w.leafCellKey(bp.RawCell(mid))
		if derr != nil {
			return 0, derr
		}
		if compareIndexKeys(k, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// Insert adds key to the index (spec C6). Non-unique by construction
// (the trailing rowid column already makes every key distinct), so
// Insert never replaces an existing cell — it always adds a new one
// in sorted position.
func (w *IndexWriter) Insert(key []byte) error {
	leafID, path, err := w.descend(key)
	if err != nil {
		return err
	}
	bp, err := w.readPageTyped(leafID)
	if err != nil {
		return err
	}
	idx, err := w.findInLeaf(bp, key)
	if err != nil {
		return err
	}

	cell, overflowTail, hasOverflow := encodeIndexLeafCell(key, w.usable)
	if hasOverflow {
		firstOvf, err := w.writeOverflowChain(overflowTail)
		if err != nil {
			return err
		}
		patchBigEndianTail(cell, firstOvf)
	}

	if !bp.appendCell(idx, cell) {
		return w.splitAndInsert(leafID, path, idx, cell)
	}
	return w.tx.WritePage(leafID, bp.Bytes())
}

func (w *IndexWriter) writeOverflowChain(tail []byte) (PageID, error) {
	return writeOverflowChain(tail, w.usable, overflowIO{
		Alloc: func() (PageID, error) {
			id, _, err := w.allocPage()
			return id, err
		},
		Read:  func(id PageID) ([]byte, error) { return w.tx.ReadPage(id) },
		Write: func(id PageID, buf []byte) error { return w.tx.WritePage(id, buf) },
	})
}

// encodeIndexInteriorCellWithOverflow encodes an interior cell for
// (child, key) and, when key does not fit locally, writes its
// overflow chain and patches the cell's trailing placeholder — the
// encode-then-patch sequence every other interior-cell writer in this
// file follows, factored out because splitInterior rebuilds an entire
// page's worth of cells from re-decoded key records rather than
// reusing already-encoded (and already-patched) raw cell bytes.
func (w *IndexWriter) encodeIndexInteriorCellWithOverflow(child PageID, key []byte) ([]byte, error) {
	cell, overflowTail, hasOverflow := encodeIndexInteriorCell(child, key, w.usable)
	if !hasOverflow {
		return cell, nil
	}
	firstOvf, err := w.writeOverflowChain(overflowTail)
	if err != nil {
		return nil, err
	}
	patchBigEndianTail(cell, firstOvf)
	return cell, nil
}

func (w *IndexWriter) splitAndInsert(leafID PageID, path []indexPathStep, idx int, newCell []byte) error {
	bp, err := w.readPageTyped(leafID)
	if err != nil {
		return err
	}
	n := bp.CellCount()
	cells := make([][]byte, 0, n+1)
	for i := 0; i < n; i++ {
		if i == idx {
			cells = append(cells, newCell)
		}
		cells = append(cells, append([]byte{}, bp.RawCell(i)...))
	}
	if idx == n {
		cells = append(cells, newCell)
	}

	mid := len(cells) / 2
	leftCells, rightCells := cells[:mid], cells[mid:]

	leftBuf := make([]byte, len(bp.Bytes()))
	leftBP := InitBTreePage(leftBuf, PageTypeLeafIndex, leafID == 1, w.usable).withCellLen(newIndexLeafCellLenFn(w.usable))
	for i, c := range leftCells {
		if !leftBP.appendCell(i, c) {
			return dberr.Corrupt(uint32(leafID), "index split left does not fit")
		}
	}
	if err := w.tx.WritePage(leafID, leftBuf); err != nil {
		return err
	}

	rightID, rightBuf, err := w.allocPage()
	if err != nil {
		return err
	}
	rightBP := InitBTreePage(rightBuf, PageTypeLeafIndex, false, w.usable).withCellLen(newIndexLeafCellLenFn(w.usable))
	for i, c := range rightCells {
		if !rightBP.appendCell(i, c) {
			return dberr.Corrupt(uint32(rightID), "index split right does not fit")
		}
	}
	if err := w.tx.WritePage(rightID, rightBuf); err != nil {
		return err
	}

	dividerKey, err := w.leafCellKey(rightCells[0])
	if err != nil {
		return err
	}
	return w.insertIntoParent(path, leafID, dividerKey, rightID)
}

func (w *IndexWriter) insertIntoParent(path []indexPathStep, leftID PageID, dividerKey []byte, rightID PageID) error {
	if len(path) == 0 {
		return w.createNewRoot(leftID, dividerKey, rightID)
	}
	parentID := path[len(path)-1].page
	bp, err := w.readPageTyped(parentID)
	if err != nil {
		return err
	}
	idx := path[len(path)-1].idx
	cell, overflowTail, hasOverflow := encodeIndexInteriorCell(leftID, dividerKey, w.usable)
	if hasOverflow {
		firstOvf, err := w.writeOverflowChain(overflowTail)
		if err != nil {
			return err
		}
		patchBigEndianTail(cell, firstOvf)
	}
	if bp.appendCell(idx, cell) {
		// appendCell shifted whatever used to sit at idx (the
		// now-split child's own divider, pointing at its pre-split
		// child) up to idx+1; that child no longer exists — it split
		// into leftID/rightID — so the shifted cell's child pointer
		// must become rightID, keeping its own key unchanged. If idx
		// was the rightmost slot (no cell to shift), rightID becomes
		// the new rightmost child instead.
		if idx+1 < bp.CellCount() {
			_, oldKey, derr := w.interiorCellKey(bp.RawCell(idx + 1))
			if derr != nil {
				return derr
			}
			fixed, fixedOverflow, fixedHasOverflow := encodeIndexInteriorCell(rightID, oldKey, w.usable)
			if fixedHasOverflow {
				firstOvf, err := w.writeOverflowChain(fixedOverflow)
				if err != nil {
					return err
				}
				patchBigEndianTail(fixed, firstOvf)
			}
			bp.removeCellAt(idx + 1)
			bp.appendCell(idx+1, fixed)
		} else {
			bp.SetRightChild(rightID)
		}
		return w.tx.WritePage(parentID, bp.Bytes())
	}
	return w.splitInterior(path[:len(path)-1], parentID, idx, leftID, dividerKey, rightID)
}

// splitInterior splits parentID, an interior index page with no room
// for the (leftID, dividerKey, rightID) triple produced by the child
// split below it. It reasons about the page's n+1 children and n
// divider keys as flat arrays: the child that was previously at
// position idx (whichever one the insert's path descended through)
// has just been replaced by the pair (leftID, rightID) with
// dividerKey newly separating them, giving n+2 children and n+1 keys
// to redistribute across the two resulting pages.
func (w *IndexWriter) splitInterior(ancestors []indexPathStep, parentID PageID, idx int, leftID PageID, dividerKey []byte, rightID PageID) error {
	bp, err := w.readPageTyped(parentID)
	if err != nil {
		return err
	}
	n := bp.CellCount()
	oldChildren := make([]PageID, n+1)
	oldKeys := make([][]byte, n)
	for i := 0; i < n; i++ {
		c, k, derr := w.interiorCellKey(bp.RawCell(i))
		if derr != nil {
			return derr
		}
		oldChildren[i] = c
		oldKeys[i] = append([]byte{}, k...)
	}
	oldChildren[n] = bp.RightChild()

	children := make([]PageID, 0, n+2)
	children = append(children, oldChildren[:idx]...)
	children = append(children, leftID, rightID)
	children = append(children, oldChildren[idx+1:]...)

	keys := make([][]byte, 0, n+1)
	keys = append(keys, oldKeys[:idx]...)
	keys = append(keys, dividerKey)
	keys = append(keys, oldKeys[idx:]...)

	mid := len(keys) / 2 // pushUp = keys[mid], separating children[:mid+1] from children[mid+1:]
	pushUpKey := keys[mid]
	leftChildren, leftKeys := children[:mid+1], keys[:mid]
	rightChildren, rightKeys := children[mid+1:], keys[mid+1:]

	leftBuf := make([]byte, len(bp.Bytes()))
	leftBP := InitBTreePage(leftBuf, PageTypeInteriorIndex, parentID == 1, w.usable).withCellLen(newIndexInteriorCellLenFn(w.usable))
	for i, k := range leftKeys {
		c, err := w.encodeIndexInteriorCellWithOverflow(leftChildren[i], k)
		if err != nil {
			return err
		}
		leftBP.appendCell(i, c)
	}
	leftBP.SetRightChild(leftChildren[len(leftChildren)-1])
	if err := w.tx.WritePage(parentID, leftBuf); err != nil {
		return err
	}

	newRightID, rightBuf, err := w.allocPage()
	if err != nil {
		return err
	}
	rightBP := InitBTreePage(rightBuf, PageTypeInteriorIndex, false, w.usable).withCellLen(newIndexInteriorCellLenFn(w.usable))
	for i, k := range rightKeys {
		c, err := w.encodeIndexInteriorCellWithOverflow(rightChildren[i], k)
		if err != nil {
			return err
		}
		rightBP.appendCell(i, c)
	}
	if err := w.tx.WritePage(newRightID, rightBuf); err != nil {
		return err
	}

	return w.insertIntoParent(ancestors, parentID, pushUpKey, newRightID)
}

func (w *IndexWriter) createNewRoot(leftID PageID, dividerKey []byte, rightID PageID) error {
	rootID, rootBuf, err := w.allocPage()
	if err != nil {
		return err
	}
	rootBP := InitBTreePage(rootBuf, PageTypeInteriorIndex, rootID == 1, w.usable).withCellLen(newIndexInteriorCellLenFn(w.usable))
	cell, overflowTail, hasOverflow := encodeIndexInteriorCell(leftID, dividerKey, w.usable)
	if hasOverflow {
		firstOvf, err := w.writeOverflowChain(overflowTail)
		if err != nil {
			return err
		}
		patchBigEndianTail(cell, firstOvf)
	}
	rootBP.appendCell(0, cell)
	rootBP.SetRightChild(rightID)
	if err := w.tx.WritePage(rootID, rootBuf); err != nil {
		return err
	}
	w.root = rootID
	return nil
}

// Delete removes the exact (key) entry — key must include the same
// trailing rowid column Insert encoded, since that is what makes the
// entry unique.
func (w *IndexWriter) Delete(key []byte) (bool, error) {
	leafID, _, err := w.descend(key)
	if err != nil {
		return false, err
	}
	bp, err := w.readPageTyped(leafID)
	if err != nil {
		return false, err
	}
	idx, err := w.findInLeaf(bp, key)
	if err != nil {
		return false, err
	}
	if idx >= bp.CellCount() {
		return false, nil
	}
	cellKey, err := w.leafCellKey(bp.RawCell(idx))
	if err != nil {
		return false, err
	}
	if compareIndexKeys(cellKey, key) != 0 {
		return false, nil
	}
	payloadLen, bodyOff, err := decodeIndexLeafCellHeader(bp.RawCell(idx))
	if err != nil {
		return false, err
	}
	if off, has := indexLeafCellOverflowPageOff(bp.RawCell(idx), w.usable, bodyOff, payloadLen); has {
		cell := bp.RawCell(idx)
		first := PageID(uint32(cell[off])<<24 | uint32(cell[off+1])<<16 | uint32(cell[off+2])<<8 | uint32(cell[off+3]))
		if err := freeOverflowChain(first, func(id PageID) ([]byte, error) { return w.tx.ReadPage(id) }, w.freePage); err != nil {
			return false, err
		}
	}
	bp.removeCellAt(idx)
	return true, w.tx.WritePage(leafID, bp.Bytes())
}

// patchBigEndianTail writes id into the last 4 bytes of cell, the
// placeholder left by encodeIndexLeafCell/encodeIndexInteriorCell for
// the first overflow page number.
func patchBigEndianTail(cell []byte, id PageID) {
	n := len(cell)
	cell[n-4] = byte(id >> 24)
	cell[n-3] = byte(id >> 16)
	cell[n-2] = byte(id >> 8)
	cell[n-1] = byte(id)
}

// IndexCursor reads an index B-tree in lexicographic key order (spec
// C5, mirroring Cursor's re-ascent-based sibling iteration).
type IndexCursor struct {
	tx      *Tx
	root    PageID
	usable  int
	path    []pathEntry
	leafID  PageID
	leafIdx int
	eof     bool
	valid   bool
	key     []byte
}

func OpenIndexCursor(tx *Tx, root PageID) *IndexCursor {
	return &IndexCursor{tx: tx, root: root, usable: tx.fl.Header().UsablePageSize()}
}

func (c *IndexCursor) loadPage(id PageID) (*BTreePage, error) {
	buf, err := c.tx.ReadPage(id)
	if err != nil {
		return nil, err
	}
	bp := WrapBTreePage(buf, id == 1, c.usable)
	if bp.Type().IsLeaf() {
		bp.withCellLen(newIndexLeafCellLenFn(c.usable))
	} else {
		bp.withCellLen(newIndexInteriorCellLenFn(c.usable))
	}
	return bp, nil
}

func (c *IndexCursor) interiorCellKey(cell []byte) (PageID, []byte, error) {
	child, payloadLen, bodyOff, err := decodeIndexInteriorCellHeader(cell)
	if err != nil {
		return 0, nil, err
	}
	key, err := assembleIndexKey(cell, bodyOff, payloadLen, c.usable, c.tx)
	return child, key, err
}

func (c *IndexCursor) leafCellKey(cell []byte) ([]byte, error) {
	payloadLen, bodyOff, err := decodeIndexLeafCellHeader(cell)
	if err != nil {
		return nil, err
	}
	return assembleIndexKey(cell, bodyOff, payloadLen, c.usable, c.tx)
}

// First positions the cursor at the lexicographically smallest key.
func (c *IndexCursor) First() error {
	c.path = nil
	id := c.root
	for {
		bp, err := c.loadPage(id)
		if err != nil {
			return err
		}
		c.tx.UnpinPage(id)
		if bp.Type().IsLeaf() {
			c.leafID = id
			c.leafIdx = 0
			return c.loadCurrent()
		}
		c.path = append(c.path, pathEntry{page: id, idx: 0})
		if bp.CellCount() == 0 {
			id = bp.RightChild()
			continue
		}
		child, _, err := c.interiorCellKey(bp.RawCell(0))
		if err != nil {
			return err
		}
		id = child
	}
}

// Last positions the cursor at the lexicographically largest key.
func (c *IndexCursor) Last() error {
	c.path = nil
	id := c.root
	for {
		bp, err := c.loadPage(id)
		if err != nil {
			return err
		}
		c.tx.UnpinPage(id)
		if bp.Type().IsLeaf() {
			c.leafID = id
			c.leafIdx = bp.CellCount() - 1
			if c.leafIdx < 0 {
				c.leafIdx = 0
			}
			return c.loadCurrent()
		}
		c.path = append(c.path, pathEntry{page: id, idx: bp.CellCount()})
		id = bp.RightChild()
	}
}

// Seek positions the cursor at the first entry whose key is >= target
// in lexicographic order (spec §4.5).
func (c *IndexCursor) Seek(target []byte) error {
	c.path = nil
	id := c.root
	for {
		bp, err := c.loadPage(id)
		if err != nil {
			return err
		}
		c.tx.UnpinPage(id)
		if bp.Type().IsLeaf() {
			c.leafID = id
			lo, hi := 0, bp.CellCount()
			for lo < hi {
				mid := (lo + hi) / 2
				k, err := c.leafCellKey(bp.RawCell(mid))
				if err != nil {
					return err
				}
				if compareIndexKeys(k, target) < 0 {
					lo = mid + 1
				} else {
					hi = mid
				}
			}
			c.leafIdx = lo
			if lo >= bp.CellCount() && len(c.path) > 0 {
				return c.ascendNext() // every key here is < target
			}
			return c.loadCurrent()
		}
		n := bp.CellCount()
		lo, hi := 0, n
		for lo < hi {
			mid := (lo + hi) / 2
			_, k, err := c.interiorCellKey(bp.RawCell(mid))
			if err != nil {
				return err
			}
			if compareIndexKeys(k, target) < 0 {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		c.path = append(c.path, pathEntry{page: id, idx: lo})
		if lo >= n {
			id = bp.RightChild()
		} else {
			child, _, err := c.interiorCellKey(bp.RawCell(lo))
			if err != nil {
				return err
			}
			id = child
		}
	}
}

func (c *IndexCursor) loadCurrent() error {
	bp, err := c.loadPage(c.leafID)
	if err != nil {
		return err
	}
	c.tx.UnpinPage(c.leafID)
	if c.leafIdx >= bp.CellCount() {
		c.valid = false
		c.eof = true
		return nil
	}
	key, err := c.leafCellKey(bp.RawCell(c.leafIdx))
	if err != nil {
		return err
	}
	c.key = key
	c.valid = true
	c.eof = false
	return nil
}

// Valid reports whether the cursor currently sits on an entry.
func (c *IndexCursor) Valid() bool { return c.valid && !c.eof }

// Key returns the current entry's full encoded key record (indexed
// columns plus the trailing rowid tie-break column).
func (c *IndexCursor) Key() (*RowCursor, error) { return DecodeRecord(c.key) }

// RowID returns the rowid embedded as the current key's trailing
// column.
func (c *IndexCursor) RowID() (int64, error) {
	rc, err := c.Key()
	if err != nil {
		return 0, err
	}
	return indexKeyRowID(rc), nil
}

// Next advances to the next-greatest key, re-ascending through path
// entries as Cursor.Next does for table pages.
func (c *IndexCursor) Next() error {
	c.leafIdx++
	bp, err := c.loadPage(c.leafID)
	if err != nil {
		return err
	}
	c.tx.UnpinPage(c.leafID)
	if c.leafIdx < bp.CellCount() {
		return c.loadCurrent()
	}
	return c.ascendNext()
}

func (c *IndexCursor) ascendNext() error {
	for len(c.path) > 0 {
		top := c.path[len(c.path)-1]
		c.path = c.path[:len(c.path)-1]
		bp, err := c.loadPage(top.page)
		if err != nil {
			return err
		}
		c.tx.UnpinPage(top.page)
		nextIdx := top.idx + 1
		n := bp.CellCount()
		if nextIdx > n {
			continue
		}
		c.path = append(c.path, pathEntry{page: top.page, idx: nextIdx})
		var child PageID
		if nextIdx == n {
			child = bp.RightChild()
		} else {
			child, _, err = c.interiorCellKey(bp.RawCell(nextIdx))
			if err != nil {
				return err
			}
		}
		return c.descendLeftmost(child)
	}
	c.valid = false
	c.eof = true
	return nil
}

func (c *IndexCursor) descendLeftmost(id PageID) error {
	for {
		bp, err := c.loadPage(id)
		if err != nil {
			return err
		}
		c.tx.UnpinPage(id)
		if bp.Type().IsLeaf() {
			c.leafID = id
			c.leafIdx = 0
			return c.loadCurrent()
		}
		c.path = append(c.path, pathEntry{page: id, idx: 0})
		if bp.CellCount() == 0 {
			id = bp.RightChild()
			continue
		}
		child, _, err := c.interiorCellKey(bp.RawCell(0))
		if err != nil {
			return err
		}
		id = child
	}
}

// Prev moves to the next-lesser key. As Cursor.Prev does, this
// re-seeks from First rather than keeping a mirrored backward path
// stack — acceptable for the same reason: reverse scans are rare and
// index trees are shallow.
func (c *IndexCursor) Prev() error {
	if !c.valid {
		return dberr.NotFound
	}
	target := append([]byte{}, c.key...)
	if err := c.First(); err != nil {
		return err
	}
	var prevKey []byte
	havePrev := false
	for c.Valid() {
		if compareIndexKeys(c.key, target) >= 0 {
			break
		}
		prevKey = append([]byte{}, c.key...)
		havePrev = true
		if err := c.Next(); err != nil {
			return err
		}
	}
	if !havePrev {
		c.valid = false
		c.eof = true
		return nil
	}
	return c.Seek(prevKey)
}
