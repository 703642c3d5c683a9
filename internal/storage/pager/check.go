package pager

import (
	"fmt"

	"github.com/SimonWaldherr/tinySQL/internal/storage/dberr"
)

// Integrity checking and inspection tooling (spec's supplemented
// VerifyDB-equivalent, free-list reachability sweep, and page/tree
// dump features — not named by the distilled spec but present in the
// corpus and a natural complement to a from-scratch page format).
// Grounded on the teacher's inspect.go/gc.go (PageInfo, InspectPage,
// mark-and-sweep reachability), rewritten against the real page
// layout and a table-B-tree-shaped reachability walk instead of a
// generic B+Tree-plus-WAL walk.

// PageInfo summarizes one page for dump/debug tooling.
type PageInfo struct {
	ID         PageID
	Type       PageType
	IsLeaf     bool
	CellCount  int
	FreeSpace  int
	RightChild PageID
}

// InspectPage reads and summarizes a single page without going through
// a transaction, for read-only debug tooling.
func InspectPage(fl *File, id PageID) (*PageInfo, error) {
	buf, err := fl.ReadPageRaw(id)
	if err != nil {
		return nil, err
	}
	bp := WrapBTreePage(buf, id == 1, fl.Header().UsablePageSize())
	info := &PageInfo{
		ID:        id,
		Type:      bp.Type(),
		IsLeaf:    bp.Type().IsLeaf(),
		CellCount: bp.CellCount(),
		FreeSpace: bp.FreeSpace(),
	}
	if !info.IsLeaf {
		info.RightChild = bp.RightChild()
	}
	return info, nil
}

// CheckReport is the result of VerifyDB: every problem found, never
// partial — a single pass collects as many findings as possible rather
// than stopping at the first.
type CheckReport struct {
	Problems     []string
	PagesVisited int
	FreePages    int
}

func (r *CheckReport) OK() bool { return len(r.Problems) == 0 }

// VerifyDB walks the schema table and every table tree reachable from
// it, confirming that every page a B-tree references is the page type
// it claims to be and that no page is referenced by more than one
// parent. Index trees are not walked. The report carries the free-page
// count from the header; the free-list chain itself is not walked, and
// pages reachable from neither a tree nor the free-list are not looked
// for.
func VerifyDB(h *Handle) (*CheckReport, error) {
	tx, err := h.Begin(false)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	report := &CheckReport{}
	seen := make(map[PageID]bool)

	n, err := h.file.PageCount()
	if err != nil {
		return nil, err
	}

	sc := OpenSchema(tx, h.fm)
	names, err := sc.ListTables()
	if err != nil {
		return nil, err
	}

	walk := func(root PageID) error {
		var rec func(id PageID) error
		rec = func(id PageID) error {
			if id == InvalidPageID {
				return nil
			}
			if seen[id] {
				report.Problems = append(report.Problems, fmt.Sprintf("page %d referenced by more than one parent", id))
				return nil
			}
			seen[id] = true
			report.PagesVisited++
			if id == 0 || uint32(id) > n {
				report.Problems = append(report.Problems, fmt.Sprintf("page %d out of file bounds", id))
				return nil
			}
			buf, err := tx.ReadPage(id)
			if err != nil {
				report.Problems = append(report.Problems, fmt.Sprintf("page %d: %v", id, err))
				return nil
			}
			defer tx.UnpinPage(id)
			bp := WrapBTreePage(buf, id == 1, h.file.Header().UsablePageSize())
			switch bp.Type() {
			case PageTypeLeafTable, PageTypeLeafIndex:
				return nil
			case PageTypeInteriorTable:
				bp.withCellLen(interiorCellLen)
				for i := 0; i < bp.CellCount(); i++ {
					child, _, err := decodeInteriorCell(bp.RawCell(i))
					if err != nil {
						report.Problems = append(report.Problems, fmt.Sprintf("page %d: malformed cell %d", id, i))
						continue
					}
					if err := rec(child); err != nil {
						return err
					}
				}
				return rec(bp.RightChild())
			default:
				report.Problems = append(report.Problems, fmt.Sprintf("page %d has unexpected type %s", id, bp.Type()))
				return nil
			}
		}
		return rec(root)
	}

	if err := walk(1); err != nil {
		return nil, err
	}
	for _, name := range names {
		e, err := sc.Lookup(name)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		if err := walk(e.RootPage); err != nil {
			return nil, err
		}
	}

	report.FreePages = int(h.fm.Count())
	return report, nil
}

// Check runs VerifyDB against h and flattens the result to a plain
// string slice, the shape cmd/inspectd's HTTP façade and ad hoc
// debugging both want without pulling in the CheckReport type.
func (h *Handle) Check() ([]string, error) {
	report, err := VerifyDB(h)
	if err != nil {
		return nil, err
	}
	return report.Problems, nil
}

// InspectPage summarizes one page of h's underlying file by number,
// for ad hoc debugging (cmd/inspectd's per-page endpoint).
func (h *Handle) InspectPage(id PageID) (*PageInfo, error) {
	return InspectPage(h.file, id)
}

// DumpTree walks root's subtree and returns one PageInfo per page
// visited, in pre-order. A read-only debug method; it opens its own
// transaction and does not interfere with any in-progress write.
func (h *Handle) DumpTree(root PageID) ([]PageInfo, error) {
	tx, err := h.Begin(false)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var out []PageInfo
	var rec func(id PageID) error
	rec = func(id PageID) error {
		if id == InvalidPageID {
			return nil
		}
		info, err := InspectPage(h.file, id)
		if err != nil {
			return err
		}
		out = append(out, *info)
		if info.IsLeaf {
			return nil
		}
		buf, err := tx.ReadPage(id)
		if err != nil {
			return err
		}
		bp := WrapBTreePage(buf, id == 1, h.file.Header().UsablePageSize())
		bp.withCellLen(interiorCellLen)
		children := make([]PageID, 0, bp.CellCount())
		for i := 0; i < bp.CellCount(); i++ {
			c, _, err := decodeInteriorCell(bp.RawCell(i))
			if err != nil {
				return err
			}
			children = append(children, c)
		}
		tx.UnpinPage(id)
		for _, c := range children {
			if err := rec(c); err != nil {
				return err
			}
		}
		return rec(bp.RightChild())
	}
	if err := rec(root); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyAndReclaim drops table and frees every page in its B-tree that
// VerifyDB's walk would otherwise orphan — the full reclamation that
// Schema.DropTable intentionally leaves undone. It is a targeted,
// single-table analogue of SQLite's VACUUM rather than a full
// file-compaction vacuum.
func VerifyAndReclaim(h *Handle, tx *Tx, table string) error {
	sc := OpenSchema(tx, h.fm)
	e, err := sc.Lookup(table)
	if err != nil {
		return err
	}
	if e == nil {
		return dberr.NotFound
	}
	w := NewWriter(tx, e.RootPage, h.fm)
	if err := freeSubtree(tx, w, e.RootPage); err != nil {
		return err
	}
	return sc.DropTable(table)
}

func freeSubtree(tx *Tx, w *Writer, id PageID) error {
	if id == InvalidPageID {
		return nil
	}
	buf, err := tx.ReadPage(id)
	if err != nil {
		return err
	}
	isPage1 := id == 1
	bp := WrapBTreePage(buf, isPage1, w.usable)
	if bp.Type().IsLeaf() {
		bp.withCellLen(newLeafCellLenFn(w.usable))
		for i := 0; i < bp.CellCount(); i++ {
			if err := w.freeOverflowOfCell(bp.RawCell(i)); err != nil {
				return err
			}
		}
		tx.UnpinPage(id)
		if isPage1 {
			return nil // page 1 always exists; never freed
		}
		return w.freePage(id)
	}
	bp.withCellLen(interiorCellLen)
	children := make([]PageID, 0, bp.CellCount()+1)
	for i := 0; i < bp.CellCount(); i++ {
		c, _, err := decodeInteriorCell(bp.RawCell(i))
		if err != nil {
			return err
		}
		children = append(children, c)
	}
	children = append(children, bp.RightChild())
	tx.UnpinPage(id)
	for _, c := range children {
		if err := freeSubtree(tx, w, c); err != nil {
			return err
		}
	}
	if isPage1 {
		return nil
	}
	return w.freePage(id)
}
