package pager

import (
	"fmt"
	"strings"
	"sync"

	"github.com/SimonWaldherr/tinySQL/internal/storage/dberr"
)

// Handle is the public façade over one open database (spec C10 "Public
// handle"): open/create, begin/commit/rollback, cursor/writer factory
// methods and a reflective schema API. Grounded on the teacher's
// PageBackend shape in backend.go (NewPageBackend, Load/SaveTable,
// Sync, Close, Stats), rewritten from whole-table load/save semantics
// to single-row CRUD directly on the B-tree writer, since the real
// page format has no reason to ever materialize a full table in
// memory.
type Handle struct {
	mu      sync.RWMutex
	file    *File
	cache   *Cache
	fm      *FreeManager
	closed  bool
	config  HandleConfig
	curTx   *Tx
}

// HandleConfig configures Open/Create.
type HandleConfig struct {
	Path           string
	PageSize       uint32 // Create only; 0 = 4096
	Password       []byte // non-empty enables page encryption
	KDFOverride    *KDFParams
	PageCachePages int // 0 = Cache's default
}

// OpenDB opens an existing database file, running rollback-journal
// recovery first if a crash left an unfinished transaction behind.
func OpenDB(cfg HandleConfig) (*Handle, error) {
	fl, _, err := Open(cfg.Path, OpenOptions{Writable: true, Password: cfg.Password, KDFOverride: cfg.KDFOverride, PageCachePages: cfg.PageCachePages})
	if err != nil {
		return nil, err
	}
	if err := RecoverIfNeeded(fl); err != nil {
		fl.Close()
		return nil, err
	}
	h := &Handle{file: fl, cache: NewCache(cfg.PageCachePages), config: cfg}
	if err := h.loadFreeList(); err != nil {
		fl.Close()
		return nil, err
	}
	return h, nil
}

// CreateDB initializes a fresh database file and opens it.
func CreateDB(cfg HandleConfig) (*Handle, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = 4096
	}
	fl, _, err := Create(cfg.Path, ps, OpenOptions{Writable: true, Password: cfg.Password, KDFOverride: cfg.KDFOverride, PageCachePages: cfg.PageCachePages})
	if err != nil {
		return nil, err
	}
	return &Handle{file: fl, cache: NewCache(cfg.PageCachePages), config: cfg, fm: NewFreeManager(InvalidPageID, 0)}, nil
}

func (h *Handle) loadFreeList() error {
	hdr := h.file.Header()
	h.fm = NewFreeManager(PageID(hdr.FirstFreelistTrunk), hdr.FreelistCount)
	return nil
}

// Begin starts a new transaction. Only one writable transaction may be
// open at a time (spec §5 "one writer"); a second concurrent Begin
// with writable=true returns Busy.
func (h *Handle) Begin(writable bool) (*Tx, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if writable && h.curTx != nil {
		return nil, dberr.Busy
	}
	tx, err := BeginTx(h.file, h.cache, writable)
	if err != nil {
		return nil, err
	}
	if writable {
		h.curTx = tx
	}
	return tx, nil
}

// Commit commits tx and persists any free-list changes it made.
func (h *Handle) Commit(tx *Tx) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if tx.writable {
		if err := h.syncFreeListHeader(tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if h.curTx == tx {
		h.curTx = nil
	}
	return nil
}

// syncFreeListHeader writes the free-list manager's current head/count
// into page 1's header fields through the transaction's normal
// write path, so the change is journaled and flushed atomically with
// every other page the transaction touched.
func (h *Handle) syncFreeListHeader(tx *Tx) error {
	buf, err := tx.ReadPage(1)
	if err != nil {
		return err
	}
	hdr := *h.file.Header()
	hdr.FirstFreelistTrunk = uint32(h.fm.Head())
	hdr.FreelistCount = h.fm.Count()
	out := append([]byte{}, buf...)
	MarshalHeader(&hdr, out)
	tx.UnpinPage(1)
	if err := tx.WritePage(1, out); err != nil {
		return err
	}
	*h.file.Header() = hdr
	return nil
}

// Rollback aborts tx, reverting every page it touched.
func (h *Handle) Rollback(tx *Tx) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := tx.Rollback(); err != nil {
		return err
	}
	if h.curTx == tx {
		h.curTx = nil
	}
	return nil
}

// CreateTable defines a new table via a CREATE TABLE statement, within
// tx. The SQL is stored verbatim in sqlite_schema for later reflection
// and is also parsed immediately to validate it.
func (h *Handle) CreateTable(tx *Tx, name, createSQL string) error {
	if _, err := ParseColumns(createSQL); err != nil {
		return err
	}
	sc := OpenSchema(tx, h.fm)
	_, err := sc.CreateTable(name, createSQL)
	return err
}

// DropTable removes a table's schema entry (not its pages — see
// check.go's VerifyAndReclaim for full reclamation).
func (h *Handle) DropTable(tx *Tx, name string) error {
	sc := OpenSchema(tx, h.fm)
	return sc.DropTable(name)
}

// Tables lists every table name in sqlite_schema.
func (h *Handle) Tables(tx *Tx) ([]string, error) {
	sc := OpenSchema(tx, h.fm)
	return sc.ListTables()
}

// Columns returns name's parsed column list, re-tokenizing its stored
// CREATE TABLE statement on each call (schema changes are rare enough
// that caching is not worth the invalidation complexity).
func (h *Handle) Columns(tx *Tx, name string) ([]SchemaColumn, error) {
	sc := OpenSchema(tx, h.fm)
	e, err := sc.Lookup(name)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, dberr.NotFound
	}
	return ParseColumns(e.SQL)
}

func (h *Handle) tableRoot(tx *Tx, name string) (PageID, error) {
	sc := OpenSchema(tx, h.fm)
	e, err := sc.Lookup(name)
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, dberr.NotFound
	}
	return e.RootPage, nil
}

// CreateIndex defines a secondary index over table's columns (spec
// C5/C6, supplementing the distilled spec's table-only schema): it
// allocates the index's own root page, registers it in sqlite_schema,
// then backfills it by scanning every existing row of table. columns
// must name columns already declared on table (case-insensitive, as
// SQL identifiers are).
func (h *Handle) CreateIndex(tx *Tx, name, table string, columns []string) error {
	tableCols, err := h.Columns(tx, table)
	if err != nil {
		return err
	}
	positions, err := columnPositions(tableCols, columns)
	if err != nil {
		return err
	}

	sc := OpenSchema(tx, h.fm)
	createSQL := "CREATE INDEX " + name + " ON " + table + " (" + strings.Join(columns, ", ") + ")"
	root, err := sc.CreateIndex(name, table, createSQL)
	if err != nil {
		return err
	}

	iw := NewIndexWriter(tx, root, h.fm)
	c, err := h.Cursor(tx, table)
	if err != nil {
		return err
	}
	if err := c.First(); err != nil {
		return err
	}
	for c.Valid() {
		rc, err := c.Record()
		if err != nil {
			return err
		}
		key := EncodeIndexKey(projectValues(rc, positions), c.RowID())
		if err := iw.Insert(key); err != nil {
			return err
		}
		if err := c.Next(); err != nil {
			return err
		}
	}
	return sc.updateIndexRoot(name, iw.Root())
}

// IndexCursor opens a read cursor over name's index B-tree, scanning
// in lexicographic key order (spec C5).
func (h *Handle) IndexCursor(tx *Tx, name string) (*IndexCursor, error) {
	sc := OpenSchema(tx, h.fm)
	e, err := sc.Lookup(name)
	if err != nil {
		return nil, err
	}
	if e == nil || e.Type != "index" {
		return nil, dberr.NotFound
	}
	return OpenIndexCursor(tx, e.RootPage), nil
}

// columnPositions resolves each of cols (index column names, as given
// to CreateIndex) to its ordinal position within tableCols.
func columnPositions(tableCols []SchemaColumn, cols []string) ([]int, error) {
	positions := make([]int, len(cols))
	for i, name := range cols {
		found := -1
		for j, tc := range tableCols {
			if strings.EqualFold(tc.Name, name) {
				found = j
				break
			}
		}
		if found < 0 {
			return nil, dberr.Corrupt(0, "index column "+name+" not found on table")
		}
		positions[i] = found
	}
	return positions, nil
}

// projectValues materializes the columns at positions from rc, in
// order, for use as an index key's leading columns.
func projectValues(rc *RowCursor, positions []int) []Value {
	out := make([]Value, len(positions))
	for i, p := range positions {
		out[i] = rc.Value(p)
	}
	return out
}

// Insert inserts one row (cols already serial-type-encoded as Values)
// under rowid into table, then adds rowid to every index defined on
// table (spec's supplemented index maintenance).
func (h *Handle) Insert(tx *Tx, table string, rowid int64, cols []Value) error {
	root, err := h.tableRoot(tx, table)
	if err != nil {
		return err
	}
	w := NewWriter(tx, root, h.fm)
	if err := w.Insert(rowid, EncodeRecord(cols)); err != nil {
		return err
	}
	if err := h.persistRootIfChanged(tx, table, root, w.Root()); err != nil {
		return err
	}
	return h.indexInsert(tx, table, rowid, cols)
}

// Update replaces row rowid's contents in table. Equivalent to Insert
// when the row already exists; errors with NotFound otherwise, to
// catch accidental blind upserts at call sites that mean to update.
// Every index defined on table is updated in step: the old key is
// removed before the new one is added, so a changed indexed column
// does not leave a stale entry behind.
func (h *Handle) Update(tx *Tx, table string, rowid int64, cols []Value) error {
	root, err := h.tableRoot(tx, table)
	if err != nil {
		return err
	}
	c := OpenCursor(tx, root)
	if err := c.Seek(rowid); err != nil {
		return err
	}
	if !c.Valid() || c.RowID() != rowid {
		return dberr.NotFound
	}
	oldRC, err := c.Record()
	if err != nil {
		return err
	}
	oldCols := materializeRow(oldRC)

	w := NewWriter(tx, root, h.fm)
	if err := w.Insert(rowid, EncodeRecord(cols)); err != nil {
		return err
	}
	if err := h.persistRootIfChanged(tx, table, root, w.Root()); err != nil {
		return err
	}
	if err := h.indexRemove(tx, table, rowid, oldCols); err != nil {
		return err
	}
	return h.indexInsert(tx, table, rowid, cols)
}

// Delete removes row rowid from table, and its entry from every index
// defined on table.
func (h *Handle) Delete(tx *Tx, table string, rowid int64) (bool, error) {
	root, err := h.tableRoot(tx, table)
	if err != nil {
		return false, err
	}
	c := OpenCursor(tx, root)
	if err := c.Seek(rowid); err != nil {
		return false, err
	}
	var oldCols []Value
	if c.Valid() && c.RowID() == rowid {
		rc, err := c.Record()
		if err != nil {
			return false, err
		}
		oldCols = materializeRow(rc)
	}

	w := NewWriter(tx, root, h.fm)
	ok, err := w.Delete(rowid)
	if err != nil {
		return false, err
	}
	if err := h.persistRootIfChanged(tx, table, root, w.Root()); err != nil {
		return false, err
	}
	if ok && oldCols != nil {
		if err := h.indexRemove(tx, table, rowid, oldCols); err != nil {
			return false, err
		}
	}
	return ok, nil
}

func materializeRow(rc *RowCursor) []Value {
	out := make([]Value, rc.FieldCount())
	for i := range out {
		out[i] = rc.Value(i)
	}
	return out
}

// indexInsert adds rowid's entry to every index defined on table.
func (h *Handle) indexInsert(tx *Tx, table string, rowid int64, cols []Value) error {
	sc := OpenSchema(tx, h.fm)
	entries, err := sc.ListIndexesOn(table)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	tableCols, err := h.Columns(tx, table)
	if err != nil {
		return err
	}
	for _, e := range entries {
		idxCols, err := IndexColumnNames(e.SQL)
		if err != nil {
			return err
		}
		positions, err := columnPositions(tableCols, idxCols)
		if err != nil {
			return err
		}
		keyCols := make([]Value, len(positions))
		for i, p := range positions {
			keyCols[i] = cols[p]
		}
		iw := NewIndexWriter(tx, e.RootPage, h.fm)
		if err := iw.Insert(EncodeIndexKey(keyCols, rowid)); err != nil {
			return err
		}
		if err := sc.updateIndexRoot(e.Name, iw.Root()); err != nil {
			return err
		}
	}
	return nil
}

// indexRemove removes rowid's entry from every index defined on
// table, using cols (the row's values at the time it still existed)
// to reconstruct each index's key.
func (h *Handle) indexRemove(tx *Tx, table string, rowid int64, cols []Value) error {
	sc := OpenSchema(tx, h.fm)
	entries, err := sc.ListIndexesOn(table)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	tableCols, err := h.Columns(tx, table)
	if err != nil {
		return err
	}
	for _, e := range entries {
		idxCols, err := IndexColumnNames(e.SQL)
		if err != nil {
			return err
		}
		positions, err := columnPositions(tableCols, idxCols)
		if err != nil {
			return err
		}
		keyCols := make([]Value, len(positions))
		for i, p := range positions {
			keyCols[i] = cols[p]
		}
		iw := NewIndexWriter(tx, e.RootPage, h.fm)
		if _, err := iw.Delete(EncodeIndexKey(keyCols, rowid)); err != nil {
			return err
		}
		if err := sc.updateIndexRoot(e.Name, iw.Root()); err != nil {
			return err
		}
	}
	return nil
}

// persistRootIfChanged updates sqlite_schema's rootpage column when a
// writer's root split or collapsed during an operation.
func (h *Handle) persistRootIfChanged(tx *Tx, table string, oldRoot, newRoot PageID) error {
	if oldRoot == newRoot {
		return nil
	}
	sc := OpenSchema(tx, h.fm)
	e, err := sc.Lookup(table)
	if err != nil {
		return err
	}
	if e == nil {
		return dberr.NotFound
	}
	e.RootPage = newRoot
	return sc.putEntry(*e)
}

// Cursor opens a read cursor over table's rows.
func (h *Handle) Cursor(tx *Tx, table string) (*Cursor, error) {
	root, err := h.tableRoot(tx, table)
	if err != nil {
		return nil, err
	}
	return OpenCursor(tx, root), nil
}

// Get fetches one row by rowid, or (nil, false) if absent.
func (h *Handle) Get(tx *Tx, table string, rowid int64) (*RowCursor, bool, error) {
	c, err := h.Cursor(tx, table)
	if err != nil {
		return nil, false, err
	}
	if err := c.Seek(rowid); err != nil {
		return nil, false, err
	}
	if !c.Valid() || c.RowID() != rowid {
		return nil, false, nil
	}
	rc, err := c.Record()
	return rc, true, err
}

// Stats summarizes handle-level operational state.
type Stats struct {
	PageSize   uint32
	PageCount  uint32
	FreePages  uint32
	Encrypted  bool
	DBPath     string
}

func (h *Handle) Stats() (Stats, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n, err := h.file.PageCount()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		PageSize:  h.file.Header().PageSize,
		PageCount: n,
		FreePages: h.fm.Count(),
		Encrypted: h.file.Encrypted(),
		DBPath:    h.file.Path(),
	}, nil
}

// Close closes the database file. Any open writable transaction is
// implicitly rolled back first (an unclosed Tx at Close time means the
// caller never committed or aborted it explicitly).
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.curTx != nil {
		if err := h.curTx.Rollback(); err != nil {
			h.file.Close()
			return fmt.Errorf("close: rollback pending tx: %w", err)
		}
	}
	return h.file.Close()
}
