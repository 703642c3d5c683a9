package pager

import (
	"strings"

	"github.com/SimonWaldherr/tinySQL/internal/storage/dberr"
)

// Schema manages the sqlite_schema table (spec C8 "Schema / catalog"):
// a regular table B-tree, rooted at page 1, whose rows describe every
// other table and index in the database (type, name, tbl_name,
// rootpage, sql). Grounded on the teacher's Catalog shape in
// catalog.go (OpenCatalog/PutEntry/GetEntry/ListTables), adapted from
// a JSON-valued side B-tree keyed by "tenant\x00table" to the real
// five-column sqlite_schema row format keyed by rowid.
type Schema struct {
	tx   *Tx
	fm   *FreeManager
	root PageID // always 1
}

// SchemaColumn describes one column of a user table, as extracted from
// its CREATE TABLE statement by the tokenizer below.
type SchemaColumn struct {
	Name       string
	Affinity   TypeAffinity
	NotNull    bool
	PrimaryKey bool
}

// TypeAffinity mirrors SQLite's five type affinities (spec §4.8).
type TypeAffinity int

const (
	AffinityBlob TypeAffinity = iota
	AffinityText
	AffinityNumeric
	AffinityInteger
	AffinityReal
)

// SchemaEntry is one row of sqlite_schema.
type SchemaEntry struct {
	RowID    int64
	Type     string // "table" or "index"
	Name     string
	TblName  string
	RootPage PageID
	SQL      string
	Columns  []SchemaColumn // not filled in by the schema scan; Handle.Columns parses SQL on each call
}

// OpenSchema opens the schema table rooted at page 1. The page 1 leaf
// is created as an empty leaf-table page by File.Create; OpenSchema
// never needs to create it.
func OpenSchema(tx *Tx, fm *FreeManager) *Schema {
	return &Schema{tx: tx, fm: fm, root: 1}
}

func (s *Schema) writer() *Writer { return NewWriter(s.tx, s.root, s.fm) }

func (s *Schema) nextRowID() (int64, error) {
	c := OpenCursor(s.tx, s.root)
	if err := c.Last(); err != nil {
		return 0, err
	}
	if !c.Valid() {
		return 1, nil
	}
	return c.RowID() + 1, nil
}

// CreateTable registers a new table: allocates a root page for it,
// parses createSQL for its column list, and appends a row to
// sqlite_schema. Returns the new table's root page.
func (s *Schema) CreateTable(name, createSQL string) (PageID, error) {
	if existing, _ := s.Lookup(name); existing != nil {
		return 0, dberr.Constraint("unique", "table "+name+" already exists")
	}
	w := s.writer()
	rootID, buf, err := w.allocPage()
	if err != nil {
		return 0, err
	}
	InitBTreePage(buf, PageTypeLeafTable, rootID == 1, w.usable)
	if err := s.tx.WritePage(rootID, buf); err != nil {
		return 0, err
	}

	rid, err := s.nextRowID()
	if err != nil {
		return 0, err
	}
	entry := SchemaEntry{RowID: rid, Type: "table", Name: name, TblName: name, RootPage: rootID, SQL: createSQL}
	if err := s.putEntry(entry); err != nil {
		return 0, err
	}
	return rootID, nil
}

// CreateIndex allocates a fresh leaf-index root page and registers a
// secondary index entry in sqlite_schema pointing at it (spec C5/C6;
// the index B-tree itself is populated afterward by the caller via
// IndexWriter, keyed by the lexicographic index-key encoding instead
// of rowid). Returns the new root so the caller can hand it straight
// to NewIndexWriter without a second schema lookup.
func (s *Schema) CreateIndex(name, tblName, createSQL string) (PageID, error) {
	if existing, _ := s.Lookup(name); existing != nil {
		return 0, dberr.Constraint("unique", "index "+name+" already exists")
	}
	w := s.writer()
	rootID, buf, err := w.allocPage()
	if err != nil {
		return 0, err
	}
	InitBTreePage(buf, PageTypeLeafIndex, rootID == 1, w.usable)
	if err := s.tx.WritePage(rootID, buf); err != nil {
		return 0, err
	}

	rid, err := s.nextRowID()
	if err != nil {
		return 0, err
	}
	entry := SchemaEntry{RowID: rid, Type: "index", Name: name, TblName: tblName, RootPage: rootID, SQL: createSQL}
	if err := s.putEntry(entry); err != nil {
		return 0, err
	}
	return rootID, nil
}

// updateIndexRoot rewrites name's sqlite_schema row with a new root
// page, used after an IndexWriter split moves the index's root off
// its originally allocated page (analogous to Handle.persistRootIfChanged
// for table writers).
func (s *Schema) updateIndexRoot(name string, newRoot PageID) error {
	e, err := s.Lookup(name)
	if err != nil {
		return err
	}
	if e == nil {
		return dberr.NotFound
	}
	if e.RootPage == newRoot {
		return nil
	}
	if _, err := s.writer().Delete(e.RowID); err != nil {
		return err
	}
	e.RootPage = newRoot
	return s.putEntry(*e)
}

// IndexColumnNames extracts the parenthesized column list from a
// CREATE INDEX ... ON tbl (col1, col2) statement. Unlike ParseColumns
// (which reads full column definitions), index columns are bare
// identifiers, so this is a simpler top-level-comma split.
func IndexColumnNames(createSQL string) ([]string, error) {
	open := strings.LastIndexByte(createSQL, '(')
	close := strings.LastIndexByte(createSQL, ')')
	if open < 0 || close < 0 || close < open {
		return nil, dberr.Corrupt(0, "malformed CREATE INDEX statement")
	}
	body := createSQL[open+1 : close]
	var cols []string
	for _, part := range strings.Split(body, ",") {
		name := strings.Trim(strings.TrimSpace(part), "\"`[]")
		if name != "" {
			cols = append(cols, name)
		}
	}
	if len(cols) == 0 {
		return nil, dberr.Corrupt(0, "CREATE INDEX statement names no columns")
	}
	return cols, nil
}

func (s *Schema) putEntry(e SchemaEntry) error {
	rec := EncodeRecord([]Value{
		{Type: SerialTypeForText(len(e.Type)), Bytes: []byte(e.Type)},
		{Type: SerialTypeForText(len(e.Name)), Bytes: []byte(e.Name)},
		{Type: SerialTypeForText(len(e.TblName)), Bytes: []byte(e.TblName)},
		{Type: SerialTypeForInt(int64(e.RootPage)), Int: int64(e.RootPage)},
		{Type: SerialTypeForText(len(e.SQL)), Bytes: []byte(e.SQL)},
	})
	return s.writer().Insert(e.RowID, rec)
}

// DropTable removes name's row from sqlite_schema. It does not free
// the table's own B-tree pages; callers that want full reclamation
// should walk the tree via Cursor and free each page explicitly, which
// check.go's VerifyAndReclaim helper does as a supplemented vacuum-lite
// operation.
func (s *Schema) DropTable(name string) error {
	e, err := s.Lookup(name)
	if err != nil {
		return err
	}
	if e == nil {
		return dberr.NotFound
	}
	_, err = s.writer().Delete(e.RowID)
	return err
}

// Lookup finds a table or index by name, or returns nil, nil if absent.
func (s *Schema) Lookup(name string) (*SchemaEntry, error) {
	var found *SchemaEntry
	err := s.scan(func(e SchemaEntry) bool {
		if e.Name == name {
			cp := e
			found = &cp
			return false
		}
		return true
	})
	return found, err
}

// ListTables returns every table name registered in sqlite_schema.
func (s *Schema) ListTables() ([]string, error) {
	var names []string
	err := s.scan(func(e SchemaEntry) bool {
		if e.Type == "table" {
			names = append(names, e.Name)
		}
		return true
	})
	return names, err
}

// ListIndexesOn returns every index registered against tblName.
func (s *Schema) ListIndexesOn(tblName string) ([]SchemaEntry, error) {
	var entries []SchemaEntry
	err := s.scan(func(e SchemaEntry) bool {
		if e.Type == "index" && e.TblName == tblName {
			entries = append(entries, e)
		}
		return true
	})
	return entries, err
}

func (s *Schema) scan(fn func(SchemaEntry) bool) error {
	c := OpenCursor(s.tx, s.root)
	if err := c.First(); err != nil {
		return err
	}
	encoding := s.tx.fl.Header().TextEncoding
	for c.Valid() {
		rc, err := c.Record()
		if err != nil {
			return err
		}
		e := SchemaEntry{
			RowID:    c.RowID(),
			Type:     decodeSchemaText(encoding, rc.ReadBytes(0)),
			Name:     decodeSchemaText(encoding, rc.ReadBytes(1)),
			TblName:  decodeSchemaText(encoding, rc.ReadBytes(2)),
			RootPage: PageID(rc.ReadInt(3)),
			SQL:      decodeSchemaText(encoding, rc.ReadBytes(4)),
		}
		if !fn(e) {
			return nil
		}
		if err := c.Next(); err != nil {
			return err
		}
	}
	return nil
}

// ParseColumns extracts a column list from a CREATE TABLE statement's
// parenthesized column definitions. This is a small, forgiving
// tokenizer, not a SQL parser: it splits on top-level commas (ignoring
// commas nested inside parentheses, for CHECK(...) etc.) and reads the
// first two whitespace-separated tokens of each definition as name and
// type-affinity keyword, then scans the remainder for NOT NULL and
// PRIMARY KEY.
func ParseColumns(createSQL string) ([]SchemaColumn, error) {
	open := strings.IndexByte(createSQL, '(')
	close := strings.LastIndexByte(createSQL, ')')
	if open < 0 || close < 0 || close < open {
		return nil, dberr.Corrupt(0, "malformed CREATE TABLE statement")
	}
	body := createSQL[open+1 : close]

	var defs []string
	depth := 0
	last := 0
	for i, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				defs = append(defs, body[last:i])
				last = i + 1
			}
		}
	}
	defs = append(defs, body[last:])

	var cols []SchemaColumn
	for _, d := range defs {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		upper := strings.ToUpper(d)
		if strings.HasPrefix(upper, "PRIMARY KEY") || strings.HasPrefix(upper, "UNIQUE") ||
			strings.HasPrefix(upper, "FOREIGN KEY") || strings.HasPrefix(upper, "CHECK") ||
			strings.HasPrefix(upper, "CONSTRAINT") {
			continue // table-level constraint, not a column
		}
		fields := strings.Fields(d)
		if len(fields) == 0 {
			continue
		}
		col := SchemaColumn{Name: strings.Trim(fields[0], "\"`[]")}
		typeKw := ""
		if len(fields) > 1 {
			typeKw = strings.ToUpper(fields[1])
		}
		col.Affinity = affinityFromTypeName(typeKw)
		if strings.Contains(upper, "NOT NULL") {
			col.NotNull = true
		}
		if strings.Contains(upper, "PRIMARY KEY") {
			col.PrimaryKey = true
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// affinityFromTypeName applies SQLite's textual type-affinity rules
// (spec §4.8): substring match against INT/CHAR-CLOB-TEXT/BLOB or empty
// /REAL-FLOA-DOUB, defaulting to NUMERIC.
func affinityFromTypeName(typeName string) TypeAffinity {
	switch {
	case strings.Contains(typeName, "INT"):
		return AffinityInteger
	case strings.Contains(typeName, "CHAR"), strings.Contains(typeName, "CLOB"), strings.Contains(typeName, "TEXT"):
		return AffinityText
	case strings.Contains(typeName, "BLOB"), typeName == "":
		return AffinityBlob
	case strings.Contains(typeName, "REAL"), strings.Contains(typeName, "FLOA"), strings.Contains(typeName, "DOUB"):
		return AffinityReal
	default:
		return AffinityNumeric
	}
}
