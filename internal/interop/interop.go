// Package interop cross-checks the engine's on-disk format against an
// independent reference implementation (spec §8 Property 7
// "Interoperability"). It uses modernc.org/sqlite, a CGO-free SQLite
// driver already present in the teacher's go.mod, as the reference
// reader/writer: a file this engine writes must open and query
// correctly through an unmodified third-party implementation, and vice
// versa.
package interop

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/SimonWaldherr/tinySQL/internal/storage/pager"
)

// OpenReference opens path through the reference SQLite driver,
// read-only, for cross-checking a file this engine produced.
func OpenReference(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening %s via reference driver: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s via reference driver: %w", path, err)
	}
	return db, nil
}

// TableRowCount queries table's row count through the reference driver.
// Used by interop_test.go to confirm that rows this engine wrote are
// visible, and at the correct count, to an independent reader.
func TableRowCount(db *sql.DB, table string) (int, error) {
	var n int
	// table is only ever a name this process itself created a moment
	// earlier in a test; it never carries untrusted input, so a plain
	// Sprintf into the query text (sql.DB has no identifier-parameter
	// placeholder) is safe here.
	row := db.QueryRow(fmt.Sprintf("SELECT count(*) FROM %q", table))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	return n, nil
}

// WriteReferenceFixture creates path using the reference driver and
// populates it with a single table of (id INTEGER PRIMARY KEY, v TEXT)
// rows, for the opens-files-from-the-reference half of Property 7.
func WriteReferenceFixture(path string, rows map[int64]string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("creating reference fixture %s: %w", path, err)
	}
	defer db.Close()
	if _, err := db.Exec("CREATE TABLE fixture (id INTEGER PRIMARY KEY, v TEXT NOT NULL)"); err != nil {
		return fmt.Errorf("creating fixture table: %w", err)
	}
	for id, v := range rows {
		if _, err := db.Exec("INSERT INTO fixture (id, v) VALUES (?, ?)", id, v); err != nil {
			return fmt.Errorf("inserting fixture row %d: %w", id, err)
		}
	}
	return nil
}

// ReadEngineRows opens path with this engine's own Handle and scans
// table's rows back out, for comparison against what the reference
// driver wrote.
func ReadEngineRows(path, table string) (map[int64][]pager.Value, error) {
	h, err := pager.OpenDB(pager.HandleConfig{Path: path})
	if err != nil {
		return nil, fmt.Errorf("opening %s via engine: %w", path, err)
	}
	defer h.Close()

	tx, err := h.Begin(false)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := h.Cursor(tx, table)
	if err != nil {
		return nil, fmt.Errorf("opening cursor on %s: %w", table, err)
	}
	out := make(map[int64][]pager.Value)
	if err := c.First(); err != nil {
		return nil, err
	}
	for c.Valid() {
		rc, err := c.Record()
		if err != nil {
			return nil, err
		}
		vals := make([]pager.Value, rc.FieldCount())
		for i := range vals {
			vals[i] = rc.Value(i)
		}
		out[c.RowID()] = vals
		if err := c.Next(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
