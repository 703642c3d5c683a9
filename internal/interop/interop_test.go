package interop

import (
	"path/filepath"
	"testing"

	"github.com/SimonWaldherr/tinySQL/internal/storage/pager"
)

// TestEngineFileOpensInReference exercises spec Property 7's first half:
// a file this engine writes must open and query correctly through an
// unmodified reference SQLite implementation.
func TestEngineFileOpensInReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine-written.db")
	h, err := pager.CreateDB(pager.HandleConfig{Path: path, PageSize: 4096})
	if err != nil {
		t.Fatal(err)
	}

	tx, err := h.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.CreateTable(tx, "people", "CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT NOT NULL)"); err != nil {
		t.Fatal(err)
	}
	rows := map[int64]string{1: "ada", 2: "grace", 3: "margaret"}
	for id, name := range rows {
		v := pager.Value{Type: pager.SerialTypeForText(len(name)), Bytes: []byte(name)}
		idv := pager.Value{Type: pager.SerialTypeForInt(id), Int: id}
		if err := h.Insert(tx, "people", id, []pager.Value{idv, v}); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.Commit(tx); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := OpenReference(path)
	if err != nil {
		t.Fatalf("reference driver could not open engine-written file: %v", err)
	}
	defer db.Close()

	n, err := TableRowCount(db, "people")
	if err != nil {
		t.Fatalf("reference driver could not query engine-written file: %v", err)
	}
	if n != len(rows) {
		t.Errorf("reference driver saw %d rows, engine wrote %d", n, len(rows))
	}
}

// TestReferenceFileOpensInEngine exercises Property 7's other half: a
// file the reference implementation writes must open and scan correctly
// through this engine.
func TestReferenceFileOpensInEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference-written.db")
	rows := map[int64]string{10: "first", 20: "second"}
	if err := WriteReferenceFixture(path, rows); err != nil {
		t.Fatal(err)
	}

	got, err := ReadEngineRows(path, "fixture")
	if err != nil {
		t.Fatalf("engine could not read reference-written file: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("engine saw %d rows, reference wrote %d", len(got), len(rows))
	}
	for id, want := range rows {
		vals, ok := got[id]
		if !ok {
			t.Fatalf("row %d missing", id)
		}
		if len(vals) < 2 {
			t.Fatalf("row %d: expected 2 columns, got %d", id, len(vals))
		}
		if string(vals[1].Bytes) != want {
			t.Errorf("row %d: v = %q, want %q", id, vals[1].Bytes, want)
		}
	}
}
