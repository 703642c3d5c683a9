package pager

import (
	"fmt"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	h, err := CreateDB(HandleConfig{Path: path, PageSize: 4096})
	if err != nil {
		t.Fatalf("CreateDB: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func textVal(s string) Value { return Value{Type: SerialTypeForText(len(s)), Bytes: []byte(s)} }
func intVal(v int64) Value   { return Value{Type: SerialTypeForInt(v), Int: v} }

func TestCreateTableInsertGet(t *testing.T) {
	h := newTestDB(t)

	tx, err := h.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.CreateTable(tx, "widgets", "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL)"); err != nil {
		t.Fatal(err)
	}
	if err := h.Insert(tx, "widgets", 1, []Value{intVal(1), textVal("sprocket")}); err != nil {
		t.Fatal(err)
	}
	if err := h.Insert(tx, "widgets", 2, []Value{intVal(2), textVal("cog")}); err != nil {
		t.Fatal(err)
	}
	if err := h.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2, err := h.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback()

	rc, ok, err := h.Get(tx2, "widgets", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("row 1 not found")
	}
	if got := rc.ReadText(1); got != "sprocket" {
		t.Errorf("row 1 name = %q, want sprocket", got)
	}

	names, err := h.Tables(tx2)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "widgets" {
		t.Errorf("Tables = %v", names)
	}

	cols, err := h.Columns(tx2, "widgets")
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 2 || cols[0].Name != "id" || cols[1].Name != "name" {
		t.Errorf("Columns = %+v", cols)
	}
	if !cols[1].NotNull {
		t.Error("expected name column to be NOT NULL")
	}
}

func TestCursorOrdersByRowID(t *testing.T) {
	h := newTestDB(t)
	tx, err := h.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.CreateTable(tx, "t", "CREATE TABLE t (v TEXT)"); err != nil {
		t.Fatal(err)
	}
	order := []int64{5, 1, 3, 2, 4}
	for _, rid := range order {
		if err := h.Insert(tx, "t", rid, []Value{textVal(fmt.Sprintf("v%d", rid))}); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2, err := h.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback()
	c, err := h.Cursor(tx2, "t")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.First(); err != nil {
		t.Fatal(err)
	}
	var got []int64
	for c.Valid() {
		got = append(got, c.RowID())
		if err := c.Next(); err != nil {
			t.Fatal(err)
		}
	}
	want := []int64{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	h := newTestDB(t)
	tx, err := h.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.CreateTable(tx, "t", "CREATE TABLE t (v TEXT)"); err != nil {
		t.Fatal(err)
	}
	if err := h.Insert(tx, "t", 1, []Value{textVal("a")}); err != nil {
		t.Fatal(err)
	}
	if err := h.Insert(tx, "t", 2, []Value{textVal("b")}); err != nil {
		t.Fatal(err)
	}
	ok, err := h.Delete(tx, "t", 1)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if err := h.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2, err := h.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback()
	_, ok, err = h.Get(tx2, "t", 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("row 1 should have been deleted")
	}
	_, ok, err = h.Get(tx2, "t", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("row 2 should still exist")
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	h := newTestDB(t)
	tx, err := h.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.CreateTable(tx, "t", "CREATE TABLE t (v TEXT)"); err != nil {
		t.Fatal(err)
	}
	if err := h.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2, err := h.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Insert(tx2, "t", 1, []Value{textVal("ghost")}); err != nil {
		t.Fatal(err)
	}
	if err := h.Rollback(tx2); err != nil {
		t.Fatal(err)
	}

	tx3, err := h.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx3.Rollback()
	_, ok, err := h.Get(tx3, "t", 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("rolled-back insert should not be visible")
	}
}

func TestManyInsertsForceSplit(t *testing.T) {
	h := newTestDB(t)
	tx, err := h.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.CreateTable(tx, "big", "CREATE TABLE big (v TEXT)"); err != nil {
		t.Fatal(err)
	}
	const n = 500
	for i := int64(1); i <= n; i++ {
		payload := fmt.Sprintf("row-%04d", i)
		if err := h.Insert(tx, "big", i, []Value{textVal(payload)}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := h.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2, err := h.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback()
	c, err := h.Cursor(tx2, "big")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.First(); err != nil {
		t.Fatal(err)
	}
	count := 0
	var prev int64 = -1
	for c.Valid() {
		if c.RowID() <= prev {
			t.Fatalf("rowid out of order: %d after %d", c.RowID(), prev)
		}
		prev = c.RowID()
		count++
		if err := c.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if count != n {
		t.Errorf("scanned %d rows, want %d", count, n)
	}
}

func TestIndexScanOrdersLexicographically(t *testing.T) {
	h := newTestDB(t)
	tx, err := h.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.CreateTable(tx, "people", "CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatal(err)
	}
	names := map[int64]string{1: "carol", 2: "alice", 3: "bob", 4: "alice"}
	for rid, name := range names {
		if err := h.Insert(tx, "people", rid, []Value{intVal(rid), textVal(name)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.CreateIndex(tx, "idx_people_name", "people", []string{"name"}); err != nil {
		t.Fatal(err)
	}
	if err := h.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2, err := h.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback()
	ic, err := h.IndexCursor(tx2, "idx_people_name")
	if err != nil {
		t.Fatal(err)
	}
	if err := ic.First(); err != nil {
		t.Fatal(err)
	}
	var got []string
	for ic.Valid() {
		rc, err := ic.Key()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, rc.ReadText(0))
		if err := ic.Next(); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"alice", "alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestIndexMaintainedAcrossUpdateAndDelete(t *testing.T) {
	h := newTestDB(t)
	tx, err := h.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.CreateTable(tx, "t", "CREATE TABLE t (k TEXT)"); err != nil {
		t.Fatal(err)
	}
	if err := h.CreateIndex(tx, "idx_t_k", "t", []string{"k"}); err != nil {
		t.Fatal(err)
	}
	if err := h.Insert(tx, "t", 1, []Value{textVal("old")}); err != nil {
		t.Fatal(err)
	}
	if err := h.Insert(tx, "t", 2, []Value{textVal("keep")}); err != nil {
		t.Fatal(err)
	}
	if err := h.Update(tx, "t", 1, []Value{textVal("new")}); err != nil {
		t.Fatal(err)
	}
	if ok, err := h.Delete(tx, "t", 2); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if err := h.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2, err := h.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback()
	ic, err := h.IndexCursor(tx2, "idx_t_k")
	if err != nil {
		t.Fatal(err)
	}
	if err := ic.First(); err != nil {
		t.Fatal(err)
	}
	var got []string
	for ic.Valid() {
		rc, err := ic.Key()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, rc.ReadText(0))
		if err := ic.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if len(got) != 1 || got[0] != "new" {
		t.Fatalf("index entries after update+delete = %v, want [new]", got)
	}
}

func TestIndexSurvivesTableSplit(t *testing.T) {
	h := newTestDB(t)
	tx, err := h.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.CreateTable(tx, "big", "CREATE TABLE big (v TEXT)"); err != nil {
		t.Fatal(err)
	}
	if err := h.CreateIndex(tx, "idx_big_v", "big", []string{"v"}); err != nil {
		t.Fatal(err)
	}
	const n = 300
	for i := int64(1); i <= n; i++ {
		if err := h.Insert(tx, "big", i, []Value{textVal(fmt.Sprintf("row-%04d", n-i))}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := h.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2, err := h.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback()
	ic, err := h.IndexCursor(tx2, "idx_big_v")
	if err != nil {
		t.Fatal(err)
	}
	if err := ic.First(); err != nil {
		t.Fatal(err)
	}
	count := 0
	prev := ""
	for ic.Valid() {
		rc, err := ic.Key()
		if err != nil {
			t.Fatal(err)
		}
		cur := rc.ReadText(0)
		if cur < prev {
			t.Fatalf("index out of order: %q after %q", cur, prev)
		}
		prev = cur
		count++
		if err := ic.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if count != n {
		t.Errorf("scanned %d index entries, want %d", count, n)
	}
}

func TestVerifyDBCleanTree(t *testing.T) {
	h := newTestDB(t)
	tx, err := h.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.CreateTable(tx, "t", "CREATE TABLE t (v TEXT)"); err != nil {
		t.Fatal(err)
	}
	for i := int64(1); i <= 50; i++ {
		if err := h.Insert(tx, "t", i, []Value{textVal(fmt.Sprintf("v%d", i))}); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.Commit(tx); err != nil {
		t.Fatal(err)
	}

	report, err := VerifyDB(h)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Errorf("unexpected integrity problems: %v", report.Problems)
	}
}
