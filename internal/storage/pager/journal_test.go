package pager

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestJournalRollbackRestoresPreImage(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "j.db")
	fl, hdr, err := Create(dbPath, 4096, OpenOptions{Writable: true})
	if err != nil {
		t.Fatal(err)
	}
	defer fl.Close()

	original, err := fl.ReadPageRaw(1)
	if err != nil {
		t.Fatal(err)
	}
	originalCopy := append([]byte{}, original...)

	jf, err := CreateJournal(JournalPath(dbPath), hdr.PageSize, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := jf.RecordPreImage(1, originalCopy); err != nil {
		t.Fatal(err)
	}

	mutated := append([]byte{}, original...)
	mutated[50] = 0xAB
	if err := fl.WritePageRaw(1, mutated); err != nil {
		t.Fatal(err)
	}

	if err := jf.Rollback(fl); err != nil {
		t.Fatal(err)
	}

	after, err := fl.ReadPageRaw(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(after, originalCopy) {
		t.Error("rollback did not restore the original page image")
	}
}

func TestJournalCommitTruncatesToEmpty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "j2.db")
	_, hdr, err := Create(dbPath, 4096, OpenOptions{Writable: true})
	if err != nil {
		t.Fatal(err)
	}
	jf, err := CreateJournal(JournalPath(dbPath), hdr.PageSize, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := jf.RecordPreImage(1, make([]byte, hdr.PageSize)); err != nil {
		t.Fatal(err)
	}
	if err := jf.Commit(); err != nil {
		t.Fatal(err)
	}
	recs, err := jf.readRecordsFrom(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("expected empty journal after commit, got %d records", len(recs))
	}
}
