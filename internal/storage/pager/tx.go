package pager

import (
	"sync"

	"github.com/SimonWaldherr/tinySQL/internal/storage/dberr"
)

// Tx coordinates a single read/write transaction over a File, Cache and
// JournalFile (spec §4.7, §5 "Concurrency & resource model": one writer
// at a time). The header's file-change counter is neither read nor
// updated by a transaction, so a commit made through another handle or
// process is not detected and the cache is not refreshed for it.
// Grounded on the teacher's pager.Pager.Begin/Commit/Rollback
// shape, adapted from redo-WAL bookkeeping to undo-journal bookkeeping.
type Tx struct {
	mu       sync.Mutex
	fl       *File
	cache    *Cache
	journal  *JournalFile
	writable bool
	done     bool
	origSize uint32
}

// BeginTx starts a transaction. For a writable transaction it creates
// the rollback journal eagerly (spec: "begin() creates <db>-journal").
// Read-only transactions need no journal since they mutate nothing.
func BeginTx(fl *File, cache *Cache, writable bool) (*Tx, error) {
	tx := &Tx{fl: fl, cache: cache, writable: writable}
	if writable {
		n, err := fl.PageCount()
		if err != nil {
			return nil, err
		}
		tx.origSize = n
		jf, err := CreateJournal(JournalPath(fl.Path()), fl.Header().PageSize, n)
		if err != nil {
			return nil, err
		}
		tx.journal = jf
	}
	return tx, nil
}

// ReadPage returns a page's current contents, serving from cache when
// present and pinning it for the caller's use.
func (tx *Tx) ReadPage(id PageID) ([]byte, error) {
	if buf, ok := tx.cache.Get(id); ok {
		return buf, nil
	}
	buf, err := tx.fl.ReadPageRaw(id)
	if err != nil {
		return nil, err
	}
	tx.cache.Insert(id, buf, true)
	return buf, nil
}

// UnpinPage releases a page pinned by ReadPage once the
// caller is done referencing its buffer.
func (tx *Tx) UnpinPage(id PageID) { tx.cache.Unpin(id) }

// WritePage records buf as page id's new contents. The first time a
// page is touched within this transaction, its pre-mutation image is
// captured to the rollback journal before the new contents are
// installed in the cache.
func (tx *Tx) WritePage(id PageID, buf []byte) error {
	if !tx.writable {
		return dberr.UnsupportedFeature("write on read-only transaction")
	}
	if preimage, ok := tx.cache.Get(id); ok {
		if err := tx.journal.RecordPreImage(id, append([]byte{}, preimage...)); err != nil {
			return err
		}
		tx.cache.Unpin(id)
	} else {
		onDisk, err := tx.fl.ReadPageRaw(id)
		if err == nil {
			if jerr := tx.journal.RecordPreImage(id, onDisk); jerr != nil {
				return jerr
			}
		}
	}
	tx.cache.Remove(id)
	tx.cache.Insert(id, buf, false)
	tx.cache.MarkDirty(id)
	return nil
}

// AllocatePage grows the database file by one page, returning its new
// page number. The new page's image is journaled as an all-zero
// pre-image so rollback truncates the file back past it.
func (tx *Tx) AllocatePage() (PageID, error) {
	n, err := tx.fl.PageCount()
	if err != nil {
		return 0, err
	}
	newID := PageID(n + 1)
	buf := make([]byte, tx.fl.Header().PageSize)
	if err := tx.journal.RecordPreImage(newID, make([]byte, tx.fl.Header().PageSize)); err != nil {
		return 0, err
	}
	if err := tx.fl.WritePageRaw(newID, make([]byte, tx.fl.Header().PageSize)); err != nil {
		return 0, err
	}
	tx.cache.Insert(newID, buf, false)
	tx.cache.MarkDirty(newID)
	return newID, nil
}

// Savepoint opens a savepoint within the transaction, returning an
// index usable with RollbackToSavepoint.
func (tx *Tx) Savepoint() (int, error) {
	if !tx.writable {
		return 0, dberr.UnsupportedFeature("savepoint on read-only transaction")
	}
	if err := tx.journal.Savepoint(); err != nil {
		return 0, err
	}
	return len(tx.journal.savepoints) - 1, nil
}

// RollbackToSavepoint undoes every write since the given savepoint
// without aborting the whole transaction.
func (tx *Tx) RollbackToSavepoint(idx int) error {
	if err := tx.journal.RollbackToSavepoint(tx.fl, idx); err != nil {
		return err
	}
	tx.cache.Invalidate()
	return nil
}

// Commit flushes every dirty page to the database file, fsyncs, then
// truncates the journal — the atomic commit point per spec §4.7.
func (tx *Tx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return dberr.TransactionAborted
	}
	if !tx.writable {
		tx.done = true
		return nil
	}
	for _, dp := range tx.cache.DirtyPages() {
		if err := tx.fl.WritePageRaw(dp.ID, dp.Buf); err != nil {
			return err
		}
	}
	if err := tx.fl.Sync(); err != nil {
		return err
	}
	if err := tx.journal.Commit(); err != nil {
		return err
	}
	if err := tx.journal.Close(); err != nil {
		return err
	}
	tx.cache.ClearDirty()
	tx.done = true
	return nil
}

// Rollback discards every write made in this transaction, replaying
// pre-images over the database file and truncating it back to its
// captured original size, then removes the journal.
func (tx *Tx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil
	}
	if !tx.writable {
		tx.done = true
		return nil
	}
	if err := tx.journal.Rollback(tx.fl); err != nil {
		return err
	}
	tx.cache.Invalidate()
	if err := tx.journal.Close(); err != nil {
		return err
	}
	tx.done = true
	return nil
}

// RecoverIfNeeded is called on database open: if a non-empty, valid
// rollback journal is found alongside the database file, it is an
// unfinished transaction from a crash and must be rolled back before
// the database is usable (spec §4.7 "recovery on open").
func RecoverIfNeeded(fl *File) error {
	jf, err := OpenJournalForRecovery(JournalPath(fl.Path()))
	if err != nil {
		return err
	}
	if jf == nil {
		return nil
	}
	defer jf.Close()
	if !jf.Valid() {
		return nil
	}
	return jf.Rollback(fl)
}
