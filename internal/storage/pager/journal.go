package pager

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/google/uuid"

	"github.com/SimonWaldherr/tinySQL/internal/storage/dberr"
)

// Rollback journal and transaction machinery (spec C7, §4.7). Unlike the
// teacher's wal.go/recovery.go, which implement a redo WAL (new page
// images appended and replayed forward on recovery), this is an undo
// journal: before a page is first modified within a transaction, its
// pre-image is captured here, and rollback replays those pre-images
// back over the database file. Commit is the act of discarding the
// journal (truncating it to empty) once every dirty page has been
// flushed and fsynced to the database file.
//
// The on-disk record shape (fixed header, length-prefixed payload,
// CRC32-Castagnoli per record) is grounded on wal.go's WALRecord
// framing; the content and the direction recovery runs in follow
// other_examples/b40ec439_chirst-cdb__pager-pager.go.go's
// EndWrite/CreateJournal/DeleteJournal whole-file-copy journal, adapted
// to per-page pre-image records instead of a whole-file copy so a long
// transaction does not have to duplicate the entire database up front.

const (
	journalMagic      uint64 = 0xd9d505f920a163d7
	journalHeaderSize        = 44 // magic(8) + pageSize(4) + origDBSize(4) + sessionID(16) + reserved(12)
	journalRecHdrSize        = 12 // pageNo(4) + dataLen(4) + crc(4)
)

// JournalFile manages the rollback journal sidecar (<db>-journal).
type JournalFile struct {
	f          *os.File
	path       string
	pageSize   uint32
	origSize   uint32 // database size, in pages, captured at journal creation
	sessionID  uuid.UUID
	captured   map[PageID]bool
	savepoints []int64 // file offsets marking savepoint boundaries
}

// CreateJournal creates a new, empty rollback journal for a transaction
// about to begin, recording the database's current page count so
// rollback knows where to truncate back to. Each journal is stamped with
// a random session id so a stale journal left by a process that crashed
// mid-write and was then replaced (same path, different process) can
// still be told apart from the current writer's own journal during a
// future multi-writer extension; today it is written and read back but
// not otherwise consulted, since this engine allows only one writer.
func CreateJournal(path string, pageSize uint32, origSizePages uint32) (*JournalFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, dberr.Io(err)
	}
	jf := &JournalFile{f: f, path: path, pageSize: pageSize, origSize: origSizePages, sessionID: uuid.New(), captured: make(map[PageID]bool)}
	if err := jf.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return jf, nil
}

// SessionID returns the random id stamped into this journal's header.
func (jf *JournalFile) SessionID() uuid.UUID { return jf.sessionID }

// OpenJournalForRecovery opens an existing journal file found at path
// during database open, for crash-recovery rollback. Returns nil, nil
// if the file does not exist (the common case: no crash occurred).
func OpenJournalForRecovery(path string) (*JournalFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, dberr.Io(err)
	}
	jf := &JournalFile{f: f, path: path, captured: make(map[PageID]bool)}
	if err := jf.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return jf, nil
}

func (jf *JournalFile) writeHeader() error {
	buf := make([]byte, journalHeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], journalMagic)
	binary.BigEndian.PutUint32(buf[8:12], jf.pageSize)
	binary.BigEndian.PutUint32(buf[12:16], jf.origSize)
	sid := jf.sessionID
	copy(buf[16:32], sid[:])
	if _, err := jf.f.WriteAt(buf, 0); err != nil {
		return dberr.Io(err)
	}
	return nil
}

func (jf *JournalFile) readHeader() error {
	buf := make([]byte, journalHeaderSize)
	n, err := jf.f.ReadAt(buf, 0)
	if err != nil && n < journalHeaderSize {
		// Short or empty journal: nothing to recover. Treat as if it
		// does not exist rather than as corruption — a journal is
		// created empty-then-filled, so a zero-length file is the
		// normal post-commit steady state.
		jf.pageSize = 0
		return nil
	}
	magic := binary.BigEndian.Uint64(buf[0:8])
	if magic != journalMagic {
		jf.pageSize = 0
		return nil
	}
	jf.pageSize = binary.BigEndian.Uint32(buf[8:12])
	jf.origSize = binary.BigEndian.Uint32(buf[12:16])
	copy(jf.sessionID[:], buf[16:32])
	return nil
}

// Valid reports whether the journal holds a usable, complete header —
// i.e. whether a crash-recovery rollback should actually be performed.
func (jf *JournalFile) Valid() bool { return jf.pageSize != 0 }

// RecordPreImage appends pageNo's current on-disk contents (before the
// caller mutates its cached copy) to the journal, if not already
// captured this transaction. image must be exactly one page's raw
// bytes (post-decryption, pre-dirty-write).
func (jf *JournalFile) RecordPreImage(pageNo PageID, image []byte) error {
	if jf.captured[pageNo] {
		return nil
	}
	off, err := jf.f.Seek(0, os.SEEK_END)
	if err != nil {
		return dberr.Io(err)
	}
	rec := make([]byte, journalRecHdrSize+len(image))
	binary.BigEndian.PutUint32(rec[0:4], uint32(pageNo))
	binary.BigEndian.PutUint32(rec[4:8], uint32(len(image)))
	copy(rec[journalRecHdrSize:], image)
	crc := crc32.Checksum(rec[:journalRecHdrSize-4], crc32.MakeTable(crc32.Castagnoli))
	crc = crc32.Update(crc, crc32.MakeTable(crc32.Castagnoli), image)
	binary.BigEndian.PutUint32(rec[8:12], crc)
	if _, err := jf.f.WriteAt(rec, off); err != nil {
		return dberr.Io(err)
	}
	jf.captured[pageNo] = true
	return nil
}

// Savepoint marks the current journal offset as a rollback point that a
// later RollbackToSavepoint can return to without discarding the whole
// transaction (spec's supplemented single-level-savepoint feature).
func (jf *JournalFile) Savepoint() error {
	off, err := jf.f.Seek(0, os.SEEK_END)
	if err != nil {
		return dberr.Io(err)
	}
	jf.savepoints = append(jf.savepoints, off)
	return nil
}

type journalRecord struct {
	pageNo PageID
	image  []byte
}

// readRecordsFrom walks journal records starting at byte offset start,
// stopping silently at a short/corrupt trailing record (the same
// tolerant-tail behavior wal.go's ReadAllRecords used, since an
// in-flight append that never completed fsync is expected after a
// crash, not an error to surface).
func (jf *JournalFile) readRecordsFrom(start int64) ([]journalRecord, error) {
	var out []journalRecord
	off := start + journalHeaderSize
	if start > 0 {
		off = start
	}
	hdr := make([]byte, journalRecHdrSize)
	for {
		n, err := jf.f.ReadAt(hdr, off)
		if n < journalRecHdrSize || err != nil {
			break
		}
		pageNo := PageID(binary.BigEndian.Uint32(hdr[0:4]))
		dataLen := binary.BigEndian.Uint32(hdr[4:8])
		wantCRC := binary.BigEndian.Uint32(hdr[8:12])
		data := make([]byte, dataLen)
		n2, err := jf.f.ReadAt(data, off+journalRecHdrSize)
		if uint32(n2) < dataLen || err != nil {
			break
		}
		crc := crc32.Checksum(hdr[:8], crc32.MakeTable(crc32.Castagnoli))
		crc = crc32.Update(crc, crc32.MakeTable(crc32.Castagnoli), data)
		if crc != wantCRC {
			break
		}
		out = append(out, journalRecord{pageNo: pageNo, image: data})
		off += int64(journalRecHdrSize) + int64(dataLen)
	}
	return out, nil
}

// Rollback replays every captured pre-image back over fl's pages, in
// reverse order (so the last capture of a repeatedly-touched page
// loses to its earliest, true pre-transaction image), then truncates
// the database file back to the journal's captured original size.
// This is the full-transaction-abort path and the crash-recovery path.
func (jf *JournalFile) Rollback(fl *File) error {
	recs, err := jf.readRecordsFrom(0)
	if err != nil {
		return err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if err := fl.WritePageRaw(recs[i].pageNo, recs[i].image); err != nil {
			return err
		}
	}
	if err := fl.Sync(); err != nil {
		return err
	}
	if jf.origSize > 0 {
		if err := fl.Truncate(jf.origSize); err != nil {
			return err
		}
	}
	return nil
}

// RollbackToSavepoint replays only the pre-images captured after the
// given savepoint index, leaving the transaction (and its earlier
// writes) open and the journal intact for further capture.
func (jf *JournalFile) RollbackToSavepoint(fl *File, idx int) error {
	if idx < 0 || idx >= len(jf.savepoints) {
		return dberr.Corrupt(0, "invalid savepoint index")
	}
	start := jf.savepoints[idx]
	recs, err := jf.readRecordsFrom(start)
	if err != nil {
		return err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if err := fl.WritePageRaw(recs[i].pageNo, recs[i].image); err != nil {
			return err
		}
		delete(jf.captured, recs[i].pageNo)
	}
	if err := jf.f.Truncate(start); err != nil {
		return dberr.Io(err)
	}
	jf.savepoints = jf.savepoints[:idx]
	return nil
}

// Commit is the atomic commit point: the caller must have already
// flushed and fsynced every dirty page to the database file. Commit
// then truncates the journal to zero length, which is the instant the
// transaction becomes durable — a crash before this point rolls back
// on next open, a crash after or during this truncate leaves a
// zero/short journal that OpenJournalForRecovery treats as "nothing to
// recover".
func (jf *JournalFile) Commit() error {
	if err := jf.f.Truncate(0); err != nil {
		return dberr.Io(err)
	}
	if err := jf.f.Sync(); err != nil {
		return dberr.Io(err)
	}
	jf.captured = make(map[PageID]bool)
	jf.savepoints = nil
	return nil
}

// Close closes and removes the journal file (called after a successful
// commit or rollback, once the transaction is fully resolved).
func (jf *JournalFile) Close() error {
	if err := jf.f.Close(); err != nil {
		return dberr.Io(err)
	}
	return os.Remove(jf.path)
}

// JournalPath derives the sidecar journal path for a database file,
// following SQLite's "-journal" suffix convention.
func JournalPath(dbPath string) string { return dbPath + "-journal" }
