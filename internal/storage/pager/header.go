// Package pager implements the on-disk paged B-tree storage engine: header
// parsing, page I/O, the buffer pool, the rollback journal, free-list
// management, the B-tree cursor and writer, the schema loader, and the
// optional page-level encryption transform. The format on disk is the one
// popularized by SQLite 3 (see header.go, page.go) so that an
// unmodified third-party SQLite reader can open files this package writes,
// and vice versa, for databases opened without a password.
package pager

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/tinySQL/internal/storage/dberr"
)

// HeaderSize is the fixed size of the database header occupying the first
// 100 bytes of page 1.
const HeaderSize = 100

// headerMagic is the literal 16-byte prologue every database file begins
// with, plaintext even when the rest of the file is encrypted.
var headerMagic = []byte("SQLite format 3\x00")

// Text encodings recognized in the header's text-encoding field.
const (
	TextEncodingUTF8    = 1
	TextEncodingUTF16LE = 2
	TextEncodingUTF16BE = 3
)

// Header mirrors the fixed 100-byte database header at the start of page 1.
type Header struct {
	PageSize            uint32 // stored as u16 on disk; 1 means 65536
	FileChangeCounter   uint32
	DatabaseSizePages   uint32
	FirstFreelistTrunk  uint32
	FreelistCount       uint32
	SchemaCookie        uint32
	TextEncoding        uint32
	UserVersion         uint32
	ApplicationID       uint32
	ReservedBytesPerPage uint8
	VersionValidFor     uint32
	SQLiteVersion       uint32
}

// UsablePageSize is the page size minus the bytes reserved at the tail of
// every page (for the optional encryption transform's tag/nonce overhead).
func (h *Header) UsablePageSize() int {
	return int(h.PageSize) - int(h.ReservedBytesPerPage)
}

// allowedPageSizes are the only page sizes the format permits.
var allowedPageSizes = map[uint32]bool{
	512: true, 1024: true, 2048: true, 4096: true,
	8192: true, 16384: true, 32768: true, 65536: true,
}

// MarshalHeader writes h into the first HeaderSize bytes of buf (which must
// be at least HeaderSize long; typically it is a full page-1 buffer).
func MarshalHeader(h *Header, buf []byte) {
	if len(buf) < HeaderSize {
		panic("pager: buffer too small for database header")
	}
	copy(buf[0:16], headerMagic)

	ps := h.PageSize
	if ps == 65536 {
		binary.BigEndian.PutUint16(buf[16:18], 1)
	} else {
		binary.BigEndian.PutUint16(buf[16:18], uint16(ps))
	}
	buf[18] = 1 // file format write version: legacy
	buf[19] = 1 // file format read version: legacy
	buf[20] = h.ReservedBytesPerPage
	buf[21] = 64 // maximum embedded payload fraction
	buf[22] = 32 // minimum embedded payload fraction
	buf[23] = 32 // leaf payload fraction
	binary.BigEndian.PutUint32(buf[24:28], h.FileChangeCounter)
	binary.BigEndian.PutUint32(buf[28:32], h.DatabaseSizePages)
	binary.BigEndian.PutUint32(buf[32:36], h.FirstFreelistTrunk)
	binary.BigEndian.PutUint32(buf[36:40], h.FreelistCount)
	binary.BigEndian.PutUint32(buf[40:44], h.SchemaCookie)
	binary.BigEndian.PutUint32(buf[44:48], 4) // schema format number
	binary.BigEndian.PutUint32(buf[48:52], 0) // default page cache size
	binary.BigEndian.PutUint32(buf[52:56], 0) // largest root b-tree page (vacuum)
	binary.BigEndian.PutUint32(buf[56:60], h.TextEncoding)
	binary.BigEndian.PutUint32(buf[60:64], h.UserVersion)
	binary.BigEndian.PutUint32(buf[64:68], 0) // incremental-vacuum mode
	binary.BigEndian.PutUint32(buf[68:72], h.ApplicationID)
	for i := 72; i < 92; i++ {
		buf[i] = 0 // reserved for expansion
	}
	binary.BigEndian.PutUint32(buf[92:96], h.VersionValidFor)
	binary.BigEndian.PutUint32(buf[96:100], h.SQLiteVersion)
}

// ParseHeader validates and decodes the 100-byte database header from buf.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, dberr.InvalidFile("file shorter than header", nil)
	}
	if !bytes.Equal(buf[0:16], headerMagic) {
		return nil, dberr.InvalidFile("bad magic", nil)
	}
	rawPageSize := binary.BigEndian.Uint16(buf[16:18])
	var pageSize uint32
	if rawPageSize == 1 {
		pageSize = 65536
	} else {
		pageSize = uint32(rawPageSize)
	}
	if !allowedPageSizes[pageSize] {
		return nil, dberr.InvalidFile(fmt.Sprintf("invalid page size %d", pageSize), nil)
	}
	reserved := buf[20]
	if int(reserved) >= int(pageSize)-480 {
		return nil, dberr.InvalidFile("reserved bytes too large", nil)
	}
	writeVer, readVer := buf[18], buf[19]
	if readVer > 2 {
		return nil, dberr.UnsupportedFeature(fmt.Sprintf("unsupported file format read version %d", readVer))
	}
	_ = writeVer

	h := &Header{
		PageSize:             pageSize,
		ReservedBytesPerPage: reserved,
		FileChangeCounter:    binary.BigEndian.Uint32(buf[24:28]),
		DatabaseSizePages:    binary.BigEndian.Uint32(buf[28:32]),
		FirstFreelistTrunk:   binary.BigEndian.Uint32(buf[32:36]),
		FreelistCount:        binary.BigEndian.Uint32(buf[36:40]),
		SchemaCookie:         binary.BigEndian.Uint32(buf[40:44]),
		TextEncoding:         binary.BigEndian.Uint32(buf[56:60]),
		UserVersion:          binary.BigEndian.Uint32(buf[60:64]),
		ApplicationID:        binary.BigEndian.Uint32(buf[68:72]),
		VersionValidFor:      binary.BigEndian.Uint32(buf[92:96]),
		SQLiteVersion:        binary.BigEndian.Uint32(buf[96:100]),
	}
	if h.TextEncoding == 0 {
		h.TextEncoding = TextEncodingUTF8
	}
	switch h.TextEncoding {
	case TextEncodingUTF8, TextEncodingUTF16LE, TextEncodingUTF16BE:
		// All three are readable (see text.go's decodeSchemaText); only
		// UTF-8 is ever written by this engine, so a UTF-16 file is
		// necessarily one written by a third-party writer.
	default:
		return nil, dberr.UnsupportedFeature("unrecognized text encoding")
	}
	return h, nil
}

// NewHeader builds the header for a freshly created database.
func NewHeader(pageSize uint32, reservedBytes uint8) *Header {
	return &Header{
		PageSize:             pageSize,
		ReservedBytesPerPage: reservedBytes,
		DatabaseSizePages:    1,
		TextEncoding:         TextEncodingUTF8,
		VersionValidFor:      3045000,
		SQLiteVersion:        3045000,
	}
}
