package pager

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := NewHeader(4096, 0)
	h.SchemaCookie = 7
	h.UserVersion = 3
	buf := make([]byte, 4096)
	MarshalHeader(h, buf)

	got, err := ParseHeader(buf[:HeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	if got.PageSize != 4096 {
		t.Errorf("PageSize = %d", got.PageSize)
	}
	if got.SchemaCookie != 7 {
		t.Errorf("SchemaCookie = %d", got.SchemaCookie)
	}
	if got.UserVersion != 3 {
		t.Errorf("UserVersion = %d", got.UserVersion)
	}
	if got.TextEncoding != TextEncodingUTF8 {
		t.Errorf("TextEncoding = %d", got.TextEncoding)
	}
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	copy(buf, []byte("not a sqlite file"))
	if _, err := ParseHeader(buf); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestParseHeaderRejectsBadPageSize(t *testing.T) {
	h := NewHeader(4096, 0)
	buf := make([]byte, 4096)
	MarshalHeader(h, buf)
	buf[16] = 0x12
	buf[17] = 0x34 // arbitrary page size not in the allowed set
	if _, err := ParseHeader(buf[:HeaderSize]); err == nil {
		t.Error("expected error for invalid page size")
	}
}

func TestUsablePageSize(t *testing.T) {
	h := NewHeader(4096, 48)
	if got := h.UsablePageSize(); got != 4048 {
		t.Errorf("UsablePageSize = %d, want 4048", got)
	}
}
