package pager

import "testing"

func TestRecordRoundTrip(t *testing.T) {
	cols := []Value{
		{Type: SerialZero}, // NULL-ish placeholder, overwritten below
		textVal("hello"),
		intVal(42),
		intVal(-1),
		{Type: SerialFloat, Float: 3.25},
	}
	cols[0] = Value{Type: SerialNull}

	buf := EncodeRecord(cols)
	rc, err := DecodeRecord(buf)
	if err != nil {
		t.Fatal(err)
	}
	if rc.FieldCount() != len(cols) {
		t.Fatalf("FieldCount = %d, want %d", rc.FieldCount(), len(cols))
	}
	if !rc.IsNull(0) {
		t.Error("column 0 should be NULL")
	}
	if got := rc.ReadText(1); got != "hello" {
		t.Errorf("column 1 = %q", got)
	}
	if got := rc.ReadInt(2); got != 42 {
		t.Errorf("column 2 = %d", got)
	}
	if got := rc.ReadInt(3); got != -1 {
		t.Errorf("column 3 = %d", got)
	}
	if got := rc.ReadFloat(4); got != 3.25 {
		t.Errorf("column 4 = %v", got)
	}
}

func TestRecordHeaderSizeOver127Bytes(t *testing.T) {
	// Enough columns that the header itself exceeds 127 bytes, forcing
	// EncodeRecord's header-size varint to widen from 1 to 2 bytes.
	cols := make([]Value, 200)
	for i := range cols {
		cols[i] = intVal(int64(i))
	}
	buf := EncodeRecord(cols)
	rc, err := DecodeRecord(buf)
	if err != nil {
		t.Fatal(err)
	}
	if rc.FieldCount() != len(cols) {
		t.Fatalf("FieldCount = %d, want %d", rc.FieldCount(), len(cols))
	}
	for i := range cols {
		if rc.ReadInt(i) != int64(i) {
			t.Fatalf("column %d = %d, want %d", i, rc.ReadInt(i), i)
		}
	}
}
