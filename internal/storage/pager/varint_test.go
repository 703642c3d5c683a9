package pager

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	cases := []int64{0, 1, 127, 128, 16383, 16384, 1 << 20, 1 << 40, -1, -128}
	for _, v := range cases {
		buf := make([]byte, 9)
		n := PutVarint(buf, v)
		got, n2, err := GetVarint(buf[:n])
		if err != nil {
			t.Fatalf("GetVarint(%d): %v", v, err)
		}
		if n2 != n {
			t.Fatalf("value %d: encoded %d bytes, decoded consumed %d", v, n, n2)
		}
		if got != v {
			t.Fatalf("value %d round-tripped as %d", v, got)
		}
	}
}

func TestVarint9ByteForm(t *testing.T) {
	v := int64(-1) // all bits set, forces the 9-byte path
	buf := make([]byte, 9)
	n := PutVarint(buf, v)
	if n != 9 {
		t.Fatalf("expected 9-byte varint for -1, got %d", n)
	}
	got, n2, err := GetVarint(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n2 != 9 || got != v {
		t.Fatalf("round trip failed: got=%d n=%d", got, n2)
	}
}

func TestSerialTypeForInt(t *testing.T) {
	cases := []struct {
		v    int64
		want SerialType
	}{
		{0, SerialZero},
		{1, SerialOne},
		{2, SerialInt8},
		{127, SerialInt8},
		{128, SerialInt16},
		{32767, SerialInt16},
		{32768, SerialInt24},
		{1 << 30, SerialInt32},
		{1 << 40, SerialInt48},
		{1 << 60, SerialInt64},
		{-1, SerialInt8},
	}
	for _, c := range cases {
		got := SerialTypeForInt(c.v)
		if got != c.want {
			t.Errorf("SerialTypeForInt(%d) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestEncodeDecodeInt(t *testing.T) {
	cases := []int64{0, 1, -1, 127, -128, 32767, -32768, 1 << 20, -(1 << 20), 1 << 40, -(1 << 40)}
	for _, v := range cases {
		st := SerialTypeForInt(v)
		sz := SerialTypeSize(st)
		buf := make([]byte, sz)
		EncodeInt(st, v, buf)
		got := DecodeInt(st, buf)
		if got != v {
			t.Errorf("int %d via serial type %d round-tripped as %d", v, st, got)
		}
	}
}
