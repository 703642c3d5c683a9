package pager

import (
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"
)

// Text encoding support for the header's "text encoding" field (§3).
// This engine only ever writes UTF-8 (TextEncodingUTF8), but a
// third-party file may declare UTF-16LE or UTF-16BE;
// spec Property 7 requires such a file to at least open and be
// readable here, not be rejected outright. golang.org/x/text supplies
// the transcoder (this file is its only user; no such transcoding
// exists in the standard library).
var (
	utf16LEDecoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	utf16BEDecoder = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
)

// decodeSchemaText converts raw sqlite_schema text bytes to a Go string
// per the database's declared text encoding. UTF-8 is returned as-is;
// UTF-16 variants are transcoded. An encoding this engine doesn't
// recognize falls back to treating the bytes as UTF-8, matching the
// teacher's general habit of a permissive fallback rather than hard
// failure on cosmetic metadata.
func decodeSchemaText(encoding uint32, raw []byte) string {
	switch encoding {
	case TextEncodingUTF16LE:
		out, err := utf16LEDecoder.Bytes(raw)
		if err == nil {
			return string(out)
		}
	case TextEncodingUTF16BE:
		out, err := utf16BEDecoder.Bytes(raw)
		if err == nil {
			return string(out)
		}
	}
	return string(raw)
}

// encodeUTF16LE encodes s as UTF-16LE bytes, the inverse of the
// UTF-16LE branch of decodeSchemaText. Nothing in the repository calls
// it; the engine itself never writes anything but UTF-8.
func encodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		out[i*2] = byte(u)
		out[i*2+1] = byte(u >> 8)
	}
	return out
}
