package pager

import (
	"bytes"
	"testing"
)

func fastKDFParams() KDFParams {
	// Cheap parameters so the test suite doesn't pay the full interactive
	// Argon2id cost on every run; correctness of the scheme doesn't depend
	// on the cost factor.
	return KDFParams{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1}
}

func TestEncryptDecryptPageRoundTrip(t *testing.T) {
	const pageSize = 4096
	const reserved = 64
	usable := pageSize - reserved

	var salt [16]byte
	copy(salt[:], []byte("0123456789abcdef"))

	ct, err := NewCryptoTransform([]byte("hunter2"), salt, fastKDFParams())
	if err != nil {
		t.Fatal(err)
	}

	page := make([]byte, pageSize)
	copy(page[16:usable], bytes.Repeat([]byte("cell-data"), 50))

	plainCopy := append([]byte{}, page...)

	if err := ct.EncryptPage(1, page, usable, reserved); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(page[16:usable], plainCopy[16:usable]) {
		t.Error("page body unchanged after encryption")
	}
	// page 1's first 16 bytes (the format magic) must stay untouched.
	if !bytes.Equal(page[:16], plainCopy[:16]) {
		t.Error("page 1 magic prologue was modified by encryption")
	}

	if err := ct.DecryptPage(1, page, usable, reserved); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(page[:usable], plainCopy[:usable]) {
		t.Errorf("decrypted page does not match original plaintext")
	}
}

func TestDecryptPageWrongKeyFails(t *testing.T) {
	const pageSize = 4096
	const reserved = 64
	usable := pageSize - reserved

	var salt [16]byte
	copy(salt[:], []byte("0123456789abcdef"))

	ct1, err := NewCryptoTransform([]byte("correct-password"), salt, fastKDFParams())
	if err != nil {
		t.Fatal(err)
	}
	ct2, err := NewCryptoTransform([]byte("wrong-password"), salt, fastKDFParams())
	if err != nil {
		t.Fatal(err)
	}

	page := make([]byte, pageSize)
	copy(page[16:usable], []byte("sensitive row data"))

	if err := ct1.EncryptPage(2, page, usable, reserved); err != nil {
		t.Fatal(err)
	}
	if err := ct2.DecryptPage(2, page, usable, reserved); err == nil {
		t.Error("expected authentication failure when decrypting with the wrong key")
	}
}

func TestKDFBlockPersistsOnPageOne(t *testing.T) {
	const pageSize = 4096
	const reserved = 64
	usable := pageSize - reserved

	var salt [16]byte
	copy(salt[:], []byte("0123456789abcdef"))
	params := KDFParams{MemoryKiB: 32 * 1024, Iterations: 2, Parallelism: 2}

	ct, err := NewCryptoTransform([]byte("pw"), salt, params)
	if err != nil {
		t.Fatal(err)
	}
	page1 := make([]byte, pageSize)
	if err := ct.EncryptPage(1, page1, usable, reserved); err != nil {
		t.Fatal(err)
	}

	got, ok := ReadKDFParams(page1, usable)
	if !ok {
		t.Fatal("expected KDF params block to be present on page 1")
	}
	if got != params {
		t.Errorf("KDF params round-tripped as %+v, want %+v", got, params)
	}
}
