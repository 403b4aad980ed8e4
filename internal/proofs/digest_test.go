package proofs

import (
	"strings"
	"testing"
)

func TestContentDigestKnownVector(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := ContentDigest([]byte("abc")); got != want {
		t.Fatalf("unexpected digest: %s", got)
	}
}

func TestDigestsAreDeterministic(t *testing.T) {
	inputs := [][]byte{nil, []byte("x"), []byte("%PDF-1.7 certificate"), make([]byte, 4096)}
	for _, in := range inputs {
		if ContentDigest(in) != ContentDigest(in) {
			t.Fatalf("content digest not deterministic for %q", in)
		}
		if ScanDigest(in) != ScanDigest(in) {
			t.Fatalf("scan digest not deterministic for %q", in)
		}
	}
}

func TestScanDigestIsSalted(t *testing.T) {
	inputs := [][]byte{[]byte("a"), []byte("scan_"), []byte("diploma.png bytes")}
	for _, in := range inputs {
		if ScanDigest(in) == ContentDigest(in) {
			t.Fatalf("scan digest equals content digest for %q", in)
		}
	}
	if ScanDigest([]byte("abc")) != ContentDigest([]byte("scan_b'abc'")) {
		t.Fatal("scan digest must hash the prefix followed by the bytes literal")
	}
}

func TestScanDigestKnownVectors(t *testing.T) {
	cases := []struct {
		in   []byte
		want string
	}{
		{[]byte("abc"), "4f02dcc9d9734a01884c754c45711f63b91eded4ed4cbbed6dd4a1a44e23ead5"},
		{[]byte("it's"), "8fff195ac91249c1b86c6045b7a67eba4b287d29b5e0ff9376ac58c1aca712c1"},
		{[]byte("a\"b'c\\\n\x00\xff"), "3706a40f97172990ae3c4851ab3dcc14e3b9f6ebc37abb8ce8497d400e77c9ed"},
	}
	for _, tc := range cases {
		if got := ScanDigest(tc.in); got != tc.want {
			t.Fatalf("scan digest of %q: got %s want %s", tc.in, got, tc.want)
		}
	}
}

func TestBytesLiteral(t *testing.T) {
	cases := map[string]string{
		"":             "b''",
		"abc":          "b'abc'",
		"it's":         `b"it's"`,
		"a\"b'c":       `b'a"b\'c'`,
		"\t\r\n\\":     `b'\t\r\n\\'`,
		"\x00\x7f\xff": `b'\x00\x7f\xff'`,
		"%PDF-1.7":     "b'%PDF-1.7'",
	}
	for in, want := range cases {
		if got := bytesLiteral([]byte(in)); got != want {
			t.Fatalf("bytesLiteral(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestComputeCID(t *testing.T) {
	fp, err := Compute([]byte("abc"))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// base32 CIDv1 strings start with the multibase prefix "b".
	if !strings.HasPrefix(fp.CID, "bafk") {
		t.Fatalf("unexpected cid: %s", fp.CID)
	}
	again, _ := CID([]byte("abc"))
	if again != fp.CID {
		t.Fatalf("cid not deterministic: %s vs %s", again, fp.CID)
	}
	if fp.ContentDigest != ContentDigest([]byte("abc")) || fp.ScanDigest != ScanDigest([]byte("abc")) {
		t.Fatalf("fingerprint mismatch: %+v", fp)
	}
}
