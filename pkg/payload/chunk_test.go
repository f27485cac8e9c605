package payload

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"
)

func TestChunkReassemblyRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	payloads := [][]byte{
		{},
		[]byte("x"),
		[]byte("print('hello')\n"),
		bytes.Repeat([]byte{0x00, 0xff, 0x10}, 1000),
	}
	random := make([]byte, 20000)
	rng.Read(random)
	payloads = append(payloads, random)

	for _, p := range payloads {
		encoded := Encode(p)
		for _, size := range []int{1, 2, 3, 4, 7, 100, 6000, len(encoded) + 1} {
			if size < 1 {
				continue
			}
			chunks, err := Chunk(encoded, size)
			if err != nil {
				t.Fatalf("Chunk() error: %v", err)
			}
			got, err := Decode(Join(chunks))
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if !bytes.Equal(got, p) {
				t.Errorf("round trip mismatch for %d-byte payload with chunk size %d", len(p), size)
			}
		}
	}
}

func TestChunkSizes(t *testing.T) {
	chunks, err := Chunk("abcdefghij", 4)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	want := []string{"abcd", "efgh", "ij"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d: expected %q, got %q", i, want[i], chunks[i])
		}
	}
}

func TestChunkRejectsZeroSize(t *testing.T) {
	if _, err := Chunk("abc", 0); err == nil {
		t.Fatal("expected error for chunk size 0")
	}
}

func TestDecodeIgnoresWrapping(t *testing.T) {
	encoded := Encode([]byte("some longer content that wraps"))
	wrapped := encoded[:10] + "\r\n" + encoded[10:20] + "\n  " + encoded[20:]
	got, err := Decode(wrapped)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if string(got) != "some longer content that wraps" {
		t.Errorf("unexpected decode result %q", got)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	in := []byte(strings.Repeat("INSERT OR IGNORE INTO knowledge_items VALUES (...);\n", 200))
	z, err := Compress(in)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if len(z) >= len(in) {
		t.Errorf("expected compressed size below %d, got %d", len(in), len(z))
	}
	out, err := Decompress(z)
	if err != nil {
		t.Fatalf("Decompress() error: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Error("decompressed payload differs from input")
	}
}

func TestNewMarkerUnique(t *testing.T) {
	a, b := NewMarker(""), NewMarker("")
	if a.String() == b.String() {
		t.Fatalf("expected unique markers, got %s twice", a)
	}
	if !strings.HasPrefix(a.String(), DefaultMarkerPrefix+"_") {
		t.Errorf("expected default prefix, got %s", a)
	}
	if a.Head+a.Tail != a.String() {
		t.Errorf("expected marker halves to join into %s", a)
	}
}
