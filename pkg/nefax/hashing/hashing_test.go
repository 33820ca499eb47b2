package hashing

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/jamesainslie/nefaxer/pkg/nefax/types"
)

func TestFileMatchesSum(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := File(path)
	if err != nil {
		t.Fatalf("File() = %v", err)
	}
	if len(got) != types.HashSize {
		t.Fatalf("hash length = %d, want %d", len(got), types.HashSize)
	}
	if !bytes.Equal(got, Sum(content)) {
		t.Error("File() and Sum() disagree on identical content")
	}
}

func TestFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := File(path)
	if err != nil {
		t.Fatalf("File() = %v", err)
	}
	if !bytes.Equal(got, Sum(nil)) {
		t.Error("empty file hash differs from Sum(nil)")
	}
}

func TestFileLargerThanChunk(t *testing.T) {
	data := bytes.Repeat([]byte{0x5a}, readChunkSize*2+17)
	path := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := File(path)
	if err != nil {
		t.Fatalf("File() = %v", err)
	}
	if !bytes.Equal(got, Sum(data)) {
		t.Error("chunked hash differs from one-shot hash")
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("File() on missing path succeeded")
	}
}

func TestEqual(t *testing.T) {
	a := Sum([]byte("a"))
	b := Sum([]byte("b"))

	if !Equal(nil, nil) {
		t.Error("Equal(nil, nil) = false")
	}
	if Equal(a, nil) || Equal(nil, a) {
		t.Error("present hash equals absent hash")
	}
	if !Equal(a, a) {
		t.Error("Equal(a, a) = false")
	}
	if Equal(a, b) {
		t.Error("Equal(a, b) = true for distinct content")
	}
}

func TestShortcutEligible(t *testing.T) {
	hash := Sum([]byte("content"))
	prior := types.PathMeta{MtimeNS: 1000, Size: 7, Hash: hash}

	tests := []struct {
		name   string
		cur    types.PathMeta
		prior  *types.PathMeta
		window int64
		want   bool
	}{
		{"exact match", types.PathMeta{MtimeNS: 1000, Size: 7}, &prior, 0, true},
		{"within window", types.PathMeta{MtimeNS: 1500, Size: 7}, &prior, 600, true},
		{"outside window", types.PathMeta{MtimeNS: 2000, Size: 7}, &prior, 600, false},
		{"size differs", types.PathMeta{MtimeNS: 1000, Size: 8}, &prior, 0, false},
		{"no prior", types.PathMeta{MtimeNS: 1000, Size: 7}, nil, 0, false},
		{
			"prior without hash",
			types.PathMeta{MtimeNS: 1000, Size: 7},
			&types.PathMeta{MtimeNS: 1000, Size: 7},
			0,
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShortcutEligible(tt.cur, tt.prior, tt.window); got != tt.want {
				t.Errorf("ShortcutEligible() = %v, want %v", got, tt.want)
			}
		})
	}
}
