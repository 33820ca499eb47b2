// Package hashing computes Blake3 content hashes for the indexing
// pipeline and implements the hash-reuse shortcut predicate.
package hashing

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"

	"github.com/jamesainslie/nefaxer/pkg/nefax/types"
)

// readChunkSize is the buffer size for streaming file reads into the
// hasher.
const readChunkSize = 1024 * 1024

// File computes the Blake3-256 hash of the file at path. The file is
// read in chunks; Blake3 keeps up with disk throughput on a single
// lane, so no parallel tree hashing is requested.
func File(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	h := blake3.New(types.HashSize, nil)
	if _, err := io.Copy(h, bufio.NewReaderSize(f, readChunkSize)); err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

// Sum hashes an in-memory buffer. Used by tests and small-payload
// callers.
func Sum(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}

// Equal compares two optional hashes. Two absent hashes are equal; an
// absent hash never equals a present one.
func Equal(a, b []byte) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return bytes.Equal(a, b)
}

// ShortcutEligible reports whether a prior record's hash can be reused
// for the current observation without re-reading the file: same size,
// mtime within the window, and a well-formed prior hash. Paranoid runs
// ignore this and re-read regardless.
func ShortcutEligible(cur types.PathMeta, prior *types.PathMeta, windowNS int64) bool {
	if prior == nil || len(prior.Hash) != types.HashSize {
		return false
	}
	return cur.Size == prior.Size && types.MtimeWithin(cur.MtimeNS, prior.MtimeNS, windowNS)
}
