// Package types provides the core data model for the nefaxer indexer:
// per-path metadata records, the in-memory snapshot map, and the
// three-way diff returned by an indexing run.
package types

import (
	"errors"
	"fmt"
	"strings"
)

// HashSize is the length in bytes of a content hash (Blake3-256).
const HashSize = 32

// PathMeta is the metadata stored for a single path. Directories have
// size 0 and never carry a hash; files carry a hash only when hashing
// was enabled on the run that produced the record.
type PathMeta struct {
	// MtimeNS is the modification time in nanoseconds since the epoch.
	MtimeNS int64

	// Size is the file size in bytes (0 for directories).
	Size uint64

	// Hash is the Blake3 content hash, or nil if not computed.
	Hash []byte
}

// Entry is a PathMeta annotated with the path it was observed at.
// Path is relative to the indexed root, uses forward slashes, and is
// never empty.
type Entry struct {
	Path string
	PathMeta

	// IsDir marks directory entries. Not persisted; the store encodes
	// directories as size-0 rows without a hash.
	IsDir bool
}

// Nefax maps relative path to PathMeta. It mirrors the on-disk paths
// table and is returned to the caller after a run.
type Nefax map[string]PathMeta

// Diff is the result of comparing a run against a prior snapshot.
// A path appears in at most one of the three lists.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Total returns the number of changed paths across all three lists.
func (d *Diff) Total() int {
	return len(d.Added) + len(d.Removed) + len(d.Modified)
}

// Empty reports whether no changes were detected.
func (d *Diff) Empty() bool {
	return d.Total() == 0
}

// Error kinds. Wrapped errors from the pipeline satisfy errors.Is
// against these sentinels.
var (
	// ErrNotDirectory is returned when the indexing root is not a directory.
	ErrNotDirectory = errors.New("root is not a directory")

	// ErrInvalidPath is returned when a supplied snapshot contains a key
	// that is not a normalized relative path.
	ErrInvalidPath = errors.New("invalid relative path")

	// ErrInvalidOptions is returned for option combinations the
	// orchestrator rejects before starting any worker.
	ErrInvalidOptions = errors.New("invalid options")

	// ErrInvalidMeta is returned when a supplied snapshot contains
	// metadata violating the model invariants.
	ErrInvalidMeta = errors.New("invalid path metadata")

	// ErrCancelled is returned when a run is aborted cooperatively.
	ErrCancelled = errors.New("run cancelled")

	// ErrSchemaMismatch is returned when the store file exists but does
	// not carry the expected schema.
	ErrSchemaMismatch = errors.New("store schema mismatch")
)

// ValidateRelPath checks that p is a normalized relative path: non-empty,
// forward slashes only, no leading slash, and no "." or ".." segments.
func ValidateRelPath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.ContainsRune(p, '\\') {
		return fmt.Errorf("%w: %q contains backslash", ErrInvalidPath, p)
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "":
			return fmt.Errorf("%w: %q has empty segment", ErrInvalidPath, p)
		case ".", "..":
			return fmt.Errorf("%w: %q has %q segment", ErrInvalidPath, p, seg)
		}
	}
	return nil
}

// ValidateMeta checks the PathMeta invariants: non-negative mtime, size
// below 2^63, and a hash of exactly HashSize bytes when present.
func ValidateMeta(m PathMeta) error {
	if m.MtimeNS < 0 {
		return fmt.Errorf("%w: mtime_ns %d is negative", ErrInvalidMeta, m.MtimeNS)
	}
	if m.Size >= 1<<63 {
		return fmt.Errorf("%w: size %d out of range", ErrInvalidMeta, m.Size)
	}
	if m.Hash != nil && len(m.Hash) != HashSize {
		return fmt.Errorf("%w: hash is %d bytes, want %d", ErrInvalidMeta, len(m.Hash), HashSize)
	}
	return nil
}

// ValidateNefax checks every key and value of a caller-supplied snapshot.
// The orchestrator calls this before starting any worker.
func ValidateNefax(n Nefax) error {
	for p, m := range n {
		if err := ValidateRelPath(p); err != nil {
			return err
		}
		if err := ValidateMeta(m); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// MtimeWithin reports whether two modification times agree within the
// tolerance window.
func MtimeWithin(a, b, windowNS int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= windowNS
}

// ClampMtime maps a raw modification timestamp into the plausible
// interval [0, 2^63). Filesystems occasionally report pre-epoch times;
// those are clamped to 0 rather than stored as negative values.
func ClampMtime(ns int64) int64 {
	if ns < 0 {
		return 0
	}
	return ns
}
