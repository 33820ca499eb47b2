// Package diff classifies a stream of observed entries against a prior
// snapshot, producing added/modified lists as the stream flows and
// deriving the removed list once the stream terminates.
package diff

import (
	"github.com/jamesainslie/nefaxer/pkg/nefax/hashing"
	"github.com/jamesainslie/nefaxer/pkg/nefax/types"
)

// Class is the classification of a single observed entry.
type Class int

// Entry classifications.
const (
	Added Class = iota
	Modified
	Unchanged
)

// String returns the lower-case name of the class.
func (c Class) String() string {
	switch c {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Unchanged:
		return "unchanged"
	default:
		return "invalid"
	}
}

// Engine holds the prior snapshot read-only and tracks which of its
// keys have been seen in the current stream. It is driven from a single
// goroutine (the pipeline consumer).
type Engine struct {
	prior    types.Nefax
	windowNS int64
	seen     map[string]struct{}
	diff     types.Diff
	done     bool
}

// NewEngine creates an engine for one run. prior may be nil or empty,
// in which case every entry classifies as added.
func NewEngine(prior types.Nefax, windowNS int64) *Engine {
	return &Engine{
		prior:    prior,
		windowNS: windowNS,
		seen:     make(map[string]struct{}, len(prior)),
	}
}

// Prior looks up the prior record for a path. The second return is
// false when the path was not in the snapshot.
func (e *Engine) Prior(path string) (types.PathMeta, bool) {
	m, ok := e.prior[path]
	return m, ok
}

// Classify compares one observed entry against the snapshot, records it
// as seen, and accumulates added/modified. The comparison rule: equal
// size, mtime within the window, and — when both sides carry a hash —
// equal hashes.
func (e *Engine) Classify(entry types.Entry) Class {
	e.seen[entry.Path] = struct{}{}

	prior, ok := e.prior[entry.Path]
	if !ok {
		e.diff.Added = append(e.diff.Added, entry.Path)
		return Added
	}
	if e.equal(entry.PathMeta, prior) {
		return Unchanged
	}
	e.diff.Modified = append(e.diff.Modified, entry.Path)
	return Modified
}

func (e *Engine) equal(cur, prior types.PathMeta) bool {
	if cur.Size != prior.Size {
		return false
	}
	if !types.MtimeWithin(cur.MtimeNS, prior.MtimeNS, e.windowNS) {
		return false
	}
	if cur.Hash != nil && prior.Hash != nil {
		return hashing.Equal(cur.Hash, prior.Hash)
	}
	return true
}

// Finish derives the removed list from prior keys never seen in the
// stream and returns the completed diff. Calling Finish more than once
// returns the same diff without recomputing.
func (e *Engine) Finish() types.Diff {
	if e.done {
		return e.diff
	}
	for p := range e.prior {
		if _, ok := e.seen[p]; !ok {
			e.diff.Removed = append(e.diff.Removed, p)
		}
	}
	e.done = true
	return e.diff
}
