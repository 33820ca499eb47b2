// Package walker emits the candidate paths under an indexing root. It
// offers a deterministic serial depth-first mode for media where disk
// contention dominates, and a work-stealing parallel mode built on
// fastwalk for solid-state storage. Exclusion patterns prune subtrees;
// symbolic links are only followed on request, with loop detection.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/nefaxer/pkg/nefax/logging"
)

// Kind distinguishes the two entry kinds the walker reports.
type Kind int

// Entry kinds. Directories are reported only when they contain no
// entries at all; non-empty directories exist implicitly through their
// descendants.
const (
	KindFile Kind = iota
	KindDir
)

// Item is one walk result: the absolute path and its root-relative
// form with forward slashes.
type Item struct {
	Path string
	Rel  string
	Kind Kind
}

// SkippedPath records a path elided by a non-strict access error.
type SkippedPath struct {
	Path string
	Err  string
}

// Options configures a walk.
type Options struct {
	// Root is the absolute, resolved directory to descend.
	Root string

	// Exclude contains glob patterns evaluated against relative paths.
	Exclude []string

	// FollowLinks traverses symbolic links. Loops are detected and
	// broken.
	FollowLinks bool

	// Parallel selects the work-stealing descent over serial DFS.
	Parallel bool

	// Workers bounds the fan-out in parallel mode.
	Workers int

	// Strict turns the first access error into a walk failure.
	Strict bool

	// SkipAbs lists absolute paths never emitted: the store file and
	// its WAL siblings.
	SkipAbs []string
}

// Walker produces the lazy path sequence for one run.
type Walker struct {
	opts    Options
	matcher *Matcher
	skipAbs map[string]struct{}

	mu      sync.Mutex
	skipped []SkippedPath
}

// New creates a walker, compiling the exclusion patterns.
func New(opts Options) (*Walker, error) {
	matcher, err := NewMatcher(opts.Exclude)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]struct{}, len(opts.SkipAbs))
	for _, p := range opts.SkipAbs {
		skip[filepath.Clean(p)] = struct{}{}
	}
	return &Walker{opts: opts, matcher: matcher, skipAbs: skip}, nil
}

// Skipped returns the paths elided by access errors during the walk.
// Valid after Walk returns.
func (w *Walker) Skipped() []SkippedPath {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipped
}

// Walk runs the traversal, invoking emit for every included path. emit
// may block (it typically sends on a bounded channel); returning an
// error from it aborts the walk. In strict mode the first access error
// aborts; otherwise errors are logged, recorded, and skipped.
func (w *Walker) Walk(ctx context.Context, emit func(Item) error) error {
	if w.opts.Parallel {
		return w.walkParallel(ctx, emit)
	}
	visited := map[string]struct{}{}
	if w.opts.FollowLinks {
		// Seed with the root so a link cycle back to it is broken.
		if canon, err := filepath.EvalSymlinks(w.opts.Root); err == nil {
			visited[canon] = struct{}{}
		}
	}
	return w.walkSerial(ctx, w.opts.Root, visited, emit)
}

// accessErr applies the strict/skip policy to a per-path error. A nil
// return means the path was recorded and the walk continues.
func (w *Walker) accessErr(path string, err error) error {
	if w.opts.Strict {
		return fmt.Errorf("access %s: %w", path, err)
	}
	logging.Get("walker").Warn("skipping inaccessible path", "path", path, "error", err)
	w.mu.Lock()
	w.skipped = append(w.skipped, SkippedPath{Path: path, Err: err.Error()})
	w.mu.Unlock()
	return nil
}

// include decides whether abs is emitted, returning its relative form.
func (w *Walker) include(abs string) (rel string, ok bool) {
	if _, skip := w.skipAbs[filepath.Clean(abs)]; skip {
		return "", false
	}
	r, err := filepath.Rel(w.opts.Root, abs)
	if err != nil || r == "." {
		return "", false
	}
	rel = filepath.ToSlash(r)
	if w.matcher.Excluded(rel) {
		return "", false
	}
	return rel, true
}

// walkSerial is the deterministic depth-first descent. Directory
// entries arrive sorted from ReadDir, so the emission order is stable
// for a given tree.
func (w *Walker) walkSerial(ctx context.Context, dir string, visited map[string]struct{}, emit func(Item) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return w.accessErr(dir, err)
	}

	if len(entries) == 0 && dir != w.opts.Root {
		if rel, ok := w.include(dir); ok {
			return emit(Item{Path: dir, Rel: rel, Kind: KindDir})
		}
		return nil
	}

	for _, ent := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		abs := filepath.Join(dir, ent.Name())
		rel, ok := w.include(abs)
		if !ok {
			continue
		}

		typ := ent.Type()
		if typ&fs.ModeSymlink != 0 {
			if !w.opts.FollowLinks {
				continue
			}
			info, err := os.Stat(abs)
			if err != nil {
				if err := w.accessErr(abs, err); err != nil {
					return err
				}
				continue
			}
			if info.IsDir() {
				canon, err := filepath.EvalSymlinks(abs)
				if err != nil {
					if err := w.accessErr(abs, err); err != nil {
						return err
					}
					continue
				}
				if _, seen := visited[canon]; seen {
					continue // link loop
				}
				visited[canon] = struct{}{}
				if err := w.walkSerial(ctx, abs, visited, emit); err != nil {
					return err
				}
				continue
			}
			if info.Mode().IsRegular() {
				if err := emit(Item{Path: abs, Rel: rel, Kind: KindFile}); err != nil {
					return err
				}
			}
			continue
		}

		switch {
		case typ.IsDir():
			if err := w.walkSerial(ctx, abs, visited, emit); err != nil {
				return err
			}
		case typ.IsRegular():
			if err := emit(Item{Path: abs, Rel: rel, Kind: KindFile}); err != nil {
				return err
			}
		}
		// Sockets, pipes, and devices are not indexed.
	}
	return nil
}

// walkParallel is the work-stealing descent built on fastwalk.
// Ordering is unspecified; fan-out is bounded by Workers.
func (w *Walker) walkParallel(ctx context.Context, emit func(Item) error) error {
	var emitMu sync.Mutex

	conf := fastwalk.Config{
		Follow:     w.opts.FollowLinks,
		NumWorkers: w.opts.Workers,
	}

	err := fastwalk.Walk(&conf, w.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			return w.accessErr(path, err)
		}
		if path == w.opts.Root {
			return nil
		}

		rel, ok := w.include(path)
		if !ok {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		item := Item{Path: path, Rel: rel}
		switch {
		case d.IsDir():
			empty, derr := dirIsEmpty(path)
			if derr != nil {
				return w.accessErr(path, derr)
			}
			if !empty {
				return nil
			}
			item.Kind = KindDir
		case d.Type().IsRegular():
			item.Kind = KindFile
		default:
			return nil
		}

		// fastwalk invokes the callback from multiple goroutines; the
		// emit contract is single-caller.
		emitMu.Lock()
		defer emitMu.Unlock()
		return emit(item)
	})
	return err
}

// dirIsEmpty reports whether the directory holds no entries at all.
func dirIsEmpty(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	names, err := f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(names) == 0, nil
}
