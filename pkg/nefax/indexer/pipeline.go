package indexer

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/jamesainslie/nefaxer/pkg/nefax/config"
	"github.com/jamesainslie/nefaxer/pkg/nefax/diff"
	"github.com/jamesainslie/nefaxer/pkg/nefax/store"
	"github.com/jamesainslie/nefaxer/pkg/nefax/tuner"
	"github.com/jamesainslie/nefaxer/pkg/nefax/types"
	"github.com/jamesainslie/nefaxer/pkg/nefax/walker"
)

// pipeline owns one run: walker goroutine, metadata worker pool, and
// the consuming main loop.
type pipeline struct {
	root   string
	opts   config.Options
	tuning *tuner.Tuning
	store  *store.Store
	engine *diff.Engine

	onEntry OnEntry

	// fromCaller means the prior snapshot was supplied by the caller
	// rather than loaded from the store; the store then receives every
	// observed entry, not just the changed ones, so it ends the run
	// holding the complete set.
	fromCaller bool

	logger *log.Logger

	// skipped collects per-path stat failures from the metadata
	// workers and hash-read access failures from the consumer (the
	// walker keeps its own list).
	mu      sync.Mutex
	skipped []walker.SkippedPath
}

// run executes the pipeline graph to completion.
func (p *pipeline) run(ctx context.Context) (types.Nefax, types.Diff, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	fatal := &firstError{cancel: cancel}

	w, err := walker.New(walker.Options{
		Root:        p.root,
		Exclude:     p.opts.Exclude,
		FollowLinks: p.opts.FollowLinks,
		Parallel:    p.tuning.ParallelWalk,
		Workers:     p.tuning.Workers,
		Strict:      p.opts.Strict,
		SkipAbs:     p.storeArtifacts(),
	})
	if err != nil {
		return nil, types.Diff{}, err
	}

	if !p.opts.DryRun {
		if err := p.store.BeginRun(); err != nil {
			return nil, types.Diff{}, err
		}
	}

	depth := channelDepthPerWorker * p.tuning.Workers
	paths := make(chan walker.Item, depth)
	entries := make(chan types.Entry, depth)

	// Walker thread: serial DFS or work-stealing descent, emitting
	// into the bounded path channel.
	var walkWG sync.WaitGroup
	walkWG.Add(1)
	go func() {
		defer walkWG.Done()
		defer close(paths)
		err := w.Walk(runCtx, func(it walker.Item) error {
			select {
			case paths <- it:
				return nil
			case <-runCtx.Done():
				return runCtx.Err()
			}
		})
		if err != nil {
			fatal.set(mapContextErr(err))
		}
	}()

	// Metadata workers: one stat per path, no ordering guarantee.
	var workerWG sync.WaitGroup
	workerWG.Add(p.tuning.Workers)
	for i := 0; i < p.tuning.Workers; i++ {
		go func() {
			defer workerWG.Done()
			p.metadataWorker(runCtx, paths, entries, fatal)
		}()
	}
	go func() {
		workerWG.Wait()
		close(entries)
	}()

	nefax, runErr := p.consume(runCtx, entries, fatal)

	// Channels are closed by now: the walker stops on cancellation and
	// the workers drain behind it.
	walkWG.Wait()

	if runErr == nil {
		runErr = fatal.get()
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = mapContextErr(ctx.Err())
	}

	if runErr != nil {
		if !p.opts.DryRun {
			if rbErr := p.store.Rollback(); rbErr != nil {
				p.logger.Error("rollback failed", "error", rbErr)
			}
		}
		return nil, types.Diff{}, runErr
	}

	d := p.engine.Finish()

	if !p.opts.DryRun {
		if len(d.Removed) > 0 {
			if err := p.store.DeleteBatch(d.Removed); err != nil {
				_ = p.store.Rollback()
				return nil, types.Diff{}, err
			}
		}
		if err := p.store.CommitRun(); err != nil {
			return nil, types.Diff{}, err
		}
	}

	logSkippedBreakdown(append(w.Skipped(), p.statSkipped()...))
	return nefax, d, nil
}

// storeArtifacts lists the absolute paths the walker must never emit:
// the database, its temp sibling, and their WAL companions.
func (p *pipeline) storeArtifacts() []string {
	var out []string
	for _, base := range []string{p.store.Path(), p.store.TempPath()} {
		out = append(out, base, base+"-wal", base+"-shm")
	}
	return out
}

// metadataWorker turns paths into entries via a single stat each.
func (p *pipeline) metadataWorker(ctx context.Context, paths <-chan walker.Item, entries chan<- types.Entry, fatal *firstError) {
	for item := range paths {
		entry, err := p.statEntry(item)
		if err != nil {
			if p.opts.Strict {
				fatal.set(err)
				continue
			}
			p.mu.Lock()
			p.skipped = append(p.skipped, walker.SkippedPath{Path: item.Path, Err: err.Error()})
			p.mu.Unlock()
			continue
		}
		select {
		case entries <- entry:
		case <-ctx.Done():
			// Keep draining paths so the walker is never stuck on a
			// full channel during shutdown.
		}
	}
}

// statEntry performs the single stat for a walk item.
func (p *pipeline) statEntry(item walker.Item) (types.Entry, error) {
	info, err := os.Stat(item.Path)
	if err != nil {
		return types.Entry{}, err
	}
	entry := types.Entry{
		Path:  item.Rel,
		IsDir: item.Kind == walker.KindDir,
	}
	entry.MtimeNS = types.ClampMtime(info.ModTime().UnixNano())
	if !entry.IsDir {
		entry.Size = uint64(info.Size())
	}
	return entry, nil
}

// absPath rebuilds the host path for a relative entry path.
func (p *pipeline) absPath(rel string) string {
	return filepath.Join(p.root, filepath.FromSlash(rel))
}

func (p *pipeline) statSkipped() []walker.SkippedPath {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipped
}
