// Package indexer wires the pipeline together: drive tuning, the
// walker, the metadata worker pool, the hashing consumer, the diff
// engine, and the store writer pool. One call to Index runs the whole
// graph to completion and returns the fresh snapshot plus the diff
// against the prior one.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jamesainslie/nefaxer/pkg/nefax/config"
	"github.com/jamesainslie/nefaxer/pkg/nefax/diff"
	"github.com/jamesainslie/nefaxer/pkg/nefax/logging"
	"github.com/jamesainslie/nefaxer/pkg/nefax/store"
	"github.com/jamesainslie/nefaxer/pkg/nefax/tuner"
	"github.com/jamesainslie/nefaxer/pkg/nefax/types"
	"github.com/jamesainslie/nefaxer/pkg/nefax/walker"
)

// OnEntry is the streaming callback invoked for each finalized entry
// before it enters the write batch. It runs synchronously on the
// consumer; it must not block on work that depends on pipeline
// progress.
type OnEntry func(types.Entry)

// channelDepthPerWorker sizes the bounded path and entry channels.
// Resident set stays proportional to pipeline depth, not tree size.
const channelDepthPerWorker = 8

// Index indexes root with the given options, diffs against the prior
// snapshot, and commits the fresh snapshot to the store.
//
// The prior snapshot is the store's persisted set, unless existing is
// non-nil, in which case the diff runs against it instead. onEntry may
// be nil. On any fatal error the pipeline is cancelled, the store
// rolled back, and no diff is returned.
func Index(ctx context.Context, root string, opts config.Options, existing types.Nefax, onEntry OnEntry) (types.Nefax, types.Diff, error) {
	logger := logging.Get("indexer")

	if err := opts.Validate(); err != nil {
		return nil, types.Diff{}, err
	}
	if existing != nil {
		if err := types.ValidateNefax(existing); err != nil {
			return nil, types.Diff{}, err
		}
	}

	absRoot, err := resolveRoot(root)
	if err != nil {
		return nil, types.Diff{}, err
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(absRoot, config.DBName)
	}

	st, err := store.Open(dbPath, store.Options{
		Encrypt:     opts.Encrypt,
		KeyProvider: store.KeyProvider(opts.KeyProvider),
	})
	if err != nil {
		return nil, types.Diff{}, err
	}
	defer st.Close()

	tuning := opts.TuningOverride()
	if tuning == nil {
		t := tuner.Detect(absRoot, opts.MaxThreads, st)
		tuning = &t
	}
	st.SetWriterPoolSize(tuning.WriterPoolSize)
	logger.Debug("pipeline tuned",
		"drive", string(tuning.Drive), "workers", tuning.Workers,
		"parallel_walk", tuning.ParallelWalk, "writer_pool", tuning.WriterPoolSize,
		"batch_size", tuning.BatchSize)

	prior := existing
	if prior == nil {
		prior, err = st.Snapshot()
		if err != nil {
			return nil, types.Diff{}, err
		}
	}

	p := &pipeline{
		root:       absRoot,
		opts:       opts,
		tuning:     tuning,
		store:      st,
		engine:     diff.NewEngine(prior, opts.MtimeWindowNS),
		onEntry:    onEntry,
		fromCaller: existing != nil,
		logger:     logger,
	}
	return p.run(ctx)
}

// resolveRoot canonicalizes the root and verifies it is a directory.
func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", types.ErrNotDirectory, abs)
	}
	return abs, nil
}

// firstError records the first fatal error of a run and triggers
// cancellation.
type firstError struct {
	once   sync.Once
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func (f *firstError) set(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		f.cancel()
	})
}

func (f *firstError) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// logSkippedBreakdown warns once per run with a per-error count of the
// paths a non-strict walk elided.
func logSkippedBreakdown(skipped []walker.SkippedPath) {
	if len(skipped) == 0 {
		return
	}
	logger := logging.Get("indexer")
	byMsg := make(map[string]int)
	for _, s := range skipped {
		byMsg[s.Err]++
	}
	logger.Warn("paths skipped due to access errors", "total", len(skipped))
	for msg, count := range byMsg {
		logger.Warn("skipped", "error", msg, "count", count)
	}
}

// mapContextErr converts context cancellation into the run's Cancelled
// error kind.
func mapContextErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", types.ErrCancelled, err)
	}
	return err
}
