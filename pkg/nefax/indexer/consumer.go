package indexer

import (
	"context"
	"errors"
	"io/fs"

	"github.com/jamesainslie/nefaxer/pkg/nefax/diff"
	"github.com/jamesainslie/nefaxer/pkg/nefax/hashing"
	"github.com/jamesainslie/nefaxer/pkg/nefax/types"
	"github.com/jamesainslie/nefaxer/pkg/nefax/walker"
)

// consume is the single consumer loop: optional hashing, the streaming
// callback, diff classification, and write batching. Hashing stays
// sequential here so one lane of reads never competes with the
// metadata workers for descriptors and IOPS.
func (p *pipeline) consume(ctx context.Context, entries <-chan types.Entry, fatal *firstError) (types.Nefax, error) {
	nefax := make(types.Nefax)
	batch := make([]types.Entry, 0, p.tuning.BatchSize)

	for entry := range entries {
		if ctx.Err() != nil {
			continue // drain without work; the walker is shutting down
		}

		if p.opts.WithHash && !entry.IsDir {
			ok, err := p.fillHash(&entry)
			if err != nil {
				fatal.set(err)
				continue
			}
			if !ok {
				continue // vanished mid-run, skipped
			}
		}

		if p.onEntry != nil {
			p.onEntry(entry)
		}

		nefax[entry.Path] = entry.PathMeta
		class := p.engine.Classify(entry)

		if p.opts.DryRun {
			continue
		}
		// With the prior snapshot loaded from the store, the temp copy
		// already holds every unchanged row; only changes need writing.
		// A caller-supplied snapshot says nothing about store contents,
		// so then every observed entry is written.
		if !p.fromCaller && class == diff.Unchanged {
			continue
		}

		batch = append(batch, entry)
		if len(batch) >= p.tuning.BatchSize {
			if err := p.store.UpsertBatch(batch); err != nil {
				fatal.set(err)
			}
			batch = make([]types.Entry, 0, p.tuning.BatchSize)
		}
	}

	if err := fatal.get(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, mapContextErr(ctx.Err())
	}

	if !p.opts.DryRun && len(batch) > 0 {
		if err := p.store.UpsertBatch(batch); err != nil {
			return nil, err
		}
	}
	return nefax, nil
}

// fillHash computes or reuses the content hash for a file entry. The
// shortcut reuses the prior hash when mtime and size agree within the
// window; paranoid runs re-read regardless, so a content change hiding
// behind an unchanged mtime and size still surfaces.
//
// The bool return is false when the file vanished or became unreadable
// and the run policy says to skip it.
func (p *pipeline) fillHash(entry *types.Entry) (bool, error) {
	var prior *types.PathMeta
	if m, ok := p.engine.Prior(entry.Path); ok {
		prior = &m
	}

	if !p.opts.Paranoid && hashing.ShortcutEligible(entry.PathMeta, prior, p.opts.MtimeWindowNS) {
		entry.Hash = prior.Hash
		return true, nil
	}

	h, err := hashing.File(p.absPath(entry.Path))
	if err != nil {
		// A file that disappeared or lost its permissions between the
		// stat and the read is an access error, not an I/O failure.
		var perr *fs.PathError
		if errors.As(err, &perr) && (errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)) {
			if p.opts.Strict {
				return false, err
			}
			p.mu.Lock()
			p.skipped = append(p.skipped, walker.SkippedPath{Path: entry.Path, Err: err.Error()})
			p.mu.Unlock()
			return false, nil
		}
		return false, err
	}
	entry.Hash = h
	return true, nil
}
