package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/jamesainslie/nefaxer/pkg/nefax/types"
)

// writeOp is one unit of work for the writer pool: a batch of upserts
// or a batch of deletes, each applied in its own transaction.
type writeOp struct {
	upserts []types.Entry
	deletes []string
}

// writerPool commits batches through a bounded queue. WAL serializes
// the actual writers, but keeping per-transaction batches small and
// overlapping commit fsyncs with batch assembly is what the pool buys.
type writerPool struct {
	db    *sql.DB
	queue chan writeOp
	wg    sync.WaitGroup

	mu       sync.Mutex
	firstErr error
	closed   bool
}

// newWriterPool starts size writer goroutines over db. The queue holds
// twice the pool size; a full queue blocks the consumer, which is the
// intended back-pressure.
func newWriterPool(db *sql.DB, size int) *writerPool {
	if size < 1 {
		size = 1
	}
	p := &writerPool{
		db:    db,
		queue: make(chan writeOp, size*2),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// enqueue submits a batch, blocking while the queue is full. Returns
// the pool's first error, if any writer already failed, so the caller
// can cancel the run instead of queueing into a broken pool.
func (p *writerPool) enqueue(op writeOp) error {
	if err := p.err(); err != nil {
		return err
	}
	p.queue <- op
	return nil
}

// close drains the queue, waits for the writers, and returns the first
// error any of them hit.
func (p *writerPool) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.firstErr
	}
	p.closed = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
	return p.err()
}

func (p *writerPool) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstErr
}

func (p *writerPool) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.firstErr == nil {
		p.firstErr = err
	}
}

func (p *writerPool) worker() {
	defer p.wg.Done()
	for op := range p.queue {
		if p.err() != nil {
			continue // drain without work after a failure
		}
		if err := p.apply(op); err != nil {
			p.setErr(err)
		}
	}
}

// apply commits one batch in a single transaction.
func (p *writerPool) apply(op writeOp) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	if len(op.upserts) > 0 {
		stmt, err := tx.Prepare(upsertPathSQL)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		for _, e := range op.upserts {
			if _, err := stmt.Exec(e.Path, e.MtimeNS, int64(e.Size), e.Hash); err != nil {
				stmt.Close()
				return fmt.Errorf("upsert %s: %w", e.Path, err)
			}
		}
		stmt.Close()
	}

	if len(op.deletes) > 0 {
		stmt, err := tx.Prepare(deletePathSQL)
		if err != nil {
			return fmt.Errorf("prepare delete: %w", err)
		}
		for _, path := range op.deletes {
			if _, err := stmt.Exec(path); err != nil {
				stmt.Close()
				return fmt.Errorf("delete %s: %w", path, err)
			}
		}
		stmt.Close()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
