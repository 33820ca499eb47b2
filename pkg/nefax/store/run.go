package store

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/jamesainslie/nefaxer/pkg/nefax/logging"
	"github.com/jamesainslie/nefaxer/pkg/nefax/types"
)

// run is the state of one write lifecycle, from BeginRun to CommitRun
// or Rollback. Writes target a temp copy of the database; the final
// file is only touched by the commit rename.
type run struct {
	id       string
	tempPath string
	db       *sql.DB
	pool     *writerPool
	mem      *memBuffer
}

// memBuffer accumulates a small run's writes for a single flush at
// commit. Last write wins per path, matching upsert semantics.
type memBuffer struct {
	upserts map[string]types.PathMeta
	deletes map[string]struct{}
}

// BeginRun starts a write lifecycle. The existing database, if any, is
// copied to the temp sibling so the prior snapshot stays untouched
// until commit. Runs whose estimated entry count is below
// SmallTreeThreshold buffer in memory instead of starting the writer
// pool; the observable semantics are identical.
func (s *Store) BeginRun() error {
	if s.run != nil {
		return fmt.Errorf("%w: run already in progress", types.ErrInvalidOptions)
	}

	temp := s.TempPath()
	removeWALSiblings(temp)
	if err := os.Remove(temp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale temp store: %w", err)
	}
	if _, err := os.Stat(s.path); err == nil {
		// Fold any pending WAL frames (diskinfo refreshes, prior runs)
		// into the main file so the copy is complete.
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return fmt.Errorf("checkpoint before copy: %w", err)
		}
		if err := copyFile(s.path, temp); err != nil {
			return fmt.Errorf("copy store to temp: %w", err)
		}
	}

	r := &run{id: uuid.NewString(), tempPath: temp}

	if s.EstimatedCount() < SmallTreeThreshold {
		r.mem = &memBuffer{
			upserts: make(map[string]types.PathMeta),
			deletes: make(map[string]struct{}),
		}
	} else {
		db, err := openDatabase(temp, s.key)
		if err != nil {
			return err
		}
		if err := ensureSchema(db); err != nil {
			db.Close()
			return err
		}
		db.SetMaxOpenConns(s.opts.WriterPoolSize)
		r.db = db
		r.pool = newWriterPool(db, s.opts.WriterPoolSize)
	}

	s.run = r
	logging.Get("store").Debug("run started",
		"run_id", r.id, "temp", temp, "buffered", r.mem != nil)
	return nil
}

// UpsertBatch queues one batch of entries for writing. Blocks when the
// writer queue is full; this is the pipeline's back-pressure into the
// consumer.
func (s *Store) UpsertBatch(entries []types.Entry) error {
	r := s.run
	if r == nil {
		return fmt.Errorf("%w: no run in progress", types.ErrInvalidOptions)
	}
	if r.mem != nil {
		for _, e := range entries {
			delete(r.mem.deletes, e.Path)
			r.mem.upserts[e.Path] = e.PathMeta
		}
		return nil
	}
	return r.pool.enqueue(writeOp{upserts: entries})
}

// DeleteBatch queues paths for removal from the snapshot.
func (s *Store) DeleteBatch(paths []string) error {
	r := s.run
	if r == nil {
		return fmt.Errorf("%w: no run in progress", types.ErrInvalidOptions)
	}
	if r.mem != nil {
		for _, p := range paths {
			delete(r.mem.upserts, p)
			r.mem.deletes[p] = struct{}{}
		}
		return nil
	}
	return r.pool.enqueue(writeOp{deletes: paths})
}

// CommitRun drains the writers, checkpoints the WAL, and atomically
// renames the temp database over the final path. After a successful
// commit the new snapshot is what every subsequent open sees.
func (s *Store) CommitRun() error {
	r := s.run
	if r == nil {
		return fmt.Errorf("%w: no run in progress", types.ErrInvalidOptions)
	}

	if r.mem != nil {
		if err := s.flushMem(r); err != nil {
			s.abortRun(r)
			return err
		}
	} else {
		if err := r.pool.close(); err != nil {
			s.abortRun(r)
			return err
		}
		if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.abortRun(r)
			return fmt.Errorf("checkpoint WAL: %w", err)
		}
		if err := r.db.Close(); err != nil {
			r.db = nil
			s.abortRun(r)
			return fmt.Errorf("close temp store: %w", err)
		}
		r.db = nil
	}

	// The read handle still points at the old inode; drop it before
	// the rename and reopen on the new file.
	if err := s.db.Close(); err != nil {
		s.abortRun(r)
		return fmt.Errorf("close store for commit: %w", err)
	}
	s.db = nil

	if err := os.Rename(r.tempPath, s.path); err != nil {
		s.run = nil
		if roErr := s.reopen(); roErr != nil {
			logging.Get("store").Error("reopen after failed commit", "error", roErr)
		}
		return fmt.Errorf("rename temp store into place: %w", err)
	}
	removeWALSiblings(r.tempPath)
	removeWALSiblings(s.path)
	s.run = nil

	if err := s.reopen(); err != nil {
		return err
	}
	logging.Get("store").Debug("run committed", "run_id", r.id)
	return nil
}

// flushMem writes a buffered small-tree run to the temp database in
// one transaction.
func (s *Store) flushMem(r *run) error {
	db, err := openDatabase(r.tempPath, s.key)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := ensureSchema(db); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin flush transaction: %w", err)
	}
	defer tx.Rollback()

	up, err := tx.Prepare(upsertPathSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer up.Close()
	for path, meta := range r.mem.upserts {
		if _, err := up.Exec(path, meta.MtimeNS, int64(meta.Size), meta.Hash); err != nil {
			return fmt.Errorf("flush upsert %s: %w", path, err)
		}
	}

	del, err := tx.Prepare(deletePathSQL)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer del.Close()
	for path := range r.mem.deletes {
		if _, err := del.Exec(path); err != nil {
			return fmt.Errorf("flush delete %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}
	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint WAL: %w", err)
	}
	return nil
}

// Rollback abandons the run; the prior snapshot is untouched.
func (s *Store) Rollback() error {
	r := s.run
	if r == nil {
		return nil
	}
	s.abortRun(r)
	logging.Get("store").Debug("run rolled back", "run_id", r.id)
	return nil
}

// abortRun tears down run resources and deletes the temp file.
func (s *Store) abortRun(r *run) {
	if r.pool != nil {
		_ = r.pool.close()
		r.pool = nil
	}
	if r.db != nil {
		_ = r.db.Close()
		r.db = nil
	}
	removeWALSiblings(r.tempPath)
	_ = os.Remove(r.tempPath)
	s.run = nil
}
