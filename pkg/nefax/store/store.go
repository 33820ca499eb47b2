// Package store persists path snapshots in an embedded SQLite database
// running in write-ahead-log mode, with optional SQLCipher page
// encryption. A run writes to a temp copy of the database through a
// bounded writer pool and atomically replaces the original on commit,
// so a crashed or failed run never leaves a half-written snapshot
// behind.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	// Registers the "sqlite3" driver with SQLCipher support compiled in.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/jamesainslie/nefaxer/pkg/nefax/logging"
	"github.com/jamesainslie/nefaxer/pkg/nefax/tuner"
	"github.com/jamesainslie/nefaxer/pkg/nefax/types"
)

// SmallTreeThreshold is the estimated entry count below which a run
// buffers writes in memory and flushes once at commit instead of
// streaming batches through the writer pool.
const SmallTreeThreshold = 10000

// KeyProvider yields the SQLCipher passphrase on demand.
type KeyProvider func() (string, error)

// Options configures an opened store.
type Options struct {
	// Encrypt opens the database through the SQLCipher page layer.
	Encrypt bool

	// KeyProvider supplies the passphrase. Required when Encrypt is
	// set; also consulted when an existing file turns out to be
	// encrypted.
	KeyProvider KeyProvider

	// WriterPoolSize bounds the writer goroutines of a run. Zero
	// means 1.
	WriterPoolSize int

	// BatchSize is defaulted to 512 when zero but not otherwise used by
	// the store: each UpsertBatch call is committed as one transaction,
	// so the caller's batch length sets the transaction size.
	BatchSize int
}

// Store is a durable mapping from relative path to PathMeta with a
// sibling diskinfo cache. Safe for use by the single pipeline consumer
// plus concurrent DiskInfo reads.
type Store struct {
	path string
	opts Options
	key  string // resolved passphrase, empty when unencrypted
	db   *sql.DB
	run  *run
}

// Open opens or creates the store at path. An existing encrypted
// database is detected by a failed keyless read, after which the key
// provider is consulted and the open retried.
func Open(path string, opts Options) (*Store, error) {
	if opts.WriterPoolSize < 1 {
		opts.WriterPoolSize = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 512
	}

	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s := &Store{path: path, opts: opts}

	key := ""
	if opts.Encrypt {
		if opts.KeyProvider == nil {
			return nil, fmt.Errorf("%w: encryption requires a key provider", types.ErrInvalidOptions)
		}
		k, err := opts.KeyProvider()
		if err != nil {
			return nil, fmt.Errorf("obtain store key: %w", err)
		}
		key = k
	}

	db, err := openDatabase(path, key)
	if err == nil {
		err = probeReadable(db)
	}
	if err != nil && key == "" && opts.KeyProvider != nil && looksEncrypted(err) {
		// Keyless read failed on what is probably an encrypted file.
		if db != nil {
			db.Close()
		}
		k, kerr := opts.KeyProvider()
		if kerr != nil {
			return nil, fmt.Errorf("obtain store key: %w", kerr)
		}
		key = k
		db, err = openDatabase(path, key)
		if err == nil {
			err = probeReadable(db)
		}
	}
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	s.db = db
	s.key = key

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Get("store").Debug("store opened", "path", path, "encrypted", key != "")
	return s, nil
}

// dsn builds the driver DSN with WAL pragmas and, when key is set, the
// SQLCipher key pragma.
func dsn(path, key string) string {
	params := "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	if key != "" {
		params += "&_pragma_key=" + url.QueryEscape(key)
	}
	return path + "?" + params
}

func openDatabase(path, key string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path, key))
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	return db, nil
}

// probeReadable forces an actual page read so a wrong or missing key
// surfaces here rather than mid-run.
func probeReadable(db *sql.DB) error {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master").Scan(&n); err != nil {
		return fmt.Errorf("read store: %w", err)
	}
	return nil
}

// looksEncrypted reports whether a read failure is the signature of an
// encrypted (or corrupt) database opened without its key.
func looksEncrypted(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "file is encrypted")
}

// ensureSchema creates missing tables and verifies the expected shape.
func ensureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	// CREATE IF NOT EXISTS leaves a pre-existing wrong-shaped table
	// alone; probe the columns to catch that.
	if _, err := db.Exec(snapshotSQL + " LIMIT 0"); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSchemaMismatch, err)
	}
	if _, err := db.Exec(getDiskInfoSQL+" LIMIT 0", ""); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSchemaMismatch, err)
	}
	return nil
}

// Snapshot loads the complete persisted set into a Nefax map.
func (s *Store) Snapshot() (types.Nefax, error) {
	rows, err := s.db.Query(snapshotSQL)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	nefax := make(types.Nefax)
	for rows.Next() {
		var (
			path  string
			mtime int64
			size  int64
			hash  []byte
		)
		if err := rows.Scan(&path, &mtime, &size, &hash); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if size < 0 {
			size = 0
		}
		nefax[path] = types.PathMeta{MtimeNS: mtime, Size: uint64(size), Hash: hash}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}
	return nefax, nil
}

// EstimatedCount returns the persisted entry count, used to pick the
// small-tree write path. Errors degrade to 0.
func (s *Store) EstimatedCount() int {
	var n int64
	if err := s.db.QueryRow(countPathsSQL).Scan(&n); err != nil {
		return 0
	}
	if n < 0 {
		return 0
	}
	return int(n)
}

// DiskInfo returns the cached drive-probe record for a root, or nil
// when none is stored. Satisfies tuner.InfoCache.
func (s *Store) DiskInfo(root string) (*tuner.DiskInfo, error) {
	var data string
	err := s.db.QueryRow(getDiskInfoSQL, root).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load diskinfo: %w", err)
	}
	var info tuner.DiskInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("parse diskinfo: %w", err)
	}
	return &info, nil
}

// PutDiskInfo stores the drive-probe record for a root.
func (s *Store) PutDiskInfo(root string, info *tuner.DiskInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("serialize diskinfo: %w", err)
	}
	if _, err := s.db.Exec(putDiskInfoSQL, root, string(data)); err != nil {
		return fmt.Errorf("store diskinfo: %w", err)
	}
	return nil
}

// SetWriterPoolSize adjusts the writer pool for the next run. The
// orchestrator calls this once drive detection has produced a tuning;
// detection itself needs the store open for the diskinfo cache, so the
// pool size cannot be final at Open time.
func (s *Store) SetWriterPoolSize(n int) {
	if n < 1 {
		n = 1
	}
	s.opts.WriterPoolSize = n
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// TempPath returns the temp sibling a run writes to before the commit
// rename.
func (s *Store) TempPath() string {
	return s.path + ".tmp"
}

// Close aborts any unfinished run and releases the database.
func (s *Store) Close() error {
	if s.run != nil {
		if err := s.Rollback(); err != nil {
			logging.Get("store").Warn("rollback on close failed", "error", err)
		}
	}
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// reopen re-establishes the read connection after the commit rename
// replaced the underlying file.
func (s *Store) reopen() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("close stale handle: %w", err)
		}
	}
	db, err := openDatabase(s.path, s.key)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

// copyFile copies src to dst, replacing dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// removeWALSiblings deletes the -wal and -shm files SQLite leaves next
// to a database path.
func removeWALSiblings(path string) {
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
}

// ensureParentDir creates the directory holding path.
func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
