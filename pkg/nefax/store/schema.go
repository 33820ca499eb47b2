package store

// schema creates the two tables backing a snapshot: the path records
// and the per-root drive-probe cache. path is the forward-slash
// relative path; hash is 32 bytes or NULL.
const schema = `
CREATE TABLE IF NOT EXISTS paths (
    path TEXT PRIMARY KEY,
    mtime_ns INTEGER NOT NULL,
    size INTEGER NOT NULL,
    hash BLOB
);

CREATE TABLE IF NOT EXISTS diskinfo (
    root_path TEXT PRIMARY KEY,
    data TEXT NOT NULL
);
`

const (
	upsertPathSQL = `
INSERT INTO paths (path, mtime_ns, size, hash) VALUES (?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
    mtime_ns = excluded.mtime_ns,
    size = excluded.size,
    hash = excluded.hash`

	deletePathSQL = `DELETE FROM paths WHERE path = ?`

	snapshotSQL = `SELECT path, mtime_ns, size, hash FROM paths`

	countPathsSQL = `SELECT COUNT(*) FROM paths`

	getDiskInfoSQL = `SELECT data FROM diskinfo WHERE root_path = ?`

	putDiskInfoSQL = `INSERT OR REPLACE INTO diskinfo (root_path, data) VALUES (?, ?)`
)
