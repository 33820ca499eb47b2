package indexer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/nefaxer/pkg/nefax/config"
	"github.com/jamesainslie/nefaxer/pkg/nefax/store"
	"github.com/jamesainslie/nefaxer/pkg/nefax/tuner"
	"github.com/jamesainslie/nefaxer/pkg/nefax/types"
)

func boolPtr(b bool) *bool { return &b }

// serialOpts forces a small serial pipeline so tests are deterministic
// and skip drive detection.
func serialOpts() config.Options {
	return config.Options{
		NumThreads:      2,
		DriveType:       tuner.DriveHDD,
		UseParallelWalk: boolPtr(false),
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func keys(n types.Nefax) []string {
	out := make([]string, 0, len(n))
	for k := range n {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func snapshotOf(t *testing.T, root string) types.Nefax {
	t.Helper()
	st, err := store.Open(filepath.Join(root, config.DBName), store.Options{})
	require.NoError(t, err)
	defer st.Close()
	snap, err := st.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestFreshIndex(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")
	writeFile(t, root, "sub/b.txt", "bar")

	nefax, d, err := Index(context.Background(), root, serialOpts(), nil, nil)
	require.NoError(t, err)

	require.Equal(t, []string{"a.txt", "sub/b.txt"}, keys(nefax))
	require.Equal(t, []string{"a.txt", "sub/b.txt"}, sorted(d.Added))
	require.Empty(t, d.Removed)
	require.Empty(t, d.Modified)
	require.Equal(t, uint64(3), nefax["a.txt"].Size)

	snap := snapshotOf(t, root)
	require.Equal(t, []string{"a.txt", "sub/b.txt"}, keys(snap))
}

func TestNoChangeRerun(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")
	writeFile(t, root, "sub/b.txt", "bar")

	_, _, err := Index(context.Background(), root, serialOpts(), nil, nil)
	require.NoError(t, err)

	_, d, err := Index(context.Background(), root, serialOpts(), nil, nil)
	require.NoError(t, err)
	require.True(t, d.Empty(), "second run diff = %+v", d)
}

func TestContentOnlyModification(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")

	opts := serialOpts()
	opts.WithHash = true
	_, _, err := Index(context.Background(), root, opts, nil, nil)
	require.NoError(t, err)

	// Overwrite preserving size and mtime.
	abs := filepath.Join(root, "a.txt")
	info, err := os.Stat(abs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(abs, []byte("foz"), 0o644))
	require.NoError(t, os.Chtimes(abs, info.ModTime(), info.ModTime()))

	// The shortcut trusts mtime and size: no change reported.
	_, d, err := Index(context.Background(), root, opts, nil, nil)
	require.NoError(t, err)
	require.True(t, d.Empty(), "non-paranoid diff = %+v", d)

	// Paranoid re-reads and catches the rewrite.
	opts.Paranoid = true
	_, d, err = Index(context.Background(), root, opts, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, d.Modified)
	require.Empty(t, d.Added)
	require.Empty(t, d.Removed)
}

func TestDeletion(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")
	writeFile(t, root, "sub/b.txt", "bar")

	_, _, err := Index(context.Background(), root, serialOpts(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "sub")))

	_, d, err := Index(context.Background(), root, serialOpts(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"sub/b.txt"}, d.Removed)
	require.Empty(t, d.Added)
	require.Empty(t, d.Modified)

	snap := snapshotOf(t, root)
	require.NotContains(t, snap, "sub/b.txt")
}

func TestExcludePrunesSubtree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")
	writeFile(t, root, "sub/b.txt", "bar")

	opts := serialOpts()
	opts.Exclude = []string{"sub/**"}
	nefax, d, err := Index(context.Background(), root, opts, nil, nil)
	require.NoError(t, err)

	require.Equal(t, []string{"a.txt"}, keys(nefax))
	require.Equal(t, []string{"a.txt"}, d.Added)
}

func TestStrictAbort(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are advisory for this user")
	}
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")
	writeFile(t, root, "locked/secret.txt", "hidden")
	require.NoError(t, os.Chmod(filepath.Join(root, "locked"), 0o000))
	t.Cleanup(func() { _ = os.Chmod(filepath.Join(root, "locked"), 0o755) })

	// Default run skips the unreadable subtree.
	nefax, _, err := Index(context.Background(), root, serialOpts(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, keys(nefax))

	// Strict mode fails and leaves the store at the prior snapshot.
	before := snapshotOf(t, root)
	opts := serialOpts()
	opts.Strict = true
	_, _, err = Index(context.Background(), root, opts, nil, nil)
	require.Error(t, err)
	require.Equal(t, before, snapshotOf(t, root))
}

func TestDryRunNeverCommits(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")

	_, _, err := Index(context.Background(), root, serialOpts(), nil, nil)
	require.NoError(t, err)
	before := snapshotOf(t, root)

	writeFile(t, root, "new.txt", "fresh")
	opts := serialOpts()
	opts.DryRun = true
	_, d, err := Index(context.Background(), root, opts, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"new.txt"}, d.Added)

	require.Equal(t, before, snapshotOf(t, root), "dry run changed the stored snapshot")
}

func TestCallerSuppliedExisting(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")
	writeFile(t, root, "b.txt", "bar")

	info, err := os.Stat(filepath.Join(root, "a.txt"))
	require.NoError(t, err)

	existing := types.Nefax{
		"a.txt":    {MtimeNS: info.ModTime().UnixNano(), Size: 3},
		"gone.txt": {MtimeNS: 1, Size: 1},
	}
	nefax, d, err := Index(context.Background(), root, serialOpts(), existing, nil)
	require.NoError(t, err)

	require.Equal(t, []string{"b.txt"}, d.Added)
	require.Equal(t, []string{"gone.txt"}, d.Removed)
	require.Empty(t, d.Modified)

	// The store still receives the complete observed set.
	require.Equal(t, keys(nefax), keys(snapshotOf(t, root)))
}

func TestInvalidExistingFailsEarly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")

	existing := types.Nefax{"../escape": {MtimeNS: 1, Size: 1}}
	_, _, err := Index(context.Background(), root, serialOpts(), existing, nil)
	require.ErrorIs(t, err, types.ErrInvalidPath)

	// Nothing was created: validation runs before any worker starts.
	_, statErr := os.Stat(filepath.Join(root, config.DBName))
	require.True(t, os.IsNotExist(statErr))
}

func TestRootMustBeDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "file.txt", "x")

	_, _, err := Index(context.Background(), filepath.Join(root, "file.txt"), serialOpts(), nil, nil)
	require.ErrorIs(t, err, types.ErrNotDirectory)
}

func TestTuningTrioValidated(t *testing.T) {
	root := t.TempDir()
	opts := config.Options{NumThreads: 2} // missing the other two
	_, _, err := Index(context.Background(), root, opts, nil, nil)
	require.ErrorIs(t, err, types.ErrInvalidOptions)
}

func TestOnEntryCallback(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")
	writeFile(t, root, "sub/b.txt", "bar")

	var seen []string
	_, _, err := Index(context.Background(), root, serialOpts(), nil, func(e types.Entry) {
		seen = append(seen, e.Path)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "sub/b.txt"}, sorted(seen))
}

func TestEmptyDirectoryIndexed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "hollow"), 0o755))

	nefax, _, err := Index(context.Background(), root, serialOpts(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "hollow"}, keys(nefax))
	require.Equal(t, uint64(0), nefax["hollow"].Size)
	require.Nil(t, nefax["hollow"].Hash)
}

func TestHashingOnProducesHashes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")

	opts := serialOpts()
	opts.WithHash = true
	nefax, _, err := Index(context.Background(), root, opts, nil, nil)
	require.NoError(t, err)
	require.Len(t, nefax["a.txt"].Hash, types.HashSize)

	// Round-trip: the persisted snapshot carries the same hash.
	snap := snapshotOf(t, root)
	require.Equal(t, nefax["a.txt"].Hash, snap["a.txt"].Hash)
}

func TestParallelPipeline(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 30; i++ {
		writeFile(t, root, filepath.ToSlash(filepath.Join("d"+string(rune('a'+i%5)), "f"+string(rune('a'+i)))), "content")
	}

	opts := config.Options{
		NumThreads:      4,
		DriveType:       tuner.DriveSSD,
		UseParallelWalk: boolPtr(true),
	}
	nefax, d, err := Index(context.Background(), root, opts, nil, nil)
	require.NoError(t, err)
	require.Len(t, nefax, 30)
	require.Len(t, d.Added, 30)

	// Re-run with the serial pipeline sees the same tree.
	_, d, err = Index(context.Background(), root, serialOpts(), nil, nil)
	require.NoError(t, err)
	require.True(t, d.Empty(), "serial re-run diff = %+v", d)
}

func TestCancelledContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Index(ctx, root, serialOpts(), nil, nil)
	require.ErrorIs(t, err, types.ErrCancelled)
}

func TestDBPathOption(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")
	dbPath := filepath.Join(t.TempDir(), "elsewhere.db")

	opts := serialOpts()
	opts.DBPath = dbPath
	_, _, err := Index(context.Background(), root, opts, nil, nil)
	require.NoError(t, err)

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
	// Nothing was dropped inside the root.
	_, err = os.Stat(filepath.Join(root, config.DBName))
	require.True(t, os.IsNotExist(err))
}

func TestMtimeWindowAbsorbsDrift(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo")

	_, _, err := Index(context.Background(), root, serialOpts(), nil, nil)
	require.NoError(t, err)

	// Nudge the mtime by less than the window.
	abs := filepath.Join(root, "a.txt")
	info, err := os.Stat(abs)
	require.NoError(t, err)
	nudged := info.ModTime().Add(200 * time.Millisecond)
	require.NoError(t, os.Chtimes(abs, nudged, nudged))

	opts := serialOpts()
	opts.MtimeWindowNS = int64(time.Second)
	_, d, err := Index(context.Background(), root, opts, nil, nil)
	require.NoError(t, err)
	require.True(t, d.Empty(), "diff = %+v", d)

	// With a zero window the same drift reads as a modification.
	_, d, err = Index(context.Background(), root, serialOpts(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, d.Modified)
}
