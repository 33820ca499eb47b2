// Package config defines the run options accepted by the indexing
// pipeline, with validation and defaults.
package config

import (
	"fmt"

	"github.com/jamesainslie/nefaxer/pkg/nefax/tuner"
	"github.com/jamesainslie/nefaxer/pkg/nefax/types"
)

// KeyProvider yields the store passphrase on demand. It is only invoked
// when an encrypted store is opened or created, so prompting
// implementations do not bother the user on unencrypted runs.
type KeyProvider func() (string, error)

// Options configures a single indexing run.
type Options struct {
	// DBPath is where the store lives. Empty means DBName inside the root.
	DBPath string

	// WithHash enables content hashing of regular files.
	WithHash bool

	// FollowLinks traverses symbolic links during the walk.
	FollowLinks bool

	// Exclude contains glob patterns for paths to skip. Matching
	// directories prune their entire subtree.
	Exclude []string

	// MtimeWindowNS is the modification-time tolerance used by the
	// comparison rule and the hash-reuse shortcut.
	MtimeWindowNS int64

	// Strict aborts the run on the first access error instead of
	// skipping the path.
	Strict bool

	// Paranoid re-reads file contents when the hash-reuse shortcut
	// would otherwise trust mtime and size.
	Paranoid bool

	// NumThreads, DriveType, and UseParallelWalk override drive
	// detection. Either all three are set or none.
	NumThreads      int
	DriveType       tuner.DriveType
	UseParallelWalk *bool

	// MaxThreads caps the worker count derived by detection. 0 means
	// no ceiling beyond the FD limit.
	MaxThreads int

	// Encrypt opens the store through the encrypted-page layer. Keys
	// come from KeyProvider.
	Encrypt bool

	// KeyProvider supplies the store passphrase. Required when Encrypt
	// is set; also consulted when an existing store turns out to be
	// encrypted.
	KeyProvider KeyProvider

	// DryRun executes the pipeline and diff without committing writes.
	DryRun bool
}

// TuningOverride returns the forced tuning when the override trio is
// set, or nil when detection should run.
func (o *Options) TuningOverride() *tuner.Tuning {
	if o.NumThreads == 0 && o.DriveType == "" && o.UseParallelWalk == nil {
		return nil
	}
	t := tuner.Calculate(o.DriveType, 0)
	// The override skips drive detection, never the EMFILE guard.
	t.Workers = tuner.CapWorkersByFDLimit(o.NumThreads)
	t.ParallelWalk = *o.UseParallelWalk
	return &t
}

// Validate checks option consistency. It is called by the orchestrator
// before any worker starts.
func (o *Options) Validate() error {
	set := 0
	if o.NumThreads != 0 {
		if o.NumThreads < 0 {
			return fmt.Errorf("%w: num_threads must be positive", types.ErrInvalidOptions)
		}
		set++
	}
	if o.DriveType != "" {
		if !o.DriveType.Valid() {
			return fmt.Errorf("%w: unknown drive type %q", types.ErrInvalidOptions, o.DriveType)
		}
		set++
	}
	if o.UseParallelWalk != nil {
		set++
	}
	if set != 0 && set != 3 {
		return fmt.Errorf("%w: num_threads, drive_type, and use_parallel_walk must be set together", types.ErrInvalidOptions)
	}

	if o.MtimeWindowNS < 0 {
		return fmt.Errorf("%w: mtime_window_ns must be non-negative", types.ErrInvalidOptions)
	}
	if o.MaxThreads < 0 {
		return fmt.Errorf("%w: max_threads must be non-negative", types.ErrInvalidOptions)
	}
	if o.Encrypt && o.KeyProvider == nil {
		return fmt.Errorf("%w: encrypt requires a key provider", types.ErrInvalidOptions)
	}
	return nil
}
