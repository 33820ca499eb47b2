// Package output renders a diff for the CLI: a one-line summary with
// counts, and optionally the full path list, which goes to stdout for
// small diffs and to a sibling results file for large ones.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/nefaxer/pkg/nefax/config"
	"github.com/jamesainslie/nefaxer/pkg/nefax/logging"
	"github.com/jamesainslie/nefaxer/pkg/nefax/types"
)

// ReportOptions controls diff rendering.
type ReportOptions struct {
	// Root is the indexed directory; the results file is written inside
	// it when the listing is too long for stdout.
	Root string

	// ListPaths enables per-path listing in addition to the summary.
	ListPaths bool

	// DryRun labels the summary as a comparison rather than an index
	// update.
	DryRun bool
}

// Report writes the diff summary (and listing, when requested) to w.
func Report(w io.Writer, d types.Diff, opts ReportOptions) error {
	mode := "index"
	if opts.DryRun {
		mode = "dry-run"
	}

	if d.Empty() {
		fmt.Fprintf(w, "nefaxer %s: no changes detected\n", mode)
		return nil
	}

	fmt.Fprintf(w, "nefaxer %s: added %s | removed %s | modified %s\n",
		mode,
		humanize.Comma(int64(len(d.Added))),
		humanize.Comma(int64(len(d.Removed))),
		humanize.Comma(int64(len(d.Modified))))

	if !opts.ListPaths {
		return nil
	}

	if d.Total() <= config.ListThreshold {
		writePaths(w, d)
		return nil
	}

	// Too long for a terminal; write the listing into the root.
	path := filepath.Join(opts.Root, config.ResultsFilename)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write results file: %w", err)
	}
	writePaths(f, d)
	if err := f.Close(); err != nil {
		return fmt.Errorf("write results file: %w", err)
	}
	logging.Get("output").Info("changes listed to file", "count", d.Total(), "path", path)
	return nil
}

// writePaths lists every changed path, one per line, prefixed with its
// change kind.
func writePaths(w io.Writer, d types.Diff) {
	for _, p := range d.Added {
		fmt.Fprintf(w, "+ %s\n", p)
	}
	for _, p := range d.Removed {
		fmt.Fprintf(w, "- %s\n", p)
	}
	for _, p := range d.Modified {
		fmt.Fprintf(w, "M %s\n", p)
	}
}
