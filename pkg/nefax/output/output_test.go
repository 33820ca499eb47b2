package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/jamesainslie/nefaxer/pkg/nefax/config"
	"github.com/jamesainslie/nefaxer/pkg/nefax/types"
)

func TestReportCounts(t *testing.T) {
	var buf bytes.Buffer
	d := types.Diff{Added: []string{"a"}, Removed: []string{"b", "c"}, Modified: []string{"d"}}

	if err := Report(&buf, d, ReportOptions{}); err != nil {
		t.Fatalf("Report() = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "added 1") || !strings.Contains(out, "removed 2") || !strings.Contains(out, "modified 1") {
		t.Errorf("summary missing counts: %q", out)
	}
	if strings.Contains(out, "+ a") {
		t.Error("paths listed without ListPaths")
	}
}

func TestReportNoChanges(t *testing.T) {
	var buf bytes.Buffer
	if err := Report(&buf, types.Diff{}, ReportOptions{}); err != nil {
		t.Fatalf("Report() = %v", err)
	}
	if !strings.Contains(buf.String(), "no changes") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestReportDryRunLabel(t *testing.T) {
	var buf bytes.Buffer
	if err := Report(&buf, types.Diff{}, ReportOptions{DryRun: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "dry-run") {
		t.Errorf("dry-run label missing: %q", buf.String())
	}
}

func TestReportListSmallDiff(t *testing.T) {
	var buf bytes.Buffer
	d := types.Diff{Added: []string{"new.txt"}, Removed: []string{"old.txt"}, Modified: []string{"edit.txt"}}

	if err := Report(&buf, d, ReportOptions{ListPaths: true, Root: t.TempDir()}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"+ new.txt", "- old.txt", "M edit.txt"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q in %q", want, out)
		}
	}
}

func TestReportLargeDiffGoesToFile(t *testing.T) {
	root := t.TempDir()
	var d types.Diff
	for i := 0; i <= config.ListThreshold; i++ {
		d.Added = append(d.Added, "file-"+strconv.Itoa(i))
	}

	var buf bytes.Buffer
	if err := Report(&buf, d, ReportOptions{ListPaths: true, Root: root}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "+ file-0") {
		t.Error("large diff listed to stdout")
	}

	data, err := os.ReadFile(filepath.Join(root, config.ResultsFilename))
	if err != nil {
		t.Fatalf("results file missing: %v", err)
	}
	if !strings.Contains(string(data), "+ file-0") {
		t.Error("results file missing paths")
	}
	if got := strings.Count(string(data), "\n"); got != d.Total() {
		t.Errorf("results file has %d lines, want %d", got, d.Total())
	}
}
