package tuner

import (
	"errors"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesainslie/nefaxer/pkg/nefax/logging"
)

// Probe tuning constants.
const (
	// probeReads is the number of random reads per probe.
	probeReads = 50

	// probeReadSize is the size of each random read.
	probeReadSize = 4 * 1024

	// probeIOPSHDDThreshold splits HDD from SSD: spinning disks top out
	// well below this under random 4K reads.
	probeIOPSHDDThreshold = 150.0

	// probeMinFileSize is the smallest file worth probing; tiny files
	// sit in one block and defeat the random-read pattern.
	probeMinFileSize = 256 * 1024

	// probeScanLimit bounds how many entries the probe examines while
	// looking for a candidate file.
	probeScanLimit = 512
)

// InfoCache reads and writes cached DiskInfo records keyed by the
// canonical root path. *store.Store satisfies this.
type InfoCache interface {
	DiskInfo(root string) (*DiskInfo, error)
	PutDiskInfo(root string, info *DiskInfo) error
}

// DiskInfo is the serialized probe snapshot cached in the store's
// diskinfo table, one row per root.
type DiskInfo struct {
	DriveType         string  `json:"drive_type"`
	ProbedAtUnix      int64   `json:"probed_at_unix"`
	ReadBWBytesPerSec float64 `json:"read_bw_bytes_per_sec"`
}

// ErrNoProbeFile is returned when the root holds no file large enough
// for a random-read benchmark.
var ErrNoProbeFile = errors.New("no suitable probe file found")

// Probe times random reads against an existing file under root and
// classifies the backing storage from the measured IOPS. It only ever
// reads; nothing is created in the root.
func Probe(root string) (*DiskInfo, error) {
	logger := logging.Get("tuner")

	path, size, err := findProbeFile(root)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, probeReadSize)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	start := time.Now()
	var bytesRead int64
	for i := 0; i < probeReads; i++ {
		off := rng.Int63n(max64(size-probeReadSize, 1))
		n, err := f.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return nil, err
		}
		bytesRead += int64(n)
	}
	elapsed := time.Since(start)

	iops := float64(probeReads) / elapsed.Seconds()
	bw := float64(bytesRead) / elapsed.Seconds()

	drive := DriveSSD
	if iops < probeIOPSHDDThreshold {
		drive = DriveHDD
	}
	logger.Debug("read probe complete",
		"file", path, "iops", iops, "bw_bytes_per_sec", bw, "drive", string(drive))

	return &DiskInfo{
		DriveType:         string(drive),
		ProbedAtUnix:      time.Now().Unix(),
		ReadBWBytesPerSec: bw,
	}, nil
}

// findProbeFile walks a bounded prefix of the tree looking for a
// regular file of at least probeMinFileSize bytes.
func findProbeFile(root string) (string, int64, error) {
	var (
		found   string
		size    int64
		scanned int
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtrees are someone else's problem
		}
		scanned++
		if scanned > probeScanLimit {
			return fs.SkipAll
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() >= probeMinFileSize {
			found = path
			size = info.Size()
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	if found == "" {
		return "", 0, ErrNoProbeFile
	}
	return found, size, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
