// Package tuner classifies the storage backing an indexing root and
// derives pipeline tuning from it: worker count, walk mode, writer pool
// size, and write batch size. Classification uses host-OS hints first,
// then a cached probe result, then a read-only micro-benchmark; failures
// degrade to Unknown and are never fatal.
package tuner

import (
	"runtime"
)

// DriveType is the coarse storage classification used for tuning.
type DriveType string

// Drive classifications.
const (
	DriveSSD     DriveType = "ssd"
	DriveHDD     DriveType = "hdd"
	DriveNetwork DriveType = "network"
	DriveUnknown DriveType = "unknown"
)

// Valid reports whether d is one of the known classifications.
func (d DriveType) Valid() bool {
	switch d {
	case DriveSSD, DriveHDD, DriveNetwork, DriveUnknown:
		return true
	}
	return false
}

// Worker limits for the tuning table.
const (
	// networkMaxWorkers caps metadata workers on network filesystems,
	// where concurrent stat calls amplify round-trip latency.
	networkMaxWorkers = 8

	// fdHeadroom is subtracted from the open-file soft limit before
	// capping workers, leaving descriptors for the store and logging.
	fdHeadroom = 16
)

// Batch sizes per drive type.
const (
	batchSizeSSD     = 1024
	batchSizeHDD     = 512
	batchSizeNetwork = 256
)

// Tuning is the pipeline configuration derived from a drive type.
type Tuning struct {
	// Workers is the metadata worker count.
	Workers int

	// Drive is the classification the tuning was derived from.
	Drive DriveType

	// ParallelWalk selects the work-stealing walk over serial DFS.
	ParallelWalk bool

	// WriterPoolSize is the number of store writer goroutines.
	WriterPoolSize int

	// BatchSize is the number of upserts per store transaction.
	BatchSize int
}

// Calculate derives tuning from a drive type using the fixed table.
// ceiling caps the worker count when positive. Unknown drives get the
// SSD treatment: modern machines default to solid state, and the cost
// of guessing wrong is bounded by the FD cap.
func Calculate(drive DriveType, ceiling int) Tuning {
	cores := runtime.NumCPU()

	t := Tuning{Drive: drive}
	switch drive {
	case DriveHDD:
		// Spinning disk: the platter is the bottleneck, so walk
		// serially and keep concurrency near the core count.
		t.Workers = cores
		t.ParallelWalk = false
		t.WriterPoolSize = 1
		t.BatchSize = batchSizeHDD
	case DriveNetwork:
		t.Workers = networkMaxWorkers
		t.ParallelWalk = false
		t.WriterPoolSize = 1
		t.BatchSize = batchSizeNetwork
	default: // SSD and Unknown
		t.Workers = 2 * cores
		t.ParallelWalk = true
		t.WriterPoolSize = 2
		t.BatchSize = batchSizeSSD
	}

	if ceiling > 0 && t.Workers > ceiling {
		t.Workers = ceiling
	}
	t.Workers = CapWorkersByFDLimit(t.Workers)
	return t
}

// CapWorkersByFDLimit bounds a worker count by the process's open-file
// soft limit (minus headroom) and floors it at 1. The cap applies to
// forced tunings too; overriding detection skips classification, not
// the EMFILE guard.
func CapWorkersByFDLimit(workers int) int {
	if cap := maxWorkersByFDLimit(); cap > 0 && workers > cap {
		workers = cap
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// Detect classifies the drive backing root and returns its tuning.
// cache, when non-nil, is consulted before running the read probe and
// updated with fresh probe results. ceiling caps the worker count when
// positive. Detect never writes to the root and never fails; anything
// it cannot classify is treated as Unknown.
func Detect(root string, ceiling int, cache InfoCache) Tuning {
	drive := detectDriveType(root)

	if drive == DriveUnknown && cache != nil {
		if info, err := cache.DiskInfo(root); err == nil && info != nil {
			if dt := DriveType(info.DriveType); dt.Valid() && dt != DriveUnknown {
				drive = dt
			}
		}
	}

	if drive == DriveUnknown {
		if info, err := Probe(root); err == nil {
			drive = DriveType(info.DriveType)
			if cache != nil {
				// Opportunistic refresh; a cache write failure is not
				// worth failing the run over.
				_ = cache.PutDiskInfo(root, info)
			}
		}
	}

	return Calculate(drive, ceiling)
}
