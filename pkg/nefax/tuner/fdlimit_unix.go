//go:build unix

package tuner

import (
	"golang.org/x/sys/unix"
)

// maxWorkersByFDLimit returns the worker cap derived from the process's
// open-file soft limit, minus headroom, so a full worker set cannot
// exhaust descriptors. Returns 0 when no practical limit applies.
func maxWorkersByFDLimit() int {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 0
	}
	cur := rlim.Cur
	if cur == unix.RLIM_INFINITY || cur > 1<<31 {
		return 0
	}
	usable := int(cur) - fdHeadroom
	if usable < 1 {
		return 1
	}
	return usable
}
