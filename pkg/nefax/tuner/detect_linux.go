//go:build linux

package tuner

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/jamesainslie/nefaxer/pkg/nefax/logging"
)

// detectDriveType classifies the filesystem backing path on Linux by
// finding the longest matching mount in /proc/self/mounts, checking its
// filesystem type for network protocols, and otherwise reading the
// block device's rotational flag from sysfs.
func detectDriveType(path string) DriveType {
	logger := logging.Get("tuner")

	abs, err := filepath.Abs(path)
	if err != nil {
		return DriveUnknown
	}

	device, fsType, ok := mountFor(abs)
	if !ok {
		logger.Debug("no mount found for path", "path", abs)
		return DriveUnknown
	}

	if isNetworkFS(fsType) {
		return DriveNetwork
	}

	switch rotational(device) {
	case "1":
		return DriveHDD
	case "0":
		return DriveSSD
	}
	logger.Debug("rotational flag unavailable", "device", device, "fs", fsType)
	return DriveUnknown
}

// mountFor returns the device and filesystem type of the longest mount
// point prefixing path.
func mountFor(path string) (device, fsType string, ok bool) {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return "", "", false
	}
	defer f.Close()

	bestLen := -1
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mnt := fields[1]
		if path != mnt && !strings.HasPrefix(path, strings.TrimSuffix(mnt, "/")+"/") {
			continue
		}
		if len(mnt) > bestLen {
			bestLen = len(mnt)
			device, fsType = fields[0], fields[2]
			ok = true
		}
	}
	return device, fsType, ok
}

// rotational reads /sys/block/<base>/queue/rotational for the device,
// stripping the partition suffix (sda1 -> sda, nvme0n1p1 -> nvme0n1).
// Returns "" when the flag cannot be read.
func rotational(device string) string {
	name := strings.TrimPrefix(device, "/dev/")
	if name == device {
		return "" // not a block device path (tmpfs, overlay, ...)
	}

	base := name
	if strings.HasPrefix(name, "nvme") {
		if i := strings.LastIndex(name, "p"); i > 0 {
			base = name[:i]
		}
	} else {
		base = strings.TrimRight(name, "0123456789")
	}

	data, err := os.ReadFile(filepath.Join("/sys/block", base, "queue", "rotational"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
