//go:build darwin

package tuner

import (
	"golang.org/x/sys/unix"
)

// detectDriveType classifies the filesystem backing path on darwin
// using statfs. Network filesystems are identified by type name; local
// volumes default to SSD since every supported Mac ships solid state.
func detectDriveType(path string) DriveType {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DriveUnknown
	}

	fsType := bytesToString(st.Fstypename[:])
	if isNetworkFS(fsType) {
		return DriveNetwork
	}
	return DriveSSD
}

func bytesToString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
