package tuner

import "strings"

// networkFSTypes are filesystem type substrings that indicate network
// storage.
var networkFSTypes = []string{"nfs", "smb", "cifs", "afp", "webdav", "9p", "fuse.sshfs"}

// isNetworkFS reports whether a filesystem type string names a network
// protocol.
func isNetworkFS(fsType string) bool {
	fs := strings.ToLower(fsType)
	for _, t := range networkFSTypes {
		if strings.Contains(fs, t) {
			return true
		}
	}
	return false
}
