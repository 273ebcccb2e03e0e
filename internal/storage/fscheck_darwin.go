//go:build darwin

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Darwin reports the mount type by name (apfs, smbfs, nfs, webdav), so no
// magic table is needed.
func detectFilesystemType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	name := unix.ByteSliceToString(st.Fstypename[:])
	if name == "" {
		return "", errDetectUnsupported
	}
	return name, nil
}
