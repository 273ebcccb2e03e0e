//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// statfsNames maps statfs f_type magics to the names isNetworkFilesystem and
// the error messages use. Unlisted magics are reported in hex.
var statfsNames = map[uint32]string{
	unix.NFS_SUPER_MAGIC:       "nfs",
	unix.CIFS_SUPER_MAGIC:      "cifs",
	unix.SMB_SUPER_MAGIC:       "smbfs",
	unix.SMB2_SUPER_MAGIC:      "smb2",
	unix.EXT4_SUPER_MAGIC:      "ext4",
	unix.BTRFS_SUPER_MAGIC:     "btrfs",
	unix.TMPFS_MAGIC:           "tmpfs",
	unix.OVERLAYFS_SUPER_MAGIC: "overlay",
}

func detectFilesystemType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	return filesystemName(uint32(st.Type)), nil
}

// f_type is signed on 32-bit targets; truncating to uint32 keeps the CIFS and
// SMB2 magics comparable everywhere.
func filesystemName(magic uint32) string {
	if name, ok := statfsNames[magic]; ok {
		return name
	}
	return fmt.Sprintf("0x%x", magic)
}
