//go:build linux || darwin

package storage

import "testing"

func TestDetectFilesystemTypeOnTempDir(t *testing.T) {
	t.Parallel()

	fsType, err := detectFilesystemType(t.TempDir())
	if err != nil {
		t.Fatalf("detect filesystem: %v", err)
	}
	if fsType == "" {
		t.Fatal("expected a filesystem name")
	}
}
