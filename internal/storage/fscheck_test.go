package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckLocalFilesystemAllowsLocalFS(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	err := checkLocalFilesystemWith(dbPath, func(path string) (string, error) {
		return "apfs", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
}

func TestCheckLocalFilesystemRejectsNetworkFS(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	err := checkLocalFilesystemWith(dbPath, func(path string) (string, error) {
		return "smbfs", nil
	})
	if !errors.Is(err, ErrNetworkFilesystem) {
		t.Fatalf("expected ErrNetworkFilesystem, got %v", err)
	}
	for _, want := range []string{"smbfs", "state.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to contain %q, got %q", want, err.Error())
		}
	}
}

func TestCheckLocalFilesystemUnsupportedPlatform(t *testing.T) {
	t.Parallel()

	err := checkLocalFilesystemWith(filepath.Join(t.TempDir(), "tasks.db"), func(string) (string, error) {
		return "", errDetectUnsupported
	})
	if err != nil {
		t.Fatalf("unsupported detection should pass, got %v", err)
	}

	err = checkLocalFilesystemWith(filepath.Join(t.TempDir(), "tasks.db"), func(string) (string, error) {
		return "", fmt.Errorf("statfs failed")
	})
	if err == nil {
		t.Fatal("expected detector failure to surface")
	}
}

func TestCheckLocalFilesystemUsesNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "nested", "dir", "tasks.db")

	var inspectedPath string
	err := checkLocalFilesystemWith(dbPath, func(path string) (string, error) {
		inspectedPath = path
		return "apfs", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
	if inspectedPath != root {
		t.Fatalf("expected detector to inspect nearest existing path %q, got %q", root, inspectedPath)
	}
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		fs   string
		want bool
	}{
		{fs: "nfs", want: true},
		{fs: "SMBFS", want: true},
		{fs: " cifs ", want: true},
		{fs: "ext4", want: false},
		{fs: "0x6969", want: false},
	}

	for _, tc := range cases {
		if got := isNetworkFilesystem(tc.fs); got != tc.want {
			t.Errorf("isNetworkFilesystem(%q)=%v, want %v", tc.fs, got, tc.want)
		}
	}
}
