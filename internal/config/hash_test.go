package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateChecksumsDryRun(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(tmpDir, "convert.yaml"), []byte("service: {}\n"), 0600); err != nil {
		t.Fatal(err)
	}

	report, err := GenerateChecksums(tmpDir, []string{"convert.yaml", "missing.yaml"}, true)
	if err != nil {
		t.Fatalf("GenerateChecksums() failed: %v", err)
	}

	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}
	if len(report.Files) != 2 {
		t.Fatalf("len(report.Files) = %d, want 2", len(report.Files))
	}
	if !report.Files[0].Exists || report.Files[0].Hash == "" {
		t.Fatal("convert.yaml should exist with computed hash")
	}
	if report.Files[1].Exists || report.Files[1].Hash != "" {
		t.Fatal("missing.yaml should be reported as missing without hash")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ChecksumFile)); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestChecksumsNestedModule(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, "core"), 0o755); err != nil {
		t.Fatal(err)
	}
	modPath := filepath.Join(tmpDir, "core", "dispatcher.js")
	if err := os.WriteFile(modPath, []byte("class Dispatcher {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := GenerateChecksums(tmpDir, []string{"core/dispatcher.js"}, false); err != nil {
		t.Fatalf("GenerateChecksums() failed: %v", err)
	}

	manifest, err := LoadChecksums(tmpDir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if err := manifest.Verify(tmpDir, "core/dispatcher.js"); err != nil {
		t.Fatalf("Verify() failed on untouched file: %v", err)
	}

	if err := os.WriteFile(modPath, []byte("class Dispatcher { evil() {} }\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := manifest.Verify(tmpDir, "core/dispatcher.js"); err == nil {
		t.Fatal("Verify() should fail after modification")
	}
	if err := manifest.Verify(tmpDir, "core/other.js"); err == nil {
		t.Fatal("Verify() should fail for a file without a hash")
	}
}

func TestLoadChecksumsMissing(t *testing.T) {
	if _, err := LoadChecksums(t.TempDir()); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}
