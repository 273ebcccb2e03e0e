package doctor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mattjoyce/convert/internal/config"
)

// validConfig returns defaults pointing at a temp backend module.
func validConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	backend := filepath.Join(dir, "backend", "core")
	if err := os.MkdirAll(backend, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(backend, "dispatcher.js"), []byte("module.exports = {};"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.Runtime.SearchPath = filepath.Join(dir, "backend")
	cfg.State.Path = filepath.Join(dir, "data", "tasks.db")
	return cfg
}

func hasIssue(issues []Issue, field string) bool {
	for _, i := range issues {
		if i.Field == field {
			return true
		}
	}
	return false
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if !hasIssue(r.Warnings, "backup.source_path") {
		t.Fatalf("expected simulated-backup warning, got %v", r.Warnings)
	}
}

func TestValidate_MissingBackend(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Runtime.SearchPath = filepath.Join(t.TempDir(), "nowhere")

	r := New(cfg).Validate()
	if r.Valid || !hasIssue(r.Errors, "runtime.search_path") {
		t.Fatalf("expected runtime.search_path error, got %v", r.Errors)
	}
}

func TestValidate_ChecksumMismatch(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Runtime.VerifyChecksums = true

	r := New(cfg).Validate()
	if !hasIssue(r.Errors, "runtime.verify_checksums") {
		t.Fatalf("expected missing manifest error, got %v", r.Errors)
	}

	if _, err := config.GenerateChecksums(cfg.Runtime.SearchPath, []string{cfg.Runtime.ModuleFile()}, false); err != nil {
		t.Fatal(err)
	}
	if r := New(cfg).Validate(); !r.Valid {
		t.Fatalf("expected valid after lock, got %v", r.Errors)
	}

	module := filepath.Join(cfg.Runtime.SearchPath, filepath.FromSlash(cfg.Runtime.ModuleFile()))
	if err := os.WriteFile(module, []byte("module.exports = { tampered: true };"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := New(cfg).Validate(); !hasIssue(r.Errors, "runtime.verify_checksums") {
		t.Fatalf("expected mismatch error, got %v", r.Errors)
	}
}

func TestValidate_APIExposure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		listen    string
		token     string
		wantError bool
		wantWarn  bool
	}{
		{name: "loopback open", listen: "127.0.0.1:7420"},
		{name: "localhost open", listen: "localhost:7420"},
		{name: "public open", listen: "0.0.0.0:7420", wantError: true},
		{name: "public short token", listen: "0.0.0.0:7420", token: "abc", wantWarn: true},
		{name: "public long token", listen: "0.0.0.0:7420", token: "0123456789abcdef0123"},
		{name: "garbage", listen: "nope", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.API.Listen = tt.listen
			cfg.API.Token = tt.token
			r := New(cfg).Validate()

			gotErr := hasIssue(r.Errors, "api.token") || hasIssue(r.Errors, "api.listen")
			if gotErr != tt.wantError {
				t.Fatalf("errors = %v, wantError %v", r.Errors, tt.wantError)
			}
			if got := hasIssue(r.Warnings, "api.token"); got != tt.wantWarn {
				t.Fatalf("warnings = %v, wantWarn %v", r.Warnings, tt.wantWarn)
			}
		})
	}
}

func TestValidate_Backup(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	dir := t.TempDir()
	cfg.Backup.SourcePath = dir
	cfg.Backup.TargetDir = filepath.Join(dir, "missing-ok")
	cfg.Backup.Passkey = "short"

	r := New(cfg).Validate()
	if !hasIssue(r.Errors, "backup.source_path") {
		t.Fatalf("expected directory source error, got %v", r.Errors)
	}
	if !hasIssue(r.Warnings, "backup.passkey") {
		t.Fatalf("expected passkey warning, got %v", r.Warnings)
	}
}

func TestValidate_StateIsSource(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Backup.SourcePath = cfg.State.Path
	cfg.Backup.Passkey = "a long enough passkey"

	r := New(cfg).Validate()
	if !hasIssue(r.Errors, "state.path") {
		t.Fatalf("expected state.path error, got %v", r.Errors)
	}
}
