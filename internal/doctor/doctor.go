// Package doctor inspects a convert configuration for problems that load-time
// validation lets through.
package doctor

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/convert/internal/config"
	"github.com/mattjoyce/convert/internal/storage"
)

const minTokenLen = 16

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor checks one loaded config against the local machine.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateRuntime(r)
	d.validateAPI(r)
	d.validateBackup(r)
	d.validateState(r)
	d.warnDevMode(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateRuntime checks that the backend module resolves, and matches its
// manifest when checksum verification is on.
func (d *Doctor) validateRuntime(r *Result) {
	rt := d.cfg.Runtime
	searchPath, err := rt.ResolveSearchPath()
	if err != nil {
		d.addError(r, "runtime", "runtime.search_path", err.Error())
		return
	}
	if !rt.VerifyChecksums {
		return
	}
	manifest, err := config.LoadChecksums(searchPath)
	if err != nil {
		d.addError(r, "runtime", "runtime.verify_checksums", err.Error())
		return
	}
	if err := manifest.Verify(searchPath, rt.ModuleFile()); err != nil {
		d.addError(r, "runtime", "runtime.verify_checksums", err.Error())
	}
}

// validateAPI refuses an unauthenticated API on a non-loopback address.
func (d *Doctor) validateAPI(r *Result) {
	api := d.cfg.API
	host, _, err := net.SplitHostPort(api.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", api.Listen, err))
		return
	}
	if !isLoopback(host) && api.Token == "" {
		d.addError(r, "api", "api.token", fmt.Sprintf("listening on %s without a token", api.Listen))
	}
	if api.Token != "" && len(api.Token) < minTokenLen {
		d.addWarning(r, "api", "api.token", fmt.Sprintf("token is shorter than %d characters", minTokenLen))
	}
}

func (d *Doctor) validateBackup(r *Result) {
	b := d.cfg.Backup
	if b.SourcePath == "" {
		d.addWarning(r, "backup", "backup.source_path", "not set; backups are simulated")
		return
	}

	info, err := os.Stat(b.SourcePath)
	switch {
	case err != nil && os.IsNotExist(err):
		d.addWarning(r, "backup", "backup.source_path", fmt.Sprintf("%s does not exist yet", b.SourcePath))
	case err != nil:
		d.addError(r, "backup", "backup.source_path", err.Error())
	case info.IsDir():
		d.addError(r, "backup", "backup.source_path", fmt.Sprintf("%s is a directory, expected a SQLite file", b.SourcePath))
	}
	if err := storage.CheckLocalFilesystem(b.SourcePath); err != nil {
		d.addError(r, "backup", "backup.source_path", err.Error())
	}

	if b.TargetDir == "" {
		d.addWarning(r, "backup", "backup.target_dir", "not set; every request must name a target")
	} else if info, err := os.Stat(b.TargetDir); err == nil && !info.IsDir() {
		d.addError(r, "backup", "backup.target_dir", fmt.Sprintf("%s is not a directory", b.TargetDir))
	}

	if len(b.Passkey) < 12 {
		d.addWarning(r, "backup", "backup.passkey", "passkey is shorter than 12 characters")
	}
}

func (d *Doctor) validateState(r *Result) {
	if err := storage.CheckLocalFilesystem(d.cfg.State.Path); err != nil {
		d.addError(r, "state", "state.path", err.Error())
	}
	if d.cfg.Backup.SourcePath != "" && sameFile(d.cfg.Backup.SourcePath, d.cfg.State.Path) {
		d.addError(r, "state", "state.path", "task log must not be the database being backed up")
	}
}

func (d *Doctor) warnDevMode(r *Result) {
	if d.cfg.Runtime.DevMode {
		d.addWarning(r, "runtime", "runtime.dev_mode", "dev_mode is on; the backend loads from "+d.cfg.Runtime.DevSearchPath)
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func sameFile(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}
