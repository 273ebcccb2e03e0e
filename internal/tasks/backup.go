package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/convert/internal/archive"
	"github.com/mattjoyce/convert/internal/events"
	"github.com/mattjoyce/convert/internal/log"
	"github.com/mattjoyce/convert/internal/storage"
)

// KindBackup is the task kind for backups.
const KindBackup = "backup"

// Cadence paces the simulated backup phases.
type Cadence struct {
	Init     time.Duration
	Snapshot time.Duration
	Chunk    time.Duration
	Finalize time.Duration
}

func DefaultCadence() Cadence {
	return Cadence{
		Init:     800 * time.Millisecond,
		Snapshot: time.Second,
		Chunk:    50 * time.Millisecond,
		Finalize: 800 * time.Millisecond,
	}
}

// BackupParams are the parameters of a backup task.
type BackupParams struct {
	TargetDir string `json:"target_dir,omitempty"`
}

func parseBackupParams(raw json.RawMessage) (BackupParams, error) {
	var p BackupParams
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("invalid backup params: %w", err)
	}
	return p, nil
}

// SimulatedBackup walks through the backup phases on a fixed cadence
// without touching any data.
type SimulatedBackup struct {
	Cadence Cadence
}

func (b SimulatedBackup) Run(ctx context.Context, _ json.RawMessage, rep *Reporter) error {
	emit := func(phase events.Phase, progress float64, eta, msg string) {
		rep.Emit(Update{Phase: phase, Progress: progress, Speed: "45 MB/s", ETA: eta, Message: msg})
	}

	emit(events.PhaseInit, 0, "CALC...", "Initializing backup engine...")
	if err := sleep(ctx, b.Cadence.Init); err != nil {
		return err
	}

	emit(events.PhaseSnapshot, 10, "15s", "Taking atomic snapshot (VACUUM INTO)...")
	if err := sleep(ctx, b.Cadence.Snapshot); err != nil {
		return err
	}

	for i := 11; i <= 90; i++ {
		if i%5 == 0 {
			rem := 90 - i
			emit(events.PhaseEncrypting, float64(i), fmt.Sprintf("%d-%ds", rem/10, rem/8), fmt.Sprintf("Encrypting chunk #%d...", i))
		}
		if err := sleep(ctx, b.Cadence.Chunk); err != nil {
			return err
		}
	}

	emit(events.PhaseFinalizing, 95, "1-2s", "Verifying Poly1305 MAC...")
	if err := sleep(ctx, b.Cadence.Finalize); err != nil {
		return err
	}

	rep.Complete("Backup secured successfully.")
	return nil
}

// SecureBackup snapshots a SQLite database and writes it to an encrypted
// archive in the target directory.
type SecureBackup struct {
	SourcePath string
	Passkey    []byte
	// TargetDir is used when the task params do not name one.
	TargetDir string
	Params    archive.Params
	ChunkSize int
	Now       func() time.Time
}

func (b SecureBackup) Run(ctx context.Context, raw json.RawMessage, rep *Reporter) error {
	p, err := parseBackupParams(raw)
	if err != nil {
		return err
	}
	targetDir := p.TargetDir
	if targetDir == "" {
		targetDir = b.TargetDir
	}
	if targetDir == "" {
		return fmt.Errorf("target_dir is required")
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	logger := log.WithComponent("backup")

	rep.Emit(Update{Phase: events.PhaseInit, ETA: "CALC...", Message: "Initializing backup engine..."})
	if err := os.MkdirAll(targetDir, 0o700); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	stamp := now().UTC()
	snapDir, err := os.MkdirTemp(targetDir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	defer os.RemoveAll(snapDir)
	snapPath := filepath.Join(snapDir, "snapshot.db")

	rep.Emit(Update{Phase: events.PhaseSnapshot, Progress: 10, ETA: "CALC...", Message: "Taking atomic snapshot (VACUUM INTO)..."})
	if err := storage.SnapshotSQLite(ctx, b.SourcePath, snapPath); err != nil {
		return err
	}
	info, err := os.Stat(snapPath)
	if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}
	size := info.Size()

	outPath, err := reserveArchivePath(targetDir, stamp)
	if err != nil {
		return err
	}
	partial := outPath + ".partial"
	published := false
	defer func() {
		if !published {
			_ = os.Remove(partial)
			_ = os.Remove(outPath)
		}
	}()

	if err := b.seal(ctx, snapPath, partial, size, rep); err != nil {
		return err
	}

	rep.Emit(Update{Phase: events.PhaseFinalizing, Progress: 95, ETA: "1-2s", Message: "Verifying archive MAC..."})
	n, err := archive.VerifyFile(ctx, partial, b.Passkey)
	if err != nil {
		return fmt.Errorf("verify archive: %w", err)
	}
	if n != size {
		return fmt.Errorf("verify archive: %d bytes decrypted, expected %d", n, size)
	}
	// outPath is our own empty placeholder, so the rename replaces nothing else.
	if err := os.Rename(partial, outPath); err != nil {
		return fmt.Errorf("publish archive: %w", err)
	}
	published = true

	logger.Info("backup written", "path", outPath, "bytes", size)
	rep.Complete(fmt.Sprintf("Backup secured at %s (%s).", outPath, humanize.Bytes(uint64(size))))
	return nil
}

// reserveArchivePath claims a free archive name in dir by creating it empty.
// Backups stamped in the same second get -2, -3, ... suffixes.
func reserveArchivePath(dir string, stamp time.Time) (string, error) {
	base := "backup-" + stamp.Format("20060102T150405Z")
	for i := 1; i <= 100; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		path := filepath.Join(dir, name+archive.Extension)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reserve archive name: %w", err)
		}
		return path, f.Close()
	}
	return "", fmt.Errorf("no free archive name for %s in %s", base, dir)
}

func (b SecureBackup) seal(ctx context.Context, src, dst string, size int64, rep *Reporter) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	rep.Emit(Update{
		Phase:    events.PhaseEncrypting,
		Progress: 11,
		ETA:      "CALC...",
		Message:  fmt.Sprintf("Encrypting %s...", humanize.Bytes(uint64(size))),
	})

	start := time.Now()
	last := 11
	_, err = archive.Seal(ctx, out, in, b.Passkey, archive.Options{
		Params:    b.Params,
		ChunkSize: b.ChunkSize,
		Progress: func(done int64) {
			pct := 90
			if size > 0 {
				pct = 11 + int(done*79/size)
			}
			if pct <= last {
				return
			}
			last = pct
			speed, eta := rate(done, size, time.Since(start))
			rep.Emit(Update{
				Phase:    events.PhaseEncrypting,
				Progress: float64(pct),
				Speed:    speed,
				ETA:      eta,
				Message:  fmt.Sprintf("Encrypted %s of %s...", humanize.Bytes(uint64(done)), humanize.Bytes(uint64(size))),
			})
		},
	})
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("encrypt snapshot: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

func rate(done, total int64, elapsed time.Duration) (speed, eta string) {
	if elapsed <= 0 || done <= 0 {
		return "CALC...", "CALC..."
	}
	perSec := float64(done) / elapsed.Seconds()
	speed = humanize.Bytes(uint64(perSec)) + "/s"
	remaining := time.Duration(float64(total-done) / perSec * float64(time.Second))
	return speed, fmt.Sprintf("%ds", int(remaining.Round(time.Second).Seconds()))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
