package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convert/internal/archive"
	"github.com/mattjoyce/convert/internal/config"
)

// execute runs the CLI with fresh flag state and captures stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true

	configPath, logLevel = "", ""
	restoreRaw, backupPlain, backupTarget = false, false, ""
	passkeyFlag, unsealOut = "", ""
	configDryRun, configJSON, versionJSON = false, false, false
	tasksLimit, tasksPrune = 20, 0

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := Execute()
	return buf.String(), err
}

// writeConfig writes a config using the shipped backend and a temp task log.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	backend, err := filepath.Abs(filepath.Join("..", "..", "..", "backend"))
	require.NoError(t, err)
	dir := t.TempDir()

	body := `service:
  log_level: warn
  data_dir: ` + filepath.Join(dir, "data") + `
runtime:
  search_path: ` + backend + `
tasks:
  cadence:
    init: 1ms
    snapshot: 1ms
    chunk: 1ms
    finalize: 1ms
state:
  path: ` + filepath.Join(dir, "data", "tasks.db") + `
` + extra
	path := filepath.Join(dir, config.DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootShowsHelp(t *testing.T) {
	got, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, got, "Usage:")
	for _, sub := range []string{"serve", "dispatch", "backup", "restore", "verify", "config", "tasks", "watch", "version"} {
		assert.Contains(t, got, sub)
	}
}

func TestRootRejectsUnknownFlags(t *testing.T) {
	_, err := execute(t, "--no-such-flag")
	assert.Error(t, err)
}

func TestVersionJSON(t *testing.T) {
	SetVersionInfo("1.2.3", "0123456789abcdef", "2026-01-02T03:04:05Z")
	got, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(got), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "0123456789ab", info.Commit)
	assert.Equal(t, "2026-01-02T03:04:05Z", info.BuildTime)
}

func TestDispatchAgainstShippedBackend(t *testing.T) {
	cfg := writeConfig(t, "")

	got, err := execute(t, "--config", cfg, "dispatch", "system.ping")
	require.NoError(t, err)
	assert.Contains(t, got, `"pong"`)

	got, err = execute(t, "--config", cfg, "dispatch", "nope.go", "{}")
	require.NoError(t, err)
	assert.Contains(t, got, "Unknown service: nope")

	_, err = execute(t, "--config", cfg, "dispatch", "system.ping", "{not json")
	assert.Error(t, err)
}

func TestRestoreCommand(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := execute(t, "--config", cfg, "restore", "notes.txt")
	assert.EqualError(t, err, "restore failed")

	got, err := execute(t, "--config", cfg, "restore", "/vault/a.cvbak")
	require.NoError(t, err)
	assert.Contains(t, got, "Restore initiated: Restore initiated for /vault/a.cvbak")

	got, err = execute(t, "--config", cfg, "restore", "--raw", "/vault/b.txt")
	require.NoError(t, err)
	assert.Contains(t, got, `"file_path": "/vault/b.txt"`)
}

func TestBackupPlainAndTaskLog(t *testing.T) {
	cfg := writeConfig(t, "")

	got, err := execute(t, "--config", cfg, "backup", "--plain", "--target", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, got, "init")
	assert.Contains(t, got, "[100%] done")
	assert.Contains(t, got, "✓ OMEGA-")

	got, err = execute(t, "--config", cfg, "tasks")
	require.NoError(t, err)
	assert.Contains(t, got, "TASK")
	assert.Contains(t, got, "succeeded")
}

func TestConfigCheckAndLock(t *testing.T) {
	cfg := writeConfig(t, "")

	got, err := execute(t, "--config", cfg, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, got, "configuration OK")

	got, err = execute(t, "--config", cfg, "config", "lock", "--dry-run")
	require.NoError(t, err)
	assert.NotContains(t, got, "wrote")
	_, statErr := os.Stat(filepath.Join(filepath.Dir(cfg), config.ChecksumFile))
	assert.True(t, os.IsNotExist(statErr), "dry run must not write")
}

func TestConfigCheckMissingBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("runtime:\n  search_path: ./nowhere\n"), 0o600))

	_, err := execute(t, "--config", path, "config", "check")
	assert.EqualError(t, err, "configuration has errors")

	got, err := execute(t, "--config", path, "config", "check", "--json")
	assert.Error(t, err)
	assert.Contains(t, got, `"runtime.search_path"`)
}

func TestVerifyAndUnseal(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "backup.cvbak")
	plain := strings.Repeat("convert ", 4096)

	f, err := os.Create(archivePath)
	require.NoError(t, err)
	_, err = archive.Seal(context.Background(), f, strings.NewReader(plain), []byte("hunter2"),
		archive.Options{Params: archive.Params{Time: 1, MemoryKiB: 64, Threads: 1}})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := execute(t, "verify", "--passkey", "hunter2", archivePath)
	require.NoError(t, err)
	assert.Contains(t, got, "backup.cvbak is intact")

	_, err = execute(t, "verify", "--passkey", "wrong", archivePath)
	assert.EqualError(t, err, "verification failed")

	_, err = execute(t, "verify", "--passkey", "hunter2", filepath.Join(dir, "backup.zip"))
	assert.EqualError(t, err, "Invalid file format. Expected .cvbak")

	outPath := filepath.Join(dir, "restored.db")
	_, err = execute(t, "unseal", "--passkey", "hunter2", "-o", outPath, archivePath)
	require.NoError(t, err)
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, plain, string(data))

	_, err = execute(t, "unseal", "--passkey", "hunter2", "-o", outPath, archivePath)
	assert.Error(t, err, "existing output is not overwritten")
}
