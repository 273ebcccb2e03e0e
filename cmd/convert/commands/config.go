package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/convert/internal/config"
	"github.com/mattjoyce/convert/internal/doctor"
	"github.com/mattjoyce/convert/internal/printer"
)

var (
	configDryRun bool
	configJSON   bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and lock configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and backend module",
	Args:  cobra.NoArgs,
	RunE:  runConfigCheck,
}

var configLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Record BLAKE3 checksums for the config file and backend module",
	Long: `Write .checksums manifests next to the config file and in the backend
search path. A locked config refuses to load after an edit until it is locked
again; a locked backend is checked on load when runtime.verify_checksums is set.`,
	Args: cobra.NoArgs,
	RunE: runConfigLock,
}

func init() {
	configCheckCmd.Flags().BoolVar(&configJSON, "json", false, "Print the result as JSON")
	configLockCmd.Flags().BoolVar(&configDryRun, "dry-run", false, "Print hashes without writing manifests")
	configCmd.AddCommand(configCheckCmd, configLockCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig()
	if err != nil {
		return out.Error("configuration invalid", err.Error())
	}
	result := doctor.New(cfg).Validate()

	if configJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		if !result.Valid {
			return fmt.Errorf("configuration has errors")
		}
		return nil
	}

	source := cfg.SourcePath
	if source == "" {
		source = "(built-in defaults)"
	}
	p.Info("config: %s", source)
	for _, w := range result.Warnings {
		p.Warning("%s: %s", w.Field, w.Message)
	}
	if !result.Valid {
		lines := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			lines = append(lines, fmt.Sprintf("  %s: %s", e.Field, e.Message))
		}
		return out.Error("configuration has errors", strings.Join(lines, "\n"))
	}
	p.Success("configuration OK")
	return nil
}

func runConfigLock(cmd *cobra.Command, args []string) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig()
	if err != nil {
		return out.Error("configuration invalid", err.Error())
	}

	// One manifest per directory, so a backend living next to the config
	// file shares it.
	byDir := map[string][]string{}
	if cfg.SourcePath != "" {
		dir := filepath.Dir(cfg.SourcePath)
		byDir[dir] = append(byDir[dir], filepath.Base(cfg.SourcePath))
	}
	if searchPath, err := cfg.Runtime.ResolveSearchPath(); err == nil {
		byDir[searchPath] = append(byDir[searchPath], cfg.Runtime.ModuleFile())
	} else {
		p.Warning("backend not locked: %v", err)
	}
	if len(byDir) == 0 {
		return out.Error("nothing to lock", "no config file was loaded and the backend was not found")
	}

	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		report, err := config.GenerateChecksums(dir, byDir[dir], configDryRun)
		if err != nil {
			return out.Error("lock failed", err.Error())
		}
		for _, f := range report.Files {
			p.Info("%s  %s", f.Hash, f.Path)
		}
		if report.Written {
			p.Success("wrote %s", report.ChecksumPath)
		}
	}
	return nil
}

