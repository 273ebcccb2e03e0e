package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "convert.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates the configuration at configPath.
// A directory is accepted if it contains convert.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, DefaultFileName)
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but %s not found: %s", DefaultFileName, absPath)
		}
	}

	// A .checksums manifest next to the file locks it; no manifest means unlocked.
	if manifest, err := LoadChecksums(filepath.Dir(absPath)); err == nil {
		if err := manifest.Verify(filepath.Dir(absPath), filepath.Base(absPath)); err != nil {
			return nil, fmt.Errorf("config verification failed: %w\n"+
				"If you edited this file intentionally, run: convert config lock", err)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	cfg = applyConfigDefaults(cfg)
	resolveRelativePaths(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $CONVERT_CONFIG, ./convert.yaml, ~/.config/convert/convert.yaml.
// Returns "" when nothing is found; callers then run on Defaults().
func Discover() string {
	if p := os.Getenv("CONVERT_CONFIG"); p != "" {
		return p
	}
	if fileExists(DefaultFileName) {
		return DefaultFileName
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(homeDir, ".config", "convert", DefaultFileName)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// LoadOrDefault loads path when non-empty and falls back to validated defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg := applyConfigDefaults(Defaults())
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.DataDir == "" {
		cfg.Service.DataDir = defaults.Service.DataDir
	}

	if cfg.Runtime.SearchPath == "" {
		cfg.Runtime.SearchPath = defaults.Runtime.SearchPath
	}
	if cfg.Runtime.Module == "" {
		cfg.Runtime.Module = defaults.Runtime.Module
	}
	if cfg.Runtime.Class == "" {
		cfg.Runtime.Class = defaults.Runtime.Class
	}
	if cfg.Runtime.Method == "" {
		cfg.Runtime.Method = defaults.Runtime.Method
	}

	if cfg.Tasks.KeepFinished == 0 {
		cfg.Tasks.KeepFinished = defaults.Tasks.KeepFinished
	}
	if cfg.Tasks.IDPrefix == "" {
		cfg.Tasks.IDPrefix = defaults.Tasks.IDPrefix
	}
	cad := defaults.Tasks.Cadence
	if cfg.Tasks.Cadence.Init == 0 {
		cfg.Tasks.Cadence.Init = cad.Init
	}
	if cfg.Tasks.Cadence.Snapshot == 0 {
		cfg.Tasks.Cadence.Snapshot = cad.Snapshot
	}
	if cfg.Tasks.Cadence.Chunk == 0 {
		cfg.Tasks.Cadence.Chunk = cad.Chunk
	}
	if cfg.Tasks.Cadence.Finalize == 0 {
		cfg.Tasks.Cadence.Finalize = cad.Finalize
	}

	if cfg.Events.Buffer == 0 {
		cfg.Events.Buffer = defaults.Events.Buffer
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	return cfg
}

// resolveRelativePaths anchors relative filesystem paths at the config file's directory.
func resolveRelativePaths(cfg *Config, baseDir string) {
	for _, p := range []*string{
		&cfg.Service.DataDir,
		&cfg.Runtime.SearchPath,
		&cfg.Runtime.DevSearchPath,
		&cfg.State.Path,
		&cfg.Backup.SourcePath,
		&cfg.Backup.TargetDir,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Runtime.DevMode && cfg.Runtime.DevSearchPath == "" {
		return fmt.Errorf("runtime.dev_search_path is required when runtime.dev_mode is true")
	}

	if cfg.Tasks.MaxConcurrent < 0 {
		return fmt.Errorf("tasks.max_concurrent must not be negative")
	}
	if cfg.Tasks.KeepFinished < 0 {
		return fmt.Errorf("tasks.keep_finished must not be negative")
	}
	c := cfg.Tasks.Cadence
	if c.Init < 0 || c.Snapshot < 0 || c.Chunk < 0 || c.Finalize < 0 {
		return fmt.Errorf("tasks.cadence durations must not be negative")
	}

	if cfg.Events.Buffer < 0 {
		return fmt.Errorf("events.buffer must not be negative")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.Backup.SourcePath != "" {
		if err := checkUnresolved("backup.passkey", cfg.Backup.Passkey); err != nil {
			return err
		}
		if cfg.Backup.Passkey == "" {
			return fmt.Errorf("backup.passkey is required when backup.source_path is set")
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if err := checkUnresolved("api.token", cfg.API.Token); err != nil {
			return err
		}
	}
	return nil
}

func checkUnresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
