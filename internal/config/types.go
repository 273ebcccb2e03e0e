package config

import "time"

// Config represents the complete convert configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Tasks   TasksConfig   `yaml:"tasks"`
	Events  EventsConfig  `yaml:"events"`
	Backup  BackupConfig  `yaml:"backup"`
	State   StateConfig   `yaml:"state"`
	API     APIConfig     `yaml:"api,omitempty"`

	// SourcePath is the absolute path of the loaded file (empty for defaults).
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	DataDir   string `yaml:"data_dir"`
}

// RuntimeConfig locates the backend module inside the embedded runtime.
type RuntimeConfig struct {
	// SearchPath is the directory used as the runtime's module root.
	SearchPath string `yaml:"search_path"`
	// DevSearchPath is consulted first, and only, when DevMode is true.
	DevSearchPath   string `yaml:"dev_search_path,omitempty"`
	DevMode         bool   `yaml:"dev_mode,omitempty"`
	Module          string `yaml:"module"`
	Class           string `yaml:"class"`
	Method          string `yaml:"method"`
	VerifyChecksums bool   `yaml:"verify_checksums,omitempty"`
}

// TasksConfig defines background task settings.
type TasksConfig struct {
	// MaxConcurrent bounds running workers. 0 means unbounded.
	MaxConcurrent int `yaml:"max_concurrent"`

	// KeepFinished caps finished tasks held in memory; older ones are
	// answered from the task log.
	KeepFinished int `yaml:"keep_finished"`

	IDPrefix string        `yaml:"id_prefix"`
	Cadence  CadenceConfig `yaml:"cadence"`
}

// CadenceConfig is the pacing of the simulated backup phases.
type CadenceConfig struct {
	Init     time.Duration `yaml:"init"`
	Snapshot time.Duration `yaml:"snapshot"`
	Chunk    time.Duration `yaml:"chunk"`
	Finalize time.Duration `yaml:"finalize"`
}

// EventsConfig defines progress hub settings.
type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// BackupConfig enables the secure backup runner when SourcePath is set.
type BackupConfig struct {
	SourcePath string `yaml:"source_path,omitempty"`
	Passkey    string `yaml:"passkey,omitempty"`
	TargetDir  string `yaml:"target_dir,omitempty"`
}

// StateConfig defines task log storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the local HTTP API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Token   string `yaml:"token,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "convert",
			LogLevel:  "info",
			LogFormat: "json",
			DataDir:   "./data",
		},
		Runtime: RuntimeConfig{
			SearchPath: "./backend",
			Module:     "core/dispatcher",
			Class:      "Dispatcher",
			Method:     "handle",
		},
		Tasks: TasksConfig{
			MaxConcurrent: 4,
			KeepFinished:  256,
			IDPrefix:      "OMEGA",
			Cadence:       DefaultCadence(),
		},
		Events: EventsConfig{
			Buffer: 256,
		},
		State: StateConfig{
			Path: "./data/tasks.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:7420",
		},
	}
}

// DefaultCadence returns the placeholder pacing of the simulated backup.
func DefaultCadence() CadenceConfig {
	return CadenceConfig{
		Init:     800 * time.Millisecond,
		Snapshot: 1000 * time.Millisecond,
		Chunk:    50 * time.Millisecond,
		Finalize: 800 * time.Millisecond,
	}
}
