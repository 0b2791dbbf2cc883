// Package config handles configuration loading, validation, and management for layoutconv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/WinkyTy/layout-converter/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete configuration shared by layoutd and layoutctl.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	// Layouts controls where layout definitions come from.
	Layouts LayoutsConfig `toml:"layouts" json:"layouts" yaml:"layouts"`

	// Detection holds the scorer weights and cut-offs.
	Detection DetectionConfig `toml:"detection" json:"detection" yaml:"detection"`

	Conversion ConversionConfig `toml:"conversion" json:"conversion" yaml:"conversion"`

	// Storage configures the SQLite layout store.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Server configures the layoutd HTTP API.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// LayoutsConfig holds layout source configuration.
type LayoutsConfig struct {
	// Builtins installs the layouts shipped with the binary.
	Builtins bool `toml:"builtins" json:"builtins" yaml:"builtins"`

	// Dirs are directories of JSON, TOML or YAML layout files.
	Dirs []string `toml:"dirs" json:"dirs" yaml:"dirs"`

	// Watch reloads layout files when they change (layoutd only).
	Watch bool `toml:"watch" json:"watch" yaml:"watch"`

	// DebounceMs is how long a file must be quiet before it is reloaded.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// DetectionConfig holds the layout detection weights.
type DetectionConfig struct {
	CoverageWeight   float64 `toml:"coverage_weight" json:"coverage_weight" yaml:"coverage_weight"`
	VocabularyWeight float64 `toml:"vocabulary_weight" json:"vocabulary_weight" yaml:"vocabulary_weight"`
	ScriptBonus      float64 `toml:"script_bonus" json:"script_bonus" yaml:"script_bonus"`
	PriorWeight      float64 `toml:"prior_weight" json:"prior_weight" yaml:"prior_weight"`
	HintBonus        float64 `toml:"hint_bonus" json:"hint_bonus" yaml:"hint_bonus"`

	// Threshold drops layouts scoring at or below it.
	Threshold float64 `toml:"threshold" json:"threshold" yaml:"threshold"`

	// MaxResults truncates the ranking; 0 keeps every layout above Threshold.
	MaxResults int `toml:"max_results" json:"max_results" yaml:"max_results"`
}

// ConversionConfig holds conversion behavior.
type ConversionConfig struct {
	// Lenient returns the input unchanged when a layout is unknown instead
	// of failing.
	Lenient bool `toml:"lenient" json:"lenient" yaml:"lenient"`

	// Concurrency bounds batch conversion; 0 means GOMAXPROCS.
	Concurrency int `toml:"concurrency" json:"concurrency" yaml:"concurrency"`

	// MaxBatch limits the number of texts in one batch request.
	MaxBatch int `toml:"max_batch" json:"max_batch" yaml:"max_batch"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// RedactText keeps converted text out of the logs.
	RedactText bool `toml:"redact_text" json:"redact_text" yaml:"redact_text"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr               string `toml:"addr" json:"addr" yaml:"addr"`
	ReadTimeoutSec     int    `toml:"read_timeout_sec" json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec    int    `toml:"write_timeout_sec" json:"write_timeout_sec" yaml:"write_timeout_sec"`
	ShutdownTimeoutSec int    `toml:"shutdown_timeout_sec" json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
	MaxBodyBytes       int64  `toml:"max_body_bytes" json:"max_body_bytes" yaml:"max_body_bytes"`

	// Metrics exposes Prometheus metrics on /metrics.
	Metrics bool `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Layouts: LayoutsConfig{
			Builtins:   true,
			Dirs:       []string{filepath.Join(dir, "layouts")},
			Watch:      true,
			DebounceMs: 100,
		},
		Detection: DetectionConfig{
			CoverageWeight:   1,
			VocabularyWeight: 1,
			ScriptBonus:      0.5,
			PriorWeight:      0.1,
			HintBonus:        0.05,
			Threshold:        0.1,
			MaxResults:       0,
		},
		Conversion: ConversionConfig{
			Lenient:     false,
			Concurrency: 0,
			MaxBatch:    1000,
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "layouts.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "layoutd.log"),
			MaxSizeMB:  50,
			MaxBackups: 3,
			RedactText: true,
		},
		Server: ServerConfig{
			Addr:               "127.0.0.1:8765",
			ReadTimeoutSec:     10,
			WriteTimeoutSec:    10,
			ShutdownTimeoutSec: 15,
			MaxBodyBytes:       1 << 20,
			Metrics:            true,
		},
	}
}

// DataDir returns the base layoutconv directory. LAYOUTCONV_DATA_DIR
// overrides the platform default.
func DataDir() string {
	if envDir := os.Getenv("LAYOUTCONV_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if p := FindConfigFile(); p != "" {
		return p
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from path, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := append([]string{}, c.Layouts.Dirs...)
	if c.Storage.Enabled {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(expandPath(dir), 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with LAYOUTCONV_.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("LAYOUTCONV_LAYOUT_DIRS"); v != "" {
		c.Layouts.Dirs = filepath.SplitList(v)
	}
	if v, ok := envBool("LAYOUTCONV_BUILTINS"); ok {
		c.Layouts.Builtins = v
	}
	if v, ok := envBool("LAYOUTCONV_WATCH"); ok {
		c.Layouts.Watch = v
	}

	if v := os.Getenv("LAYOUTCONV_DETECTION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Detection.Threshold = f
		}
	}
	if v := os.Getenv("LAYOUTCONV_DETECTION_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Detection.MaxResults = n
		}
	}

	if v, ok := envBool("LAYOUTCONV_LENIENT"); ok {
		c.Conversion.Lenient = v
	}

	if v := os.Getenv("LAYOUTCONV_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v, ok := envBool("LAYOUTCONV_STORAGE_ENABLED"); ok {
		c.Storage.Enabled = v
	}

	if v := os.Getenv("LAYOUTCONV_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LAYOUTCONV_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("LAYOUTCONV_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	if v := os.Getenv("LAYOUTCONV_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version: c.Version,
		Layouts: LayoutsConfig{
			Builtins:   c.Layouts.Builtins,
			Dirs:       append([]string{}, c.Layouts.Dirs...),
			Watch:      c.Layouts.Watch,
			DebounceMs: c.Layouts.DebounceMs,
		},
		Detection:  c.Detection,
		Conversion: c.Conversion,
		Storage:    c.Storage,
		Logging:    c.Logging,
		Server:     c.Server,
	}
}

// LayoutDirs returns the layout directories with ~ expanded.
func (c *Config) LayoutDirs() []string {
	dirs := make([]string, 0, len(c.Layouts.Dirs))
	for _, d := range c.Layouts.Dirs {
		dirs = append(dirs, expandPath(d))
	}
	return dirs
}

// DatabasePath returns the storage path with ~ expanded.
func (c *Config) DatabasePath() string {
	return expandPath(c.Storage.Path)
}

// LoggerConfig converts the logging section into a logging.Config.
func (l LoggingConfig) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(l.Format)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	cfg.Output = l.Output
	cfg.FilePath = expandPath(l.FilePath)
	cfg.MaxSize = int64(l.MaxSizeMB)
	cfg.MaxBackups = l.MaxBackups
	cfg.RedactText = l.RedactText
	return cfg, nil
}
