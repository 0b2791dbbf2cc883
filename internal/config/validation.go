package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/WinkyTy/layout-converter/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidateConfig validates the configuration. Warnings alone do not fail
// validation; use Check to see them.
func ValidateConfig(c *Config) error {
	errs := Check(c)
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Check returns every validation issue, warnings included.
func Check(c *Config) ValidationErrors {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateLayouts(&c.Layouts)...)
	errs = append(errs, validateDetection(&c.Detection)...)
	errs = append(errs, validateConversion(&c.Conversion)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateServer(&c.Server)...)

	return errs
}

func validateLayouts(l *LayoutsConfig) ValidationErrors {
	var errs ValidationErrors

	if !l.Builtins && len(l.Dirs) == 0 {
		errs = append(errs, ValidationError{
			Field:   "layouts",
			Message: "builtins are disabled and no layout directories are configured",
		})
	}
	for i, dir := range l.Dirs {
		if dir == "" {
			errs = append(errs, *RequiredFieldError(fmt.Sprintf("layouts.dirs[%d]", i)))
			continue
		}
		if _, err := os.Stat(expandPath(dir)); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("layouts.dirs[%d]", i),
				Message: fmt.Sprintf("directory %s is not accessible: %v", dir, err),
			})
		}
	}
	if l.DebounceMs < 0 || l.DebounceMs > 10000 {
		errs = append(errs, *RangeError("layouts.debounce_ms", 0, 10000))
	}

	return errs
}

func validateDetection(d *DetectionConfig) ValidationErrors {
	var errs ValidationErrors

	weights := []struct {
		field string
		value float64
	}{
		{"detection.coverage_weight", d.CoverageWeight},
		{"detection.vocabulary_weight", d.VocabularyWeight},
		{"detection.script_bonus", d.ScriptBonus},
		{"detection.prior_weight", d.PriorWeight},
		{"detection.hint_bonus", d.HintBonus},
	}
	for _, w := range weights {
		if w.value < 0 {
			errs = append(errs, ValidationError{Field: w.field, Message: "must not be negative"})
		}
	}
	if d.CoverageWeight == 0 && d.VocabularyWeight == 0 && d.ScriptBonus == 0 && d.PriorWeight == 0 {
		errs = append(errs, ValidationError{
			Field:   "detection",
			Message: "all scoring weights are zero",
		})
	}
	if d.Threshold < 0 {
		errs = append(errs, ValidationError{Field: "detection.threshold", Message: "must not be negative"})
	}
	if d.MaxResults < 0 {
		errs = append(errs, ValidationError{Field: "detection.max_results", Message: "must not be negative"})
	}

	return errs
}

func validateConversion(c *ConversionConfig) ValidationErrors {
	var errs ValidationErrors

	if c.Concurrency < 0 || c.Concurrency > 1024 {
		errs = append(errs, *RangeError("conversion.concurrency", 0, 1024))
	}
	if c.MaxBatch < 1 {
		errs = append(errs, ValidationError{Field: "conversion.max_batch", Message: "must be at least 1"})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Enabled && s.Path == "" {
		errs = append(errs, *RequiredFieldError("storage.path"))
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level %q (must be debug, info, warn or error)", l.Level),
		})
	}
	if _, err := logging.ParseFormat(l.Format); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format %q (must be text or json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, *RequiredFieldError("logging.file_path"))
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid output %q (must be stdout, stderr, file or both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 || l.MaxSizeMB > 1024 {
		errs = append(errs, *RangeError("logging.max_size_mb", 1, 1024))
	}
	if l.MaxBackups < 0 || l.MaxBackups > 100 {
		errs = append(errs, *RangeError("logging.max_backups", 0, 100))
	}

	return errs
}

func validateServer(s *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Addr == "" {
		errs = append(errs, *RequiredFieldError("server.addr"))
	} else if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "server.addr",
			Message: fmt.Sprintf("invalid listen address %q: %v", s.Addr, err),
		})
	}
	if s.ReadTimeoutSec < 1 {
		errs = append(errs, ValidationError{Field: "server.read_timeout_sec", Message: "must be at least 1"})
	}
	if s.WriteTimeoutSec < 1 {
		errs = append(errs, ValidationError{Field: "server.write_timeout_sec", Message: "must be at least 1"})
	}
	if s.ShutdownTimeoutSec < 1 {
		errs = append(errs, ValidationError{Field: "server.shutdown_timeout_sec", Message: "must be at least 1"})
	}
	if s.MaxBodyBytes < 1024 {
		errs = append(errs, ValidationError{Field: "server.max_body_bytes", Message: "must be at least 1024"})
	}

	return errs
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	// Layout directories may be created after the config is written.
	return strings.HasPrefix(e.Field, "layouts.dirs")
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
