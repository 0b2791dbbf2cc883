package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/layoutconv/
//   - Linux:   $XDG_DATA_HOME/layoutconv/ or ~/.local/share/layoutconv/
//   - Windows: %APPDATA%\layoutconv\
//
// Falls back to ~/.layoutconv if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxDataDir()
	case "windows":
		return windowsDataDir()
	default:
		return fallbackDataDir()
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/layoutconv/
//   - Linux:   $XDG_CONFIG_HOME/layoutconv/ or ~/.config/layoutconv/
//   - Windows: %APPDATA%\layoutconv\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxConfigDir()
	case "windows":
		return windowsDataDir()
	default:
		return fallbackDataDir()
	}
}

func macOSDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return fallbackDataDir()
	}
	return filepath.Join(home, "Library", "Application Support", "layoutconv")
}

func linuxDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "layoutconv")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallbackDataDir()
	}
	return filepath.Join(home, ".local", "share", "layoutconv")
}

func linuxConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "layoutconv")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallbackDataDir()
	}
	return filepath.Join(home, ".config", "layoutconv")
}

func windowsDataDir() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "layoutconv")
	}
	return fallbackDataDir()
}

func fallbackDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".layoutconv")
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	// Current directory first, then the config directory, then the data
	// directory.
	searchDirs := []string{".", PlatformConfigDir(), DataDir()}

	for _, dir := range searchDirs {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
