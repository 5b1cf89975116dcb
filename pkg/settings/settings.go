// Package settings manages persistent user settings for the echobench CLI.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Settings holds persistent user preferences
type Settings struct {
	// DefaultConfig is the run file used when none is given on the command line
	DefaultConfig string `json:"default_config,omitempty"`

	// RedisAddr overrides the control.addr and publish.addr of run files
	RedisAddr string `json:"redis_addr,omitempty"`

	// TraceDir is where `echobench run --trace` writes trace files by default
	TraceDir string `json:"trace_dir,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "echobench_settings.json"
	}
	return filepath.Join(home, ".echobench", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file yields
// empty settings.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetTraceDir returns the trace directory (with fallback)
func (s *Settings) GetTraceDir() string {
	if s.TraceDir != "" {
		return s.TraceDir
	}
	return "."
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
