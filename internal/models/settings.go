package models

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const appDirName = "nightscout-autotune"

// Settings contains all application settings
type Settings struct {
	// Connection settings
	NightscoutURL  string        `yaml:"nightscoutUrl" validate:"required,url"`
	APISecret      string        `yaml:"apiSecret"` // Plain API secret (will be hashed)
	APIToken       string        `yaml:"apiToken"`  // Token-based auth
	UseToken       bool          `yaml:"useToken"`  // Use token instead of secret
	RequestTimeout time.Duration `yaml:"requestTimeout" validate:"gt=0"`
	RetryAttempts  int           `yaml:"retryAttempts" validate:"gte=1,lte=10"`
	RetryBackoff   time.Duration `yaml:"retryBackoff" validate:"gte=0"`

	// Autotune settings
	AutotunePath    string        `yaml:"autotunePath" validate:"required"`
	AutotuneTimeout time.Duration `yaml:"autotuneTimeout" validate:"gt=0"`
	Days            int           `yaml:"days" validate:"gte=1,lte=90"`
	ProfileName     string        `yaml:"profileName"` // Empty = document default

	// Local state
	BackupDB            string `yaml:"backupDb"`  // Empty disables snapshots
	ReportDir           string `yaml:"reportDir"` // Where tune --report writes charts by default
	EnableNotifications bool   `yaml:"enableNotifications"`
}

// DefaultSettings returns settings with default values
func DefaultSettings() *Settings {
	return &Settings{
		RequestTimeout: 30 * time.Second,
		RetryAttempts:  3,
		RetryBackoff:   time.Second,

		AutotunePath:    "/usr/local/bin/oref0-autotune",
		AutotuneTimeout: 10 * time.Minute,
		Days:            7,

		EnableNotifications: false,
	}
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	appDir := filepath.Join(configDir, appDirName)
	if err := os.MkdirAll(appDir, 0750); err != nil {
		return "", err
	}

	return appDir, nil
}

// GetConfigPath returns the full path to the config file
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

// LoadSettings reads settings from path (or the default location when
// path is empty) and applies environment overrides. A missing file yields
// the defaults.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	s := DefaultSettings()
	data, err := os.ReadFile(path) //nolint:gosec // Config path is chosen by the user running the CLI
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, err
		}
	}

	s.applyEnv()
	return s, nil
}

// applyEnv lets secrets live outside the config file
func (s *Settings) applyEnv() {
	if v := os.Getenv("NIGHTSCOUT_URL"); v != "" {
		s.NightscoutURL = v
	}
	if v := os.Getenv("NIGHTSCOUT_API_SECRET"); v != "" {
		s.APISecret = v
	}
	if v := os.Getenv("NIGHTSCOUT_API_TOKEN"); v != "" {
		s.APIToken = v
		s.UseToken = true
	}
}

// Save writes settings to path with owner-only permissions
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks that the settings are usable
func (s *Settings) Validate() error {
	return Validate("Settings", s)
}

// IsConfigured returns true if minimum required settings are set
func (s *Settings) IsConfigured() bool {
	return s.NightscoutURL != ""
}
