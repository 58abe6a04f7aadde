package settings

import (
	"errors"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/tomaslejdung/sharescreen/pkg/media"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const appDir = "sharescreen"

// UserSettings holds persistable user preferences. Session state is never
// stored here.
type UserSettings struct {
	Profile  string `json:"profile"`
	Nickname string `json:"nickname,omitempty"`
	Initials string `json:"initials,omitempty"`
	Color    string `json:"color,omitempty"`
}

// DefaultSettings returns the default settings
func DefaultSettings() UserSettings {
	return UserSettings{
		Profile: media.DefaultProfile().Name,
	}
}

// Manager loads and saves user settings at one path
type Manager struct {
	path     string
	settings UserSettings
}

// NewManager creates a settings manager with the default config path
func NewManager() (*Manager, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return NewManagerAt(path), nil
}

// NewManagerAt creates a settings manager for an explicit file
func NewManagerAt(path string) *Manager {
	return &Manager{path: path, settings: DefaultSettings()}
}

// ConfigPath returns the settings file path.
// Uses XDG_CONFIG_HOME if set, otherwise the OS config directory.
func ConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir, "config.json"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appDir, "config.json"), nil
}

// Path is the file this manager reads and writes
func (m *Manager) Path() string { return m.path }

// Load reads settings from the config file.
// Returns default settings if the file doesn't exist or is invalid.
func (m *Manager) Load() (UserSettings, error) {
	m.settings = DefaultSettings()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m.settings, nil
		}
		return m.settings, err
	}

	// missing fields keep their defaults
	if err := json.Unmarshal(data, &m.settings); err != nil {
		m.settings = DefaultSettings()
		return m.settings, nil
	}

	if _, ok := media.ProfileByName(m.settings.Profile); !ok {
		m.settings.Profile = DefaultSettings().Profile
	}
	return m.settings, nil
}

// Save writes settings to the config file
func (m *Manager) Save(settings UserSettings) error {
	m.settings = settings

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

// Settings returns the last loaded or saved settings
func (m *Manager) Settings() UserSettings {
	return m.settings
}
