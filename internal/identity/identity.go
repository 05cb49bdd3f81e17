// Package identity resolves the operator name used to claim tasks.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrNoProfile is returned by Load when nobody has logged in.
var ErrNoProfile = errors.New("no operator profile")

// Provider yields the current operator's display name.
type Provider interface {
	OperatorName() string
}

// Static is a fixed operator name.
type Static string

func (s Static) OperatorName() string { return string(s) }

// Profile is the persisted operator identity.
type Profile struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager reads and writes the profile file.
type Manager struct {
	configDir string
	override  string

	mu      sync.RWMutex
	profile *Profile
}

var _ Provider = (*Manager)(nil)

// DefaultConfigDir is ~/.config/callqueue, honouring XDG_CONFIG_HOME.
func DefaultConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "callqueue"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "callqueue"), nil
}

// NewManager loads any existing profile from configDir. An empty configDir
// means DefaultConfigDir. override, when set, wins over the profile.
func NewManager(configDir, override string) (*Manager, error) {
	if configDir == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{configDir: configDir, override: strings.TrimSpace(override)}
	if p, err := m.load(); err == nil {
		m.profile = p
	}
	return m, nil
}

func (m *Manager) profilePath() string {
	return filepath.Join(m.configDir, "profile.json")
}

func (m *Manager) load() (*Profile, error) {
	data, err := os.ReadFile(m.profilePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoProfile
	}
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if p.Name == "" {
		return nil, ErrNoProfile
	}
	return &p, nil
}

// Login persists name as the operator identity.
func (m *Manager) Login(name string) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("operator name is required")
	}
	p := &Profile{Name: name, CreatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(m.profilePath(), data, 0600); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}

	m.mu.Lock()
	m.profile = p
	m.mu.Unlock()
	return p, nil
}

// Logout removes the stored profile.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.profile = nil
	m.mu.Unlock()
	if err := os.Remove(m.profilePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Profile returns the stored profile, or nil.
func (m *Manager) Profile() *Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.profile == nil {
		return nil
	}
	p := *m.profile
	return &p
}

// OperatorName resolves override, then the stored profile, then the OS user.
func (m *Manager) OperatorName() string {
	if m.override != "" {
		return m.override
	}
	if p := m.Profile(); p != nil {
		return p.Name
	}
	return systemUser()
}

func systemUser() string {
	if u, err := user.Current(); err == nil {
		if u.Name != "" {
			return u.Name
		}
		if u.Username != "" {
			return u.Username
		}
	}
	if host, err := os.Hostname(); err == nil {
		return "operator@" + host
	}
	return "operator"
}
