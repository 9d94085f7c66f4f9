package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrNoConfig = errors.New("no config selected")

const DefaultLabel = "Default"

// ConfigRoot is the platform config directory for wxstrip.
func ConfigRoot() string {
	// Windows
	if appdata := os.Getenv("APPDATA"); appdata != "" {
		return filepath.Join(appdata, "wxstrip")
	}

	// Linux/macOS XDG
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wxstrip")
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "wxstrip")
}

// Store manages labelled profiles under Root: configs/<label>.yaml plus a
// current_config file naming the active one.
type Store struct {
	Root string
}

func NewStore(root string) *Store {
	return &Store{Root: root}
}

func DefaultStore() *Store {
	return NewStore(ConfigRoot())
}

func (s *Store) Dir() string {
	return filepath.Join(s.Root, "configs")
}

func (s *Store) currentFile() string {
	return filepath.Join(s.Root, "current_config")
}

// Path returns the file backing label. It does not check existence.
func (s *Store) Path(label string) string {
	return filepath.Join(s.Dir(), label+".yaml")
}

func (s *Store) ensureDirs() error {
	return os.MkdirAll(s.Dir(), 0755)
}

func (s *Store) exists(label string) bool {
	_, err := os.Stat(s.Path(label))
	return err == nil
}

func validLabel(label string) error {
	if strings.TrimSpace(label) == "" {
		return errors.New("label cannot be empty")
	}
	if strings.ContainsAny(label, `/\`) || label == "." || label == ".." {
		return fmt.Errorf("invalid label %q", label)
	}
	return nil
}

func (s *Store) CurrentLabel() (string, error) {
	b, err := os.ReadFile(s.currentFile())
	if os.IsNotExist(err) {
		return "", ErrNoConfig
	}
	if err != nil {
		return "", err
	}

	label := strings.TrimSpace(string(b))
	if label == "" {
		return "", ErrNoConfig
	}
	return label, nil
}

func (s *Store) ActivePath() (string, error) {
	label, err := s.CurrentLabel()
	if err != nil {
		return "", err
	}

	return s.Path(label), nil
}

type ConfigInfo struct {
	Label  string
	Path   string
	Active bool
}

func (s *Store) List() ([]ConfigInfo, error) {
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		return nil, err
	}

	active, _ := s.CurrentLabel()
	var out []ConfigInfo

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}

		label := strings.TrimSuffix(name, ".yaml")
		out = append(out, ConfigInfo{
			Label:  label,
			Path:   filepath.Join(s.Dir(), name),
			Active: label == active,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *Store) Switch(label string) error {
	if err := validLabel(label); err != nil {
		return err
	}
	if !s.exists(label) {
		return fmt.Errorf("config %q does not exist", label)
	}

	return os.WriteFile(s.currentFile(), []byte(label), 0644)
}

// Create writes cfg as a new profile. It refuses to overwrite.
func (s *Store) Create(label string, cfg *Config) (string, error) {
	if err := validLabel(label); err != nil {
		return "", err
	}
	if err := s.ensureDirs(); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if s.exists(label) {
		return "", fmt.Errorf("a config named %q already exists", label)
	}

	path := s.Path(label)
	if err := SaveYAML(cfg, path); err != nil {
		return "", fmt.Errorf("failed to save YAML: %w", err)
	}

	return path, nil
}

// Rename moves a profile and keeps it active if it was.
func (s *Store) Rename(oldLabel, newLabel string) error {
	if err := validLabel(oldLabel); err != nil {
		return err
	}
	if err := validLabel(newLabel); err != nil {
		return err
	}
	if !s.exists(oldLabel) {
		return fmt.Errorf("config %q does not exist", oldLabel)
	}
	if s.exists(newLabel) {
		return fmt.Errorf("config %q already exists", newLabel)
	}

	if err := os.Rename(s.Path(oldLabel), s.Path(newLabel)); err != nil {
		return err
	}

	active, _ := s.CurrentLabel()
	if active == oldLabel {
		return os.WriteFile(s.currentFile(), []byte(newLabel), 0644)
	}

	return nil
}

func (s *Store) Remove(label string) error {
	if err := validLabel(label); err != nil {
		return err
	}
	if label == DefaultLabel {
		return errors.New("cannot remove the Default config")
	}
	if !s.exists(label) {
		return fmt.Errorf("config %q does not exist", label)
	}

	active, _ := s.CurrentLabel()
	if active == label {
		if s.exists(DefaultLabel) {
			if err := s.Switch(DefaultLabel); err != nil {
				return fmt.Errorf("failed switching to Default: %w", err)
			}
		} else if err := os.Remove(s.currentFile()); err != nil {
			return err
		}
	}

	return os.Remove(s.Path(label))
}

// Reset overwrites the active profile with defaults.
func (s *Store) Reset() (string, error) {
	path, err := s.ActivePath()
	if err != nil {
		return "", err
	}

	return path, SaveYAML(DefaultConfig(), path)
}
