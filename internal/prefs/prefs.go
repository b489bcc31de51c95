// Package prefs persists the §3 Preferences: selected dongle, the
// "use external" toggle, the auto-disable-on-error flag, keyboard layout
// code, volume-key mappings, and the share-input flag. Grounded on
// pkg/config.Config/DefaultConfig for the "typed struct + defaults
// function + logger-friendly shape" idiom, but persisted (the teacher's
// Config was in-memory only) via YAML, with defaults expressed as
// mcuadros/go-defaults struct tags instead of a literal constructor.
package prefs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"

	"github.com/srg/keybridge/internal/orchestrator"
)

// VolumeKeyMapping maps one physical volume control to an HID usage code
// (§3 "volume-key mappings").
type VolumeKeyMapping struct {
	Control string `yaml:"control"`
	Usage   byte   `yaml:"usage"`
}

// Preferences is the on-disk preferences document.
type Preferences struct {
	PrimaryAddress  string             `yaml:"primary_address" default:""`
	UseExternal     bool               `yaml:"use_external" default:"true"`
	DisabledByError bool               `yaml:"disabled_by_error" default:"false"`
	LayoutCode      string             `yaml:"layout_code" default:"US"`
	ShareInput      bool               `yaml:"share_input" default:"false"`
	VolumeKeys      []VolumeKeyMapping `yaml:"volume_keys"`
	BondedWithKey   []string           `yaml:"bonded_with_key"`
}

// DefaultPreferences returns a Preferences value with every `default` tag
// applied (the mcuadros/go-defaults idiom pkg/config.DefaultConfig used a
// literal struct for; here defaults live as tags since the struct is also
// a YAML marshal target).
func DefaultPreferences() *Preferences {
	p := &Preferences{}
	defaults.SetDefaults(p)
	return p
}

// Store owns one preferences.yaml file. Safe for concurrent use.
type Store struct {
	path string

	mu   sync.Mutex
	prefs Preferences
}

// Open loads preferences from path, creating it with defaults if absent.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.prefs = *DefaultPreferences()
		return s.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("prefs: reading %s: %w", s.path, err)
	}

	p := *DefaultPreferences()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("prefs: parsing %s: %w", s.path, err)
	}
	s.prefs = p
	return nil
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("prefs: creating dir for %s: %w", s.path, err)
	}
	data, err := yaml.Marshal(&s.prefs)
	if err != nil {
		return fmt.Errorf("prefs: marshaling: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("prefs: writing %s: %w", s.path, err)
	}
	return nil
}

// All returns a copy of the current preferences.
func (s *Store) All() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Snapshot implements orchestrator.Prefs.
func (s *Store) Snapshot() orchestrator.PreferenceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return orchestrator.PreferenceSnapshot{
		PrimaryAddress:  s.prefs.PrimaryAddress,
		UseExternal:     s.prefs.UseExternal,
		DisabledByError: s.prefs.DisabledByError,
		BondedWithKey:   append([]string(nil), s.prefs.BondedWithKey...),
	}
}

// SetPrimary implements orchestrator.Prefs.
func (s *Store) SetPrimary(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.PrimaryAddress = address
	if !containsAddr(s.prefs.BondedWithKey, address) {
		s.prefs.BondedWithKey = append(s.prefs.BondedWithKey, address)
	}
	return s.saveLocked()
}

// SetDisabledByError implements orchestrator.Prefs.
func (s *Store) SetDisabledByError(disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.DisabledByError = disabled
	return s.saveLocked()
}

// SetUseExternal toggles whether auto-connect is allowed at all (a
// deliberate user choice, distinct from DisabledByError which the
// orchestrator sets itself).
func (s *Store) SetUseExternal(use bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.UseExternal = use
	return s.saveLocked()
}

// SetLayoutCode persists the last layout code pushed to the dongle.
func (s *Store) SetLayoutCode(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.LayoutCode = code
	return s.saveLocked()
}

// SetShareInput toggles the share-input flag.
func (s *Store) SetShareInput(share bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.ShareInput = share
	return s.saveLocked()
}

// SetVolumeKeys replaces the volume-key mapping table.
func (s *Store) SetVolumeKeys(mappings []VolumeKeyMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.VolumeKeys = mappings
	return s.saveLocked()
}

// Forget clears the primary device and its bonded-with-key entry (§4.6
// FactoryReset / "forget device" UI flows).
func (s *Store) Forget(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs.PrimaryAddress == address {
		s.prefs.PrimaryAddress = ""
	}
	s.prefs.BondedWithKey = removeAddr(s.prefs.BondedWithKey, address)
	return s.saveLocked()
}

func containsAddr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeAddr(list []string, v string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
