// Package config loads the tool settings. Every optional field has a
// declared default, resolved once at load time; nothing is ambient.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	DefaultBaseName  = "OpenPort"
	DefaultPortsFile = "ports.csv"
	defaultStateName = "openport-state.json"
)

// Settings configures a run. It is threaded explicitly into the
// orchestrator and from there to each component.
type Settings struct {
	// BaseName prefixes every firewall rule this tool manages.
	BaseName string `yaml:"baseName"`
	// Profiles scopes created rules (Windows firewall profiles).
	Profiles []string `yaml:"profiles"`
	// PortsFile is the tabular port configuration.
	PortsFile string `yaml:"portsFile"`
	// StateFile is the snapshot of the last applied run. Defaults to
	// a fixed name beside PortsFile.
	StateFile string `yaml:"stateFile"`
	// ForwardTarget, when set, overrides per-row forward addresses and
	// guest address discovery.
	ForwardTarget string `yaml:"forwardTarget"`
	// Forwarding enables redirection-table reconciliation on apply.
	Forwarding bool `yaml:"forwarding"`
}

// Defaults returns a fully-populated Settings.
func Defaults() *Settings {
	s := &Settings{
		BaseName:  DefaultBaseName,
		Profiles:  []string{"any"},
		PortsFile: DefaultPortsFile,
	}
	s.StateFile = filepath.Join(filepath.Dir(s.PortsFile), defaultStateName)
	return s
}

// New parses YAML settings from reader and applies defaults for every
// absent field.
func New(reader io.Reader) (*Settings, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	s := &Settings{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if s.BaseName == "" {
		s.BaseName = DefaultBaseName
	}
	if len(s.Profiles) == 0 {
		s.Profiles = []string{"any"}
	}
	if s.PortsFile == "" {
		s.PortsFile = DefaultPortsFile
	}
	if s.StateFile == "" {
		s.StateFile = filepath.Join(filepath.Dir(s.PortsFile), defaultStateName)
	}
	return s, nil
}

// Load reads settings from path. A missing file yields defaults; the
// port table, not the settings file, is the only fatal dependency.
func Load(path string) (*Settings, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}
	defer f.Close()
	return New(f)
}
