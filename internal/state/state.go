// Package state persists the set of units applied on the last
// successful run, so the next run can detect removals. The snapshot is
// a whole-file JSON document with no versioning: it is either complete
// or absent.
package state

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/micrictor/openport/internal/rules"
)

// Unit is the persisted projection of a canonical unit.
type Unit struct {
	Port         int    `json:"Port"`
	Protocol     string `json:"Protocol"`
	Description  string `json:"Description"`
	OriginalSpec string `json:"OriginalSpec"`
	Enabled      bool   `json:"Enabled"`
}

type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the previous run's units. A missing or unreadable
// snapshot degrades to "no prior state"; it is never fatal.
func (s *Store) Load() []Unit {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("failed to read state file, assuming no prior state")
		return nil
	}

	var units []Unit
	if err := json.Unmarshal(data, &units); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("state file is corrupt, assuming no prior state")
		return nil
	}
	return units
}

// Save overwrites the snapshot wholesale.
func (s *Store) Save(units []Unit) error {
	data, err := json.MarshalIndent(units, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// Clear removes the snapshot after a teardown. A missing file is fine.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// FromUnits projects canonical units into their persisted form.
func FromUnits(units []rules.Unit) []Unit {
	persisted := make([]Unit, 0, len(units))
	for _, u := range units {
		persisted = append(persisted, Unit{
			Port:         int(u.Port),
			Protocol:     string(u.Protocol),
			Description:  u.Description,
			OriginalSpec: u.SourceSpec,
			Enabled:      u.Enabled,
		})
	}
	return persisted
}

// Keys returns the reconciliation keys of the persisted units.
func Keys(units []Unit) []rules.Key {
	keys := make([]rules.Key, 0, len(units))
	for _, u := range units {
		keys = append(keys, rules.Key{
			Port:        uint16(u.Port),
			Protocol:    rules.Protocol(u.Protocol),
			Description: u.Description,
		})
	}
	return keys
}
