// Package forward reconciles the host's port-redirection table against
// the forwarding-eligible units of the current run.
package forward

import (
	"github.com/rs/zerolog/log"

	"github.com/micrictor/openport/internal/rows"
	"github.com/micrictor/openport/internal/rules"
)

// Result counts the outcome of one forwarding pass.
type Result struct {
	Added   int
	Removed int
	Skipped int
	Errors  int
}

// PickTarget returns the forwarding target for the whole run: the first
// non-empty ForwardAddress in row order. Additional distinct targets are
// ignored with a warning rather than silently dropped.
func PickTarget(portRows []rows.PortRow) string {
	var target string
	for _, row := range portRows {
		if row.ForwardAddress == "" {
			continue
		}
		if target == "" {
			target = row.ForwardAddress
			continue
		}
		if row.ForwardAddress != target {
			log.Warn().Str("target", target).Str("ignored", row.ForwardAddress).
				Msg("multiple forward addresses configured, first one wins")
		}
	}
	return target
}

// Apply replaces the whole live redirection table with entries for the
// eligible units. Entries have no update operation (the target is baked
// in) and are cheap to recreate, so full replacement beats diffing and
// guarantees no stale entry keeps a wrong target.
func Apply(red Redirector, units []rules.Unit, target string, dryRun bool) Result {
	var result Result

	existing, err := red.List()
	if err != nil {
		log.Error().Err(err).Msg("failed to list forwarding entries")
		result.Errors++
		return result
	}
	for _, entry := range existing {
		if dryRun {
			log.Info().Uint16("port", entry.ListenPort).Msg("would remove forwarding entry")
			result.Removed++
			continue
		}
		if err := red.Delete(entry.ListenAddr, entry.ListenPort); err != nil {
			log.Error().Err(err).Uint16("port", entry.ListenPort).
				Msg("failed to remove forwarding entry")
			result.Errors++
			continue
		}
		result.Removed++
	}

	for _, unit := range units {
		if unit.Protocol != rules.ProtocolTCP {
			continue
		}
		if !unit.Forwardable {
			log.Debug().Uint16("port", unit.Port).Str("description", unit.Description).
				Msg("unit excluded from forwarding")
			result.Skipped++
			continue
		}
		entry := Entry{
			ListenAddr:  ListenAddress,
			ListenPort:  unit.Port,
			ConnectAddr: target,
			ConnectPort: unit.Port,
		}
		if dryRun {
			log.Info().Uint16("port", unit.Port).Str("target", target).
				Msg("would add forwarding entry")
			result.Added++
			continue
		}
		if err := red.Add(entry); err != nil {
			log.Error().Err(err).Uint16("port", unit.Port).Str("target", target).
				Msg("failed to add forwarding entry")
			result.Errors++
			continue
		}
		log.Info().Uint16("port", unit.Port).Str("target", target).Msg("added forwarding entry")
		result.Added++
	}
	return result
}

// Teardown removes only the live entries whose listen port belongs to an
// eligible unit; entries this tool never managed are left alone.
func Teardown(red Redirector, units []rules.Unit, dryRun bool) Result {
	var result Result

	managed := make(map[uint16]struct{})
	for _, unit := range units {
		if unit.Forwardable {
			managed[unit.Port] = struct{}{}
		}
	}

	existing, err := red.List()
	if err != nil {
		log.Error().Err(err).Msg("failed to list forwarding entries")
		result.Errors++
		return result
	}
	for _, entry := range existing {
		if _, ok := managed[entry.ListenPort]; !ok {
			continue
		}
		if dryRun {
			log.Info().Uint16("port", entry.ListenPort).Msg("would remove forwarding entry")
			result.Removed++
			continue
		}
		if err := red.Delete(entry.ListenAddr, entry.ListenPort); err != nil {
			log.Error().Err(err).Uint16("port", entry.ListenPort).
				Msg("failed to remove forwarding entry")
			result.Errors++
			continue
		}
		log.Info().Uint16("port", entry.ListenPort).Msg("removed forwarding entry")
		result.Removed++
	}
	return result
}
