package rules

import (
	"errors"

	"github.com/rs/zerolog/log"
)

type Mode int

const (
	// ModeApply converges the live rule set toward the desired units.
	ModeApply Mode = iota
	// ModeTeardown removes every managed rule named by a desired unit.
	ModeTeardown
)

// Plan partitions the desired units against a snapshot of live rules.
type Plan struct {
	Create []Unit
	// Update holds units whose rule exists with the wrong enabled state.
	// The rule is never recreated for a state change.
	Update []Unit
	// Remove holds rule names to delete (teardown mode only).
	Remove        []string
	Unchanged     int
	AlreadyAbsent int
}

// Result counts the outcome of applying a plan. Each mutation is
// independently committed; one failure never aborts the batch.
type Result struct {
	Created       int
	Updated       int
	Removed       int
	Unchanged     int
	AlreadyAbsent int
	Errors        int
}

// Classify walks the units and decides, per unit, what the live rule set
// needs. Rule identity is the deterministic name derived from base.
func Classify(units []Unit, live map[string]LiveRule, base string, mode Mode) Plan {
	var plan Plan
	for _, unit := range units {
		name := RuleName(base, unit.Description, unit.Port, unit.Protocol)
		rule, exists := live[name]

		if mode == ModeTeardown {
			if exists {
				plan.Remove = append(plan.Remove, name)
			} else {
				plan.AlreadyAbsent++
			}
			continue
		}

		switch {
		case !exists:
			plan.Create = append(plan.Create, unit)
		case rule.Enabled != unit.Enabled:
			plan.Update = append(plan.Update, unit)
		default:
			plan.Unchanged++
		}
	}
	return plan
}

// Apply issues the plan's mutations against the firewall. In dry-run
// each mutation is logged and counted as if it succeeded.
func Apply(plan Plan, fw Firewall, base string, dryRun bool) Result {
	result := Result{Unchanged: plan.Unchanged, AlreadyAbsent: plan.AlreadyAbsent}

	for _, unit := range plan.Create {
		name := RuleName(base, unit.Description, unit.Port, unit.Protocol)
		if dryRun {
			log.Info().Str("rule", name).Bool("enabled", unit.Enabled).Msg("would create rule")
			result.Created++
			continue
		}
		if err := fw.Create(name, unit.Port, unit.Protocol, unit.Enabled); err != nil {
			log.Error().Err(err).Str("rule", name).Str("spec", unit.SourceSpec).
				Msg("failed to create rule")
			result.Errors++
			continue
		}
		log.Info().Str("rule", name).Bool("enabled", unit.Enabled).Msg("created rule")
		result.Created++
	}

	for _, unit := range plan.Update {
		name := RuleName(base, unit.Description, unit.Port, unit.Protocol)
		if dryRun {
			log.Info().Str("rule", name).Bool("enabled", unit.Enabled).Msg("would update rule")
			result.Updated++
			continue
		}
		if err := fw.SetEnabled(name, unit.Enabled); err != nil {
			log.Error().Err(err).Str("rule", name).Str("spec", unit.SourceSpec).
				Msg("failed to update rule")
			result.Errors++
			continue
		}
		log.Info().Str("rule", name).Bool("enabled", unit.Enabled).Msg("updated rule")
		result.Updated++
	}

	for _, name := range plan.Remove {
		removed, absent, failed := deleteRule(fw, name, dryRun)
		result.Removed += removed
		result.AlreadyAbsent += absent
		result.Errors += failed
	}

	return result
}

// RemoveObsolete deletes the rules of units that disappeared from the
// configuration since the last run.
func RemoveObsolete(fw Firewall, base string, obsolete []Key, dryRun bool) Result {
	var result Result
	for _, key := range obsolete {
		name := RuleName(base, key.Description, key.Port, key.Protocol)
		removed, absent, failed := deleteRule(fw, name, dryRun)
		result.Removed += removed
		result.AlreadyAbsent += absent
		result.Errors += failed
	}
	return result
}

func deleteRule(fw Firewall, name string, dryRun bool) (removed, absent, failed int) {
	if dryRun {
		log.Info().Str("rule", name).Msg("would remove rule")
		return 1, 0, 0
	}
	err := fw.Delete(name)
	switch {
	case errors.Is(err, ErrNotFound):
		log.Debug().Str("rule", name).Msg("rule already absent")
		return 0, 1, 0
	case err != nil:
		log.Error().Err(err).Str("rule", name).Msg("failed to remove rule")
		return 0, 0, 1
	default:
		log.Info().Str("rule", name).Msg("removed rule")
		return 1, 0, 0
	}
}
