// Package run sequences one reconciliation: load rows, expand, diff
// against prior state, reconcile filter rules and forwarding entries,
// then persist and report.
//
// A run is single-threaded and one-shot. The state file is not locked
// against a second simultaneous invocation; two concurrent runs can race
// on both the live tables and the snapshot. Each unit's mutation is
// independently committed, so an interrupted run leaves a valid partial
// state that the next run reconciles forward from.
package run

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/micrictor/openport/internal/config"
	"github.com/micrictor/openport/internal/forward"
	"github.com/micrictor/openport/internal/rows"
	"github.com/micrictor/openport/internal/rules"
	"github.com/micrictor/openport/internal/state"
)

// Options selects the invocation mode and its modifiers.
type Options struct {
	Teardown    bool
	SkipCleanup bool
	Forwarding  bool
	Target      string
	DryRun      bool
}

// Deps are the external collaborators, injectable for tests.
type Deps struct {
	Firewall   rules.Firewall
	Redirector forward.Redirector
	Resolver   forward.Resolver
	Store      *state.Store
}

// Summary aggregates the outcome counters of a run. Per-unit failures
// land here instead of changing the exit status.
type Summary struct {
	Rules       rules.Result
	Forwarding  forward.Result
	SkippedRows int
	NothingToDo bool
}

// Errors returns the total error count across all phases.
func (s Summary) Errors() int {
	return s.Rules.Errors + s.Forwarding.Errors
}

// Run executes one reconciliation. The only error it returns is the
// fatal one: an unreadable port configuration (or an unanswerable live
// rule query, without which reconciliation would be blind).
func Run(cfg *config.Settings, opts Options, deps Deps) (Summary, error) {
	var summary Summary

	portRows, err := rows.Load(cfg.PortsFile)
	if err != nil {
		return summary, err
	}

	units, skipped := rules.ExpandAll(portRows)
	summary.SkippedRows = skipped

	if opts.Teardown {
		return teardown(cfg, opts, deps, units, summary)
	}

	if len(portRows) == 0 {
		log.Info().Str("portsFile", cfg.PortsFile).Msg("no ports configured, nothing to do")
		summary.NothingToDo = true
		return summary, nil
	}

	live, err := deps.Firewall.List(rules.NamePrefix(cfg.BaseName))
	if err != nil {
		return summary, err
	}

	plan := rules.Classify(units, live, cfg.BaseName, rules.ModeApply)
	summary.Rules = rules.Apply(plan, deps.Firewall, cfg.BaseName, opts.DryRun)

	if !opts.SkipCleanup {
		cleanup(cfg, opts, deps, units, &summary)
	}

	if opts.Forwarding {
		target := pickTarget(cfg, opts, deps, portRows)
		if target == "" {
			log.Warn().Msg("no forwarding target available, skipping forwarding")
		} else {
			summary.Forwarding = forward.Apply(deps.Redirector, units, target, opts.DryRun)
		}
	}

	if !opts.DryRun {
		if err := deps.Store.Save(state.FromUnits(units)); err != nil {
			log.Warn().Err(err).Msg("failed to persist state; removal detection will miss this run")
		}
	}

	report(summary, opts)
	return summary, nil
}

// cleanup tears down rules for units that were applied by a previous run
// but are gone from the current configuration.
func cleanup(cfg *config.Settings, opts Options, deps Deps, units []rules.Unit, summary *Summary) {
	previous := deps.Store.Load()
	if len(previous) == 0 {
		return
	}

	current := make([]rules.Key, 0, len(units))
	for _, u := range units {
		current = append(current, u.Key())
	}

	obsolete := rules.Obsolete(state.Keys(previous), current)
	if len(obsolete) == 0 {
		return
	}
	result := rules.RemoveObsolete(deps.Firewall, cfg.BaseName, obsolete, opts.DryRun)
	summary.Rules.Removed += result.Removed
	summary.Rules.AlreadyAbsent += result.AlreadyAbsent
	summary.Rules.Errors += result.Errors
}

// pickTarget resolves the single forwarding target for the run:
// explicit flag, then settings, then first row address, then guest
// address discovery.
func pickTarget(cfg *config.Settings, opts Options, deps Deps, portRows []rows.PortRow) string {
	if opts.Target != "" {
		return opts.Target
	}
	if cfg.ForwardTarget != "" {
		return cfg.ForwardTarget
	}
	if target := forward.PickTarget(portRows); target != "" {
		return target
	}
	target, err := deps.Resolver.Resolve()
	if err != nil {
		log.Warn().Err(err).Msg("guest address discovery failed")
		return ""
	}
	return target
}

func teardown(cfg *config.Settings, opts Options, deps Deps, units []rules.Unit, summary Summary) (Summary, error) {
	live, err := deps.Firewall.List(rules.NamePrefix(cfg.BaseName))
	if err != nil {
		return summary, err
	}

	plan := rules.Classify(units, live, cfg.BaseName, rules.ModeTeardown)
	summary.Rules = rules.Apply(plan, deps.Firewall, cfg.BaseName, opts.DryRun)
	summary.Forwarding = forward.Teardown(deps.Redirector, units, opts.DryRun)

	if !opts.DryRun {
		if err := deps.Store.Clear(); err != nil {
			log.Warn().Err(err).Msg("failed to clear state file")
		}
	}

	report(summary, opts)
	return summary, nil
}

func report(summary Summary, opts Options) {
	level := zerolog.InfoLevel
	if summary.Errors() > 0 {
		level = zerolog.WarnLevel
	}
	log.WithLevel(level).
		Int("created", summary.Rules.Created).
		Int("updated", summary.Rules.Updated).
		Int("removed", summary.Rules.Removed).
		Int("unchanged", summary.Rules.Unchanged).
		Int("alreadyAbsent", summary.Rules.AlreadyAbsent).
		Int("skippedRows", summary.SkippedRows).
		Int("forwardAdded", summary.Forwarding.Added).
		Int("forwardRemoved", summary.Forwarding.Removed).
		Int("forwardSkipped", summary.Forwarding.Skipped).
		Int("errors", summary.Errors()).
		Bool("dryRun", opts.DryRun).
		Msg("run complete")
}
