package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/micrictor/openport/internal/config"
	"github.com/micrictor/openport/internal/forward"
	"github.com/micrictor/openport/internal/run"
	"github.com/micrictor/openport/internal/rules"
	"github.com/micrictor/openport/internal/state"
)

// applyCmd represents the apply command
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Converge live firewall and forwarding state toward the port table",
	RunE:  applyMain,
}

func init() {
	rootCmd.AddCommand(applyCmd)
	addApplyFlags(applyCmd)

	// Apply is the default mode: a bare invocation reconciles.
	addApplyFlags(rootCmd)
	rootCmd.RunE = applyMain
}

func addApplyFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("skip-cleanup", false, "Do not remove rules for ports dropped from the table")
	cmd.Flags().Bool("forward", false, "Also reconcile the port-redirection table")
	cmd.Flags().String("target", "", "Forwarding target address (overrides table and discovery)")
	cmd.Flags().Bool("dry-run", false, "Log intended mutations without issuing them")
}

func applyMain(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load settings")
		return err
	}

	skipCleanup, _ := cmd.Flags().GetBool("skip-cleanup")
	forwardFlag, _ := cmd.Flags().GetBool("forward")
	target, _ := cmd.Flags().GetString("target")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	opts := run.Options{
		SkipCleanup: skipCleanup,
		Forwarding:  forwardFlag || cfg.Forwarding,
		Target:      target,
		DryRun:      dryRun,
	}

	fw, err := rules.NewFirewall(cfg.Profiles)
	if err != nil {
		log.Error().Err(err).Msg("failed to open firewall control surface")
		return err
	}
	deps := run.Deps{
		Firewall: fw,
		Resolver: forward.NewResolver(),
		Store:    state.NewStore(cfg.StateFile),
	}
	if opts.Forwarding {
		deps.Redirector, err = forward.NewRedirector()
		if err != nil {
			log.Error().Err(err).Msg("failed to open redirection control surface")
			return err
		}
	}

	if _, err := run.Run(cfg, opts, deps); err != nil {
		log.Error().Err(err).Msg("run failed")
		return err
	}
	return nil
}
