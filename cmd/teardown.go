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

// teardownCmd represents the teardown command
var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Remove every rule and forwarding entry this tool manages",
	RunE:  teardownMain,
}

func init() {
	rootCmd.AddCommand(teardownCmd)

	teardownCmd.Flags().Bool("dry-run", false, "Log intended mutations without issuing them")
}

func teardownMain(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load settings")
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")

	fw, err := rules.NewFirewall(cfg.Profiles)
	if err != nil {
		log.Error().Err(err).Msg("failed to open firewall control surface")
		return err
	}
	red, err := forward.NewRedirector()
	if err != nil {
		log.Error().Err(err).Msg("failed to open redirection control surface")
		return err
	}

	deps := run.Deps{
		Firewall:   fw,
		Redirector: red,
		Resolver:   forward.NewResolver(),
		Store:      state.NewStore(cfg.StateFile),
	}
	opts := run.Options{Teardown: true, DryRun: dryRun}

	if _, err := run.Run(cfg, opts, deps); err != nil {
		log.Error().Err(err).Msg("run failed")
		return err
	}
	return nil
}
