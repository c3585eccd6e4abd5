package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/DavinciDreams/Megawatts-sub008/internal/config"
)

var configForce bool

// configCmd groups config commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (file, env and flags applied)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), cfg)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to --config",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgPath); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
		}
		if err := config.DefaultConfig().Save(cfgPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", cfgPath)
		return nil
	},
}

// statusCmd summarizes the repository
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored pattern, behavior, knowledge and event counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		engine, repo, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		s, err := engine.Summarize(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, s)
		}
		fmt.Fprintf(out, "Repository: %s (%s)\n", cfg.Storage.Path, cfg.Storage.Driver)
		fmt.Fprintf(out, "  patterns:  %d (%d active)\n", s.Patterns, s.ActivePatterns)
		fmt.Fprintf(out, "  behaviors: %d (%d active)\n", s.Behaviors, s.ActiveBehaviors)
		fmt.Fprintf(out, "  knowledge: %d\n", s.Knowledge)
		fmt.Fprintf(out, "  events:    %d\n", s.Events)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
