package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	appconfig "songhost.dev/cli/internal/application/config"
	infraconfig "songhost.dev/cli/internal/infrastructure/config"
	"songhost.dev/cli/internal/interfaces/di"
)

func newConfigCommand(gf *globalFlags) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show configuration",
		Long: `Show the merged configuration and where each value came from.

Values are resolved in priority order: command-line flags, SONGHOST_*
environment variables, the config file, .env files, then built-in defaults.`,
	}

	configCmd.AddCommand(newConfigShowCommand(gf))
	configCmd.AddCommand(newConfigPathCommand())

	return configCmd
}

func newConfigShowCommand(gf *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, snap, err := di.LoadSettings(cmd.Context(), gf.configFile, gf.overrides(cmd))
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), settings)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tVALUE\tSOURCE")
			for _, e := range appconfig.Sorted(snap) {
				fmt.Fprintf(w, "%s\t%v\t%s (%s)\n", e.Key, e.Value, e.Source, e.SourcePath)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print resolved settings as JSON")
	return cmd
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration directory: %s\n", infraconfig.DefaultConfigDir())
			return nil
		},
	}
}
