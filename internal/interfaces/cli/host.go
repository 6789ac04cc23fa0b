package cli

import (
	"github.com/spf13/cobra"

	"songhost.dev/cli/internal/host"
	"songhost.dev/cli/internal/interfaces/di"
)

// newHostCommand runs the sandbox host. The parent spawns it; stdout
// carries protocol frames only and logs go to stderr as JSON.
func newHostCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:    "host",
		Short:  "Run the plugin sandbox host on stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := di.LoadSettings(cmd.Context(), gf.configFile, gf.overrides(cmd))
			if err != nil {
				return err
			}
			logger := di.NewLogger(settings, cmd.ErrOrStderr(), "json")
			srv := host.NewStdioServer(di.HostOptions(settings, logger), cmd.InOrStdin(), cmd.OutOrStdout(), logger)
			return srv.Serve(cmd.Context())
		},
	}
}
