package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"songhost.dev/cli/internal/application/services"
	"songhost.dev/cli/internal/interfaces/di"
)

func newStatusCommand(gf *globalFlags) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the sandbox host",
		Long:  `Start the sandbox host, load every plugin and ping it.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, gf, true, func(ctx context.Context, c *di.Container) error {
				out := cmd.OutOrStdout()
				show := func(r services.HealthReport) {
					if asJSON {
						_ = printJSON(out, r)
						return
					}
					printHealth(out, r)
				}
				if !watch {
					report := c.Monitor.Check(ctx)
					show(report)
					if !report.Healthy {
						return fmt.Errorf("sandbox host unhealthy")
					}
					return nil
				}
				err := c.Monitor.Watch(ctx, interval, show)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep checking until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Time between checks with --watch")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print reports as JSON")
	return cmd
}

func printHealth(w io.Writer, r services.HealthReport) {
	state := okStyle.Render("healthy")
	if !r.Healthy {
		state = errStyle.Render("unhealthy")
	}
	fmt.Fprintf(w, "%s  %s  pid=%d plugins=%d restarts=%d latency=%s\n",
		r.CheckedAt.Format("15:04:05"), state, r.PID, r.Plugins, r.Restarts, r.Latency.Round(time.Microsecond))
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
	for _, name := range r.Missing {
		fmt.Fprintf(w, "  missing: %s\n", name)
	}
}
