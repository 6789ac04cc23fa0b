package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"songhost.dev/cli/internal/application/services"
	"songhost.dev/cli/internal/infrastructure/api"
	"songhost.dev/cli/internal/interfaces/di"
)

// SearchFlags holds command-line flags for the search command
type SearchFlags struct {
	Artist  string
	Limit   int
	Page    int
	Plugins []string
	JSON    bool
}

func (f *SearchFlags) request(args []string) services.SearchRequest {
	return services.SearchRequest{
		Query:   strings.Join(args, " "),
		Artist:  f.Artist,
		Limit:   f.Limit,
		Page:    f.Page,
		Plugins: f.Plugins,
	}
}

func newSearchCommand(gf *globalFlags) *cobra.Command {
	flags := &SearchFlags{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search every enabled plugin and rank the results",
		Long: `Search every enabled plugin in parallel and print the merged results,
ranked by how well title and artist match and by plugin priority.

When a direct source is enabled in plugins-config.json it is used instead.`,
		Example: `  songhost search "Jay Chou"
  songhost search sunny --artist "Jay Chou" --limit 5
  songhost search sunny --plugin kuwo --plugin kugou --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, gf, true, func(ctx context.Context, c *di.Container) error {
				return runSearch(ctx, cmd, c, flags.request(args), flags.JSON)
			})
		},
	}

	cmd.Flags().StringVar(&flags.Artist, "artist", "", "Artist to match (defaults to the query)")
	cmd.Flags().IntVar(&flags.Limit, "limit", 0, "Maximum number of results (default from search_limit)")
	cmd.Flags().IntVar(&flags.Page, "page", 1, "Result page requested from each plugin")
	cmd.Flags().StringArrayVar(&flags.Plugins, "plugin", nil, "Only search this plugin (repeatable)")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Print results as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, c *di.Container, req services.SearchRequest, asJSON bool) error {
	res, err := c.Search.Search(ctx, req)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, res)
	}

	fmt.Fprintln(out, renderResults(res.Items, -1))
	fmt.Fprintln(out, dimStyle.Render(sourcesLine(res)))
	if res.Direct && c.Direct != nil {
		fmt.Fprintln(out, dimStyle.Render(directLine(c.Direct.GetStats())))
	}
	if f := renderFailures(res.Failures); f != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), f)
	}
	return nil
}

func sourcesLine(res services.SearchResult) string {
	parts := make([]string, 0, len(res.Sources))
	for _, name := range res.SourceNames() {
		parts = append(parts, fmt.Sprintf("%s=%d", name, res.Sources[name]))
	}
	line := fmt.Sprintf("%d results", res.Total)
	if len(parts) > 0 {
		line += " from " + strings.Join(parts, ", ")
	}
	return line
}

func directLine(s api.APIStats) string {
	line := fmt.Sprintf("direct source: %d/%d ok, avg %s", s.SuccessfulRequests, s.TotalRequests, s.AverageLatency.Round(time.Millisecond))
	if s.LastError != "" {
		line += ", last error: " + s.LastError
	}
	return line
}
