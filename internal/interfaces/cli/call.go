package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	"songhost.dev/cli/internal/interfaces/di"
)

func newCallCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "call <plugin> <action> [json-args]",
		Short: "Invoke one plugin action",
		Long: `Invoke any plugin action and print its normalized result.

Arguments are a JSON object with the fields the action takes: query, page,
type, item, quality or urlLike. An action the plugin does not implement
prints its empty result.`,
		Example: `  songhost call kuwo search '{"query":"sunny","page":1}'
  songhost call kuwo getMediaSource '{"item":{"id":"42"},"quality":"high"}'
  songhost call kuwo getTopLists`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := plugindomain.ParseAction(args[1])
			if err != nil {
				return err
			}
			callArgs, err := parseCallArgs(args[2:])
			if err != nil {
				return err
			}
			return withContainer(cmd, gf, true, func(ctx context.Context, c *di.Container) error {
				raw, err := c.Plugins.Call(ctx, args[0], action, callArgs)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), raw)
			})
		},
	}
}

func parseCallArgs(args []string) (plugindomain.Args, error) {
	var a plugindomain.Args
	if len(args) == 0 || args[0] == "" {
		return a, nil
	}
	if err := json.Unmarshal([]byte(args[0]), &a); err != nil {
		return a, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return a, nil
}
