package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	"songhost.dev/cli/internal/infrastructure/plugins/discovery"
	"songhost.dev/cli/internal/interfaces/di"
	"songhost.dev/cli/internal/sandbox/jsengine"
	"songhost.dev/cli/internal/sandbox/luaengine"
)

func newPluginsCommand(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage music source plugins",
		Long: `Manage the plugins in the plugins directory.

Every plugin is loaded into the sandbox host to report its capabilities.
Enabling a plugin moves it to the top of the search priority order;
disabling removes it from searches but keeps it loaded.`,
		Example: `  # List plugins with capabilities
  songhost plugins list

  # Install a plugin file
  songhost plugins install ./kuwo.js

  # Prefer a plugin in search results
  songhost plugins enable kuwo

  # Remove a plugin and its settings
  songhost plugins uninstall kuwo`,
	}

	cmd.AddCommand(newPluginsListCommand(gf))
	cmd.AddCommand(newPluginsInstallCommand(gf))
	cmd.AddCommand(newPluginsToggleCommand(gf, true))
	cmd.AddCommand(newPluginsToggleCommand(gf, false))
	cmd.AddCommand(newPluginsUninstallCommand(gf))
	cmd.AddCommand(newPluginsInspectCommand(gf))

	return cmd
}

func newPluginsListCommand(gf *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, gf, true, func(ctx context.Context, c *di.Container) error {
				records := c.Plugins.Records()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), records)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderPlugins(records, c.Plugins.EnabledInPriority()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func newPluginsInstallCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "install <file>",
		Short: "Install a plugin file",
		Long:  `Copy a .js or .lua plugin into the plugins directory and enable it. A file that fails to load is not kept.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, gf, false, func(ctx context.Context, c *di.Container) error {
				rec, err := c.Plugins.Install(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Installed %s (%s): %s\n", rec.Name, rec.Runtime, rec.Capabilities)
				return nil
			})
		},
	}
}

func newPluginsToggleCommand(gf *globalFlags, enable bool) *cobra.Command {
	use, short, verb := "disable <plugin>", "Exclude a plugin from searches", "Disabled"
	if enable {
		use, short, verb = "enable <plugin>", "Include a plugin in searches with top priority", "Enabled"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, gf, true, func(ctx context.Context, c *di.Container) error {
				var err error
				if enable {
					err = c.Plugins.Enable(args[0])
				} else {
					err = c.Plugins.Disable(args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, args[0])
				return nil
			})
		},
	}
}

func newPluginsUninstallCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall <plugin>",
		Aliases: []string{"remove"},
		Short:   "Delete a plugin file and its settings",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, gf, true, func(ctx context.Context, c *di.Container) error {
				if err := c.Plugins.Uninstall(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s\n", args[0])
				return nil
			})
		},
	}
}

func newPluginsInspectCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <plugin>",
		Short: "Show one plugin in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, gf, true, func(ctx context.Context, c *di.Container) error {
				name := args[0]
				src, err := c.Sources.Get(name)
				if err != nil {
					return err
				}
				cfg, err := c.Plugins.Config()
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "Name:\t%s\n", src.Name)
				fmt.Fprintf(w, "File:\t%s\n", src.Path)
				fmt.Fprintf(w, "Runtime:\t%s\n", src.Runtime)
				fmt.Fprintf(w, "Modules:\t%s\n", strings.Join(sandboxModules(src.Runtime), ", "))
				fmt.Fprintf(w, "Size:\t%d bytes\n", len(src.Code))
				fmt.Fprintf(w, "SHA-256:\t%s\n", discovery.Digest(src.Code))
				if rec, ok := c.Plugins.Record(name); ok {
					fmt.Fprintf(w, "Loaded:\t%s\n", rec.LoadedAt.Format("2006-01-02 15:04:05"))
					fmt.Fprintf(w, "Enabled:\t%t\n", rec.Enabled)
					fmt.Fprintf(w, "Capabilities:\t%s\n", rec.Capabilities)
				} else {
					fmt.Fprintf(w, "Loaded:\t%s\n", errStyle.Render("failed to load"))
				}
				if p := cfg.Priority(name); p >= 0 {
					fmt.Fprintf(w, "Priority:\t%d\n", p+1)
				}
				return w.Flush()
			})
		},
	}
}

// sandboxModules lists what require resolves for runtime.
func sandboxModules(runtime plugindomain.Runtime) []string {
	if runtime == plugindomain.RuntimeLua {
		return luaengine.AllowedModules()
	}
	return jsengine.AllowedModules()
}
