package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"songhost.dev/cli/internal/interfaces/di"
)

var (
	Version   = "dev"     // Overridden by ldflags
	Commit    = "none"    // Overridden by ldflags
	BuildTime = "unknown" // Overridden by ldflags
)

// globalFlags are shared by every command.
type globalFlags struct {
	configFile  string
	debug       bool
	pluginsDir  string
	inProcess   bool
	logLevel    string
	callTimeout time.Duration
}

// overrides turns explicitly set flags into configuration overrides.
func (g *globalFlags) overrides(cmd *cobra.Command) map[string]interface{} {
	out := make(map[string]interface{})
	flags := cmd.Flags()
	if flags.Changed("debug") {
		out["debug"] = g.debug
	}
	if flags.Changed("plugins-dir") {
		out["plugins_dir"] = g.pluginsDir
	}
	if flags.Changed("in-process") {
		out["in_process"] = g.inProcess
	}
	if flags.Changed("log-level") {
		out["log_level"] = g.logLevel
	}
	if flags.Changed("call-timeout") {
		out["call_timeout"] = g.callTimeout
	}
	return out
}

// NewRootCommand builds the songhost command tree.
func NewRootCommand() *cobra.Command {
	gf := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "songhost",
		Short: "Music source plugin host",
		Long: `songhost runs music-source plugins written in JavaScript or Lua inside an
isolated sandbox process and aggregates their search results.

Plugins are read from the plugins directory. Each one is evaluated in its own
context with no filesystem or process access; network requests are proxied
through songhost.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}}\nCommit: %s\nBuild time: %s\nGo version: %s\nPlatform: %s/%s\n",
		Commit, BuildTime, goVersion(), runtime.GOOS, runtime.GOARCH))

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&gf.configFile, "config", "", "Config file path (default is ~/.config/songhost/config.yaml)")
	pf.BoolVar(&gf.debug, "debug", false, "Enable debug logging")
	pf.StringVar(&gf.pluginsDir, "plugins-dir", "", "Directory containing plugins")
	pf.BoolVar(&gf.inProcess, "in-process", false, "Run the sandbox host without a child process")
	pf.StringVar(&gf.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.DurationVar(&gf.callTimeout, "call-timeout", 0, "Bound on one plugin action")

	rootCmd.AddCommand(newHostCommand(gf))
	rootCmd.AddCommand(newSearchCommand(gf))
	rootCmd.AddCommand(newPluginsCommand(gf))
	rootCmd.AddCommand(newCallCommand(gf))
	rootCmd.AddCommand(newBrowseCommand(gf))
	rootCmd.AddCommand(newStatusCommand(gf))
	rootCmd.AddCommand(newConfigCommand(gf))

	return rootCmd
}

// goVersion returns the Go version used to build the binary
func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}

// withContainer builds and starts the application for one command and
// shuts it down afterwards.
func withContainer(cmd *cobra.Command, gf *globalFlags, loadPlugins bool, fn func(ctx context.Context, c *di.Container) error) error {
	ctx := cmd.Context()
	c, err := di.NewContainer(ctx, di.Options{
		ConfigFile: gf.configFile,
		Overrides:  gf.overrides(cmd),
		LogOutput:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(shutdownCtx)
	}()

	if _, err := c.Start(ctx, loadPlugins); err != nil {
		return err
	}
	return fn(ctx, c)
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
