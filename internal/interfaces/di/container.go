package di

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	appconfig "songhost.dev/cli/internal/application/config"
	"songhost.dev/cli/internal/application/ports"
	"songhost.dev/cli/internal/application/services"
	configdomain "songhost.dev/cli/internal/core/domain/config"
	"songhost.dev/cli/internal/core/domain/process"
	procp "songhost.dev/cli/internal/core/ports/process"
	"songhost.dev/cli/internal/host"
	"songhost.dev/cli/internal/infrastructure/api"
	infraconfig "songhost.dev/cli/internal/infrastructure/config"
	"songhost.dev/cli/internal/infrastructure/hostclient"
	httpinfra "songhost.dev/cli/internal/infrastructure/http"
	"songhost.dev/cli/internal/infrastructure/logging"
	plugininfra "songhost.dev/cli/internal/infrastructure/plugin"
	"songhost.dev/cli/internal/infrastructure/plugins/discovery"
	osprocess "songhost.dev/cli/internal/infrastructure/process"
	"songhost.dev/cli/internal/sandbox"
)

// maxPluginBytes caps a plugin source file.
const maxPluginBytes = 4 * 1024 * 1024

// Options selects how the container is built.
type Options struct {
	// ConfigFile replaces the config file search when set.
	ConfigFile string
	// Overrides are command-line settings, highest priority.
	Overrides map[string]interface{}
	// LogOutput receives logs; stderr when nil.
	LogOutput io.Writer
}

// Container holds all application dependencies
type Container struct {
	Settings configdomain.Settings
	Snapshot configdomain.Snapshot
	Logger   ports.LoggingGateway

	Host    *hostclient.Client
	Store   *plugininfra.ConfigFileStore
	Sources *discovery.FileSystemPluginDiscovery
	Direct  *api.OpenAPIGateway

	Plugins *services.PluginLifecycleManager
	Search  *services.SearchAggregator
	Monitor *services.HostMonitor
}

// LoadSettings merges defaults, config files, the environment and
// overrides.
func LoadSettings(ctx context.Context, configFile string, overrides map[string]interface{}) (configdomain.Settings, configdomain.Snapshot, error) {
	agg := appconfig.NewAggregator(infraconfig.NewEnvLoader(), infraconfig.NewFileLoader(configFile))
	return agg.Load(ctx, overrides)
}

// NewLogger builds the zerolog gateway for settings.
func NewLogger(settings configdomain.Settings, out io.Writer, format string) *logging.ZerologGateway {
	if out == nil {
		out = os.Stderr
	}
	return logging.NewZerologGatewayTo(out, &ports.LoggingConfig{
		Level:  ports.LogLevel(settings.LogLevel),
		Format: format,
	})
}

// HostOptions derives the sandbox host limits from settings.
func HostOptions(settings configdomain.Settings, logger ports.LoggingGateway) host.Options {
	opts := host.Options{
		Sandbox: sandbox.Options{
			LoadTimeout:   settings.LoadTimeout,
			MaxTimerDelay: settings.MaxTimerDelay,
		},
		Host:         host.Config{CallTimeout: settings.CallTimeout},
		MaxLineBytes: settings.MaxLineBytes,
	}
	if settings.PluginConsole {
		opts.Sandbox.Console = logging.NewPluginConsole(logger)
	}
	return opts
}

// hostEnvKeys are the settings a child host needs.
var hostEnvKeys = []string{"call_timeout", "load_timeout", "max_timer_delay", "max_line_bytes", "plugin_console", "log_level"}

// HostEnv renders the child's settings as environment variables so they
// outrank any config file the child would read.
func HostEnv(settings configdomain.Settings) map[string]string {
	values := map[string]string{
		"call_timeout":    settings.CallTimeout.String(),
		"load_timeout":    settings.LoadTimeout.String(),
		"max_timer_delay": settings.MaxTimerDelay.String(),
		"max_line_bytes":  strconv.Itoa(settings.MaxLineBytes),
		"plugin_console":  strconv.FormatBool(settings.PluginConsole),
		"log_level":       settings.LogLevel,
	}
	env := make(map[string]string, len(hostEnvKeys))
	for _, key := range hostEnvKeys {
		f, _ := configdomain.LookupField(key)
		env[f.Env()] = values[key]
	}
	return env
}

// NewContainer builds every component. The host is not spawned until
// Start.
func NewContainer(ctx context.Context, opts Options) (*Container, error) {
	settings, snap, err := LoadSettings(ctx, opts.ConfigFile, opts.Overrides)
	if err != nil {
		return nil, err
	}

	c := &Container{Settings: settings, Snapshot: snap}
	c.Logger = NewLogger(settings, opts.LogOutput, "console")

	executor, command, err := c.hostExecutor()
	if err != nil {
		return nil, err
	}

	fetcher := httpinfra.NewStdFetcher(settings.FetchTimeout, httpinfra.BackoffRetry{MaxAttempts: 3, BaseMillis: 200})
	c.Host = hostclient.New(executor, command, fetcher, hostclient.Options{
		CallTimeout:    settings.CallTimeout,
		TimeoutMargin:  settings.ClientTimeoutMargin,
		LoadTimeout:    settings.LoadTimeout,
		MaxLineBytes:   settings.MaxLineBytes,
		RestartBackoff: settings.RestartBackoff,
		MaxRestarts:    settings.MaxRestarts,
	}, c.Logger)

	c.Store = plugininfra.NewConfigFileStore(expandHome(settings.PluginsConfig))
	c.Sources = discovery.NewFileSystemPluginDiscovery(settings.PluginsDir, discovery.NewSourceValidator(maxPluginBytes), c.Logger)
	c.Direct = api.NewOpenAPIGateway("", settings.FetchTimeout, c.Logger)

	c.Plugins = services.NewPluginLifecycleManager(c.Host, c.Sources, c.Store, c.Logger)
	c.Search = services.NewSearchAggregator(c.Plugins, c.Direct, c.Logger, settings.SearchLimit, settings.SearchConcurrency)
	c.Monitor = services.NewHostMonitor(c.Host, c.Plugins, c.Logger)

	c.Logger.Log(ports.LogLevelDebug, "container initialized", map[string]interface{}{
		"plugins_dir": settings.PluginsDir,
		"in_process":  settings.InProcess,
	})
	return c, nil
}

func (c *Container) hostExecutor() (procp.Executor, process.Command, error) {
	if c.Settings.InProcess {
		cmd, _ := process.NewCommand("in-process", nil)
		return &hostclient.InProcessExecutor{Options: HostOptions(c.Settings, c.Logger), Logger: c.Logger}, cmd, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, process.Command{}, fmt.Errorf("failed to locate executable: %w", err)
	}
	cmd, err := process.HostCommand(self)
	if err != nil {
		return nil, process.Command{}, err
	}
	for k, v := range HostEnv(c.Settings) {
		cmd = cmd.WithEnv(k, v)
	}
	return osprocess.NewExecutor(), cmd, nil
}

// Start spawns the host. When loadPlugins is set every plugin in the
// plugin directory is loaded; per-plugin failures are logged.
func (c *Container) Start(ctx context.Context, loadPlugins bool) ([]services.LoadResult, error) {
	if err := c.Host.Start(); err != nil {
		return nil, fmt.Errorf("failed to start sandbox host: %w", err)
	}
	if !loadPlugins {
		return nil, nil
	}

	results, err := c.Plugins.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Err != nil {
			c.Logger.LogError(r.Err, "failed to load plugin", map[string]interface{}{"plugin": r.Name})
		}
	}
	return results, nil
}

// Shutdown stops the host.
func (c *Container) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- c.Host.Close() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out stopping sandbox host")
	}
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
