package ports

import (
	"context"

	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
)

// PluginConfigStore defines persistence of the plugin table and priority order
type PluginConfigStore interface {
	// Get reads the current configuration
	Get() (plugindomain.PluginsConfig, error)

	// Register records a plugin file, leaving an existing entry's state alone
	Register(name, file string) error

	// SetEnabled enables a plugin at the front of the priority order, or
	// removes it from the order
	SetEnabled(name string, enabled bool) error

	// Remove deletes every trace of a plugin
	Remove(name string) error

	// SetOpenAPI updates the direct source settings
	SetOpenAPI(info plugindomain.OpenAPIInfo) error
}

// PluginSourceRepository defines access to plugin code on disk
type PluginSourceRepository interface {
	// Discover lists every plugin file with its code
	Discover(ctx context.Context) ([]plugindomain.PluginSource, error)

	// Get reads one plugin by name
	Get(name string) (plugindomain.PluginSource, error)

	// Delete removes a plugin file
	Delete(name string) error

	// Install copies a plugin file into the plugin directory
	Install(path string) (plugindomain.PluginSource, error)
}
