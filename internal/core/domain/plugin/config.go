package plugindomain

// PluginInfo is one entry of the persisted plugin table.
type PluginInfo struct {
	Name    string `json:"name"`
	File    string `json:"file"`
	Enabled bool   `json:"enabled"`
}

// OpenAPIInfo configures the direct aggregate-search source.
type OpenAPIInfo struct {
	Enabled   bool   `json:"enabled"`
	SearchURL string `json:"search_url"`
}

// PluginsConfig mirrors plugins-config.json. EnabledPlugins is the priority
// order used for ranking.
type PluginsConfig struct {
	EnabledPlugins []string     `json:"enabled_plugins"`
	PluginsInfo    []PluginInfo `json:"plugins_info"`
	OpenAPI        OpenAPIInfo  `json:"openapi_info"`
}

// IsEnabled reports whether name is in the priority order.
func (c PluginsConfig) IsEnabled(name string) bool {
	return c.Priority(name) >= 0
}

// Priority returns the zero-based position of name in the enabled order, or
// -1.
func (c PluginsConfig) Priority(name string) int {
	for i, n := range c.EnabledPlugins {
		if n == name {
			return i
		}
	}
	return -1
}

// Info returns the table entry for name.
func (c PluginsConfig) Info(name string) (PluginInfo, bool) {
	for _, info := range c.PluginsInfo {
		if info.Name == name {
			return info, true
		}
	}
	return PluginInfo{}, false
}

// PluginSource is plugin code discovered on disk.
type PluginSource struct {
	Name    string  `json:"name"`
	Path    string  `json:"path"`
	Runtime Runtime `json:"runtime"`
	Code    string  `json:"-"`
}
