package logging

import "songhost.dev/cli/internal/application/ports"

// PluginConsole routes sandbox console output to a gateway at debug level.
type PluginConsole struct {
	gateway ports.LoggingGateway
}

// NewPluginConsole creates a console writing to gateway.
func NewPluginConsole(gateway ports.LoggingGateway) *PluginConsole {
	return &PluginConsole{gateway: gateway}
}

func (c *PluginConsole) Print(plugin, level, message string) {
	c.gateway.Log(ports.LogLevelDebug, message, map[string]interface{}{
		"plugin":  plugin,
		"console": level,
	})
}

// NopGateway discards everything.
type NopGateway struct{}

func (NopGateway) Log(ports.LogLevel, string, map[string]interface{}) {}
func (NopGateway) LogError(error, string, map[string]interface{})     {}
func (NopGateway) SetLogLevel(ports.LogLevel)                         {}
func (NopGateway) GetLogLevel() ports.LogLevel                        { return ports.LogLevelError }
func (NopGateway) ConfigureLogging(*ports.LoggingConfig) error        { return nil }

var _ ports.LoggingGateway = NopGateway{}
