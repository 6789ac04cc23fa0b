package ports

import (
	"context"
	"encoding/json"

	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
)

// HostGateway defines the parent's view of the sandbox host process
type HostGateway interface {
	// Load evaluates source in the host and returns the probed capabilities
	Load(ctx context.Context, name string, runtime plugindomain.Runtime, source string) (plugindomain.Capability, error)

	// Unload removes a plugin; false when it was not loaded
	Unload(ctx context.Context, name string) (bool, error)

	// Call dispatches a plugin action and returns its normalized result
	Call(ctx context.Context, name string, action plugindomain.Action, args plugindomain.Args) (json.RawMessage, error)

	// Ping checks that the host answers
	Ping(ctx context.Context) (HostStatus, error)

	// OnRestart registers a hook run after the host is respawned
	OnRestart(hook func(ctx context.Context))

	// Close stops the host
	Close() error
}

// HostStatus is the host's answer to a ping
type HostStatus struct {
	PID      int      `json:"pid"`
	Plugins  []string `json:"plugins"`
	Restarts int      `json:"restarts"`
}

// DirectSource is a non-plugin aggregate search endpoint
type DirectSource interface {
	// Search returns result items already tagged with their platform
	Search(ctx context.Context, query string, limit int) ([]map[string]interface{}, error)
}

// LoggingGateway defines the interface for logging operations
type LoggingGateway interface {
	// Log logs a message with the specified level
	Log(level LogLevel, message string, fields map[string]interface{})

	// LogError logs an error
	LogError(err error, message string, fields map[string]interface{})

	// SetLogLevel sets the logging level
	SetLogLevel(level LogLevel)

	// GetLogLevel returns the current logging level
	GetLogLevel() LogLevel

	// ConfigureLogging configures logging settings
	ConfigureLogging(config *LoggingConfig) error
}

// LogLevel defines the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  LogLevel `json:"level"`
	Format string   `json:"format"` // "json" or "console"
}
