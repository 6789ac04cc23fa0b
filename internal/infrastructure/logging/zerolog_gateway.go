// Package logging implements ports.LoggingGateway on zerolog. Output goes to
// stderr only; stdout is reserved for the host protocol.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"songhost.dev/cli/internal/application/ports"
)

// ZerologGateway implements ports.LoggingGateway
type ZerologGateway struct {
	mu     sync.RWMutex
	out    io.Writer
	logger zerolog.Logger
	level  ports.LogLevel
	format string
}

// NewZerologGatewayTo creates a gateway writing to out.
func NewZerologGatewayTo(out io.Writer, config *ports.LoggingConfig) *ZerologGateway {
	g := &ZerologGateway{out: out}
	if config == nil {
		config = &ports.LoggingConfig{Level: ports.LogLevelInfo, Format: "console"}
	}
	if err := g.ConfigureLogging(config); err != nil {
		_ = g.ConfigureLogging(&ports.LoggingConfig{Level: ports.LogLevelInfo, Format: config.Format})
	}
	return g
}

// Log logs a message with the specified level
func (g *ZerologGateway) Log(level ports.LogLevel, message string, fields map[string]interface{}) {
	g.mu.RLock()
	logger := g.logger
	g.mu.RUnlock()

	var ev *zerolog.Event
	switch level {
	case ports.LogLevelDebug:
		ev = logger.Debug()
	case ports.LogLevelWarn:
		ev = logger.Warn()
	case ports.LogLevelError:
		ev = logger.Error()
	default:
		ev = logger.Info()
	}
	ev.Fields(fields).Msg(message)
}

// LogError logs an error
func (g *ZerologGateway) LogError(err error, message string, fields map[string]interface{}) {
	g.mu.RLock()
	logger := g.logger
	g.mu.RUnlock()
	logger.Error().Err(err).Fields(fields).Msg(message)
}

// SetLogLevel sets the logging level
func (g *ZerologGateway) SetLogLevel(level ports.LogLevel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if zl, err := toZerologLevel(level); err == nil {
		g.level = level
		g.logger = g.logger.Level(zl)
	}
}

// GetLogLevel returns the current logging level
func (g *ZerologGateway) GetLogLevel() ports.LogLevel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.level
}

// ConfigureLogging rebuilds the logger for config.
func (g *ZerologGateway) ConfigureLogging(config *ports.LoggingConfig) error {
	zl, err := toZerologLevel(config.Level)
	if err != nil {
		return err
	}

	var w io.Writer = g.out
	switch config.Format {
	case "json", "":
	case "console":
		w = zerolog.ConsoleWriter{Out: g.out, TimeFormat: time.Kitchen, NoColor: !isTerminal(g.out)}
	default:
		return fmt.Errorf("unsupported log format %q (must be json or console)", config.Format)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.logger = zerolog.New(w).Level(zl).With().Timestamp().Logger()
	g.level = config.Level
	g.format = config.Format
	return nil
}

func toZerologLevel(level ports.LogLevel) (zerolog.Level, error) {
	switch level {
	case ports.LogLevelDebug:
		return zerolog.DebugLevel, nil
	case ports.LogLevelInfo, "":
		return zerolog.InfoLevel, nil
	case ports.LogLevelWarn:
		return zerolog.WarnLevel, nil
	case ports.LogLevelError:
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q", level)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

var _ ports.LoggingGateway = (*ZerologGateway)(nil)
