package plugindomain

import (
	"errors"
	"fmt"
)

// Kind classifies a plugin call failure on the wire.
type Kind string

const (
	KindPluginNotFound         Kind = "PluginNotFound"
	KindUnsupportedCapability  Kind = "UnsupportedCapability"
	KindPluginThrew            Kind = "PluginThrew"
	KindInvalidResultShape     Kind = "InvalidResultShape"
	KindTimeout                Kind = "Timeout"
	KindProtocolParseError     Kind = "ProtocolParseError"
	KindHostProcessUnavailable Kind = "HostProcessUnavailable"
	KindMalformedPlugin        Kind = "MalformedPlugin"
	KindInvalidRequest         Kind = "InvalidRequest"
)

// Sentinel errors matched by Failure.Is.
var (
	ErrPluginNotFound     = errors.New("plugin not found")
	ErrUnsupported        = errors.New("unsupported capability")
	ErrPluginThrew        = errors.New("plugin threw")
	ErrInvalidResultShape = errors.New("invalid result shape")
	ErrTimeout            = errors.New("plugin call timed out")
	ErrProtocolParse      = errors.New("protocol parse error")
	ErrHostUnavailable    = errors.New("host process unavailable")
	ErrMalformedPlugin    = errors.New("malformed plugin")
	ErrInvalidRequest     = errors.New("invalid request")
)

var kindSentinels = map[Kind]error{
	KindPluginNotFound:         ErrPluginNotFound,
	KindUnsupportedCapability:  ErrUnsupported,
	KindPluginThrew:            ErrPluginThrew,
	KindInvalidResultShape:     ErrInvalidResultShape,
	KindTimeout:                ErrTimeout,
	KindProtocolParseError:     ErrProtocolParse,
	KindHostProcessUnavailable: ErrHostUnavailable,
	KindMalformedPlugin:        ErrMalformedPlugin,
	KindInvalidRequest:         ErrInvalidRequest,
}

// Failure is a structured plugin error tagged with the plugin and action
// that produced it.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Plugin  string `json:"pluginName,omitempty"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

// NewFailure builds a Failure with a formatted message.
func NewFailure(kind Kind, plugin, action, format string, args ...interface{}) *Failure {
	return &Failure{
		Kind:    kind,
		Plugin:  plugin,
		Action:  action,
		Message: fmt.Sprintf(format, args...),
	}
}

func (f *Failure) Error() string {
	switch {
	case f.Plugin != "" && f.Action != "":
		return fmt.Sprintf("%s: plugin %q action %q: %s", f.Kind, f.Plugin, f.Action, f.Message)
	case f.Plugin != "":
		return fmt.Sprintf("%s: plugin %q: %s", f.Kind, f.Plugin, f.Message)
	default:
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
}

// Is matches the sentinel for the failure kind.
func (f *Failure) Is(target error) bool {
	sentinel, ok := kindSentinels[f.Kind]
	return ok && sentinel == target
}

// Unwrap exposes the kind sentinel.
func (f *Failure) Unwrap() error {
	return kindSentinels[f.Kind]
}

// AsFailure extracts a Failure from err, classifying unknown errors with
// fallback.
func AsFailure(err error, fallback Kind, plugin, action string) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: fallback, Plugin: plugin, Action: action, Message: err.Error()}
}
