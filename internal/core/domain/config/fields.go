package configdomain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "SONGHOST_"

// Kind is the value type of a setting.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
	KindDuration
)

// Field describes one setting.
type Field struct {
	Key         string
	Kind        Kind
	Default     interface{}
	Description string
}

// Env returns the environment variable for the field.
func (f Field) Env() string {
	return EnvPrefix + strings.ToUpper(f.Key)
}

// Fields lists every setting in display order.
var Fields = []Field{
	{Key: "plugins_dir", Kind: KindString, Default: "~/.config/songhost/plugins", Description: "directory scanned for *.js and *.lua plugins"},
	{Key: "plugins_config", Kind: KindString, Default: "~/.config/songhost/plugins-config.json", Description: "plugin table and priority order"},
	{Key: "call_timeout", Kind: KindDuration, Default: 15 * time.Second, Description: "host bound on one plugin action"},
	{Key: "load_timeout", Kind: KindDuration, Default: 10 * time.Second, Description: "bound on evaluating plugin source"},
	{Key: "client_timeout_margin", Kind: KindDuration, Default: 5 * time.Second, Description: "extra wait beyond call_timeout before the parent gives up"},
	{Key: "max_timer_delay", Kind: KindDuration, Default: 10 * time.Second, Description: "longest sandbox setTimeout"},
	{Key: "max_line_bytes", Kind: KindInt, Default: 16 * 1024 * 1024, Description: "largest protocol frame"},
	{Key: "fetch_timeout", Kind: KindDuration, Default: 20 * time.Second, Description: "bound on one proxied network request"},
	{Key: "restart_backoff", Kind: KindDuration, Default: 500 * time.Millisecond, Description: "first delay before respawning the host"},
	{Key: "max_restarts", Kind: KindInt, Default: 5, Description: "host respawns allowed per minute"},
	{Key: "search_limit", Kind: KindInt, Default: 20, Description: "default number of aggregated results"},
	{Key: "search_concurrency", Kind: KindInt, Default: 8, Description: "plugins searched at once"},
	{Key: "in_process", Kind: KindBool, Default: false, Description: "run the host on goroutines instead of a child process"},
	{Key: "plugin_console", Kind: KindBool, Default: false, Description: "route sandbox console output to the debug log"},
	{Key: "log_level", Kind: KindString, Default: "info", Description: "debug, info, warn or error"},
	{Key: "debug", Kind: KindBool, Default: false, Description: "shorthand for log_level=debug"},
}

// LookupField finds a field by key.
func LookupField(key string) (Field, bool) {
	for _, f := range Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// LookupEnv finds a field by environment variable name.
func LookupEnv(name string) (Field, bool) {
	for _, f := range Fields {
		if f.Env() == strings.ToUpper(name) {
			return f, true
		}
	}
	return Field{}, false
}

// Parse converts a textual value, as found in env vars and .env files.
func (f Field) Parse(raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	switch f.Kind {
	case KindInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not an integer", f.Key, raw)
		}
		return i, nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a boolean", f.Key, raw)
		}
		return b, nil
	case KindDuration:
		return parseDuration(f.Key, raw)
	default:
		return raw, nil
	}
}

// Coerce converts a decoded file value to the field's type.
func (f Field) Coerce(v interface{}) (interface{}, error) {
	if s, ok := v.(string); ok {
		return f.Parse(s)
	}
	switch f.Kind {
	case KindInt:
		switch t := v.(type) {
		case int:
			return t, nil
		case int64:
			return int(t), nil
		case uint64:
			return int(t), nil
		case float64:
			if t == float64(int(t)) {
				return int(t), nil
			}
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindDuration:
		switch t := v.(type) {
		case time.Duration:
			return t, nil
		case int:
			return time.Duration(t) * time.Millisecond, nil
		case float64:
			return time.Duration(t * float64(time.Millisecond)), nil
		}
	case KindString:
		return fmt.Sprint(v), nil
	}
	return nil, fmt.Errorf("%s: unexpected value %v (%T)", f.Key, v, v)
}

// parseDuration accepts Go durations or bare milliseconds.
func parseDuration(key, raw string) (time.Duration, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, fmt.Errorf("%s: %q is not a duration", key, raw)
}
