package configdomain

import (
	"errors"
	"fmt"
	"time"
)

// Settings is the typed view of a merged Snapshot.
type Settings struct {
	PluginsDir          string        `json:"plugins_dir" yaml:"plugins_dir"`
	PluginsConfig       string        `json:"plugins_config" yaml:"plugins_config"`
	CallTimeout         time.Duration `json:"call_timeout" yaml:"call_timeout"`
	LoadTimeout         time.Duration `json:"load_timeout" yaml:"load_timeout"`
	ClientTimeoutMargin time.Duration `json:"client_timeout_margin" yaml:"client_timeout_margin"`
	MaxTimerDelay       time.Duration `json:"max_timer_delay" yaml:"max_timer_delay"`
	MaxLineBytes        int           `json:"max_line_bytes" yaml:"max_line_bytes"`
	FetchTimeout        time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
	RestartBackoff      time.Duration `json:"restart_backoff" yaml:"restart_backoff"`
	MaxRestarts         int           `json:"max_restarts" yaml:"max_restarts"`
	SearchLimit         int           `json:"search_limit" yaml:"search_limit"`
	SearchConcurrency   int           `json:"search_concurrency" yaml:"search_concurrency"`
	InProcess           bool          `json:"in_process" yaml:"in_process"`
	PluginConsole       bool          `json:"plugin_console" yaml:"plugin_console"`
	LogLevel            string        `json:"log_level" yaml:"log_level"`
	Debug               bool          `json:"debug" yaml:"debug"`
}

// DefaultSnapshot holds every field at its default value.
func DefaultSnapshot() Snapshot {
	snap := make(Snapshot, len(Fields))
	for _, f := range Fields {
		snap[f.Key] = Entry{Key: f.Key, Value: f.Default, Source: "default", SourcePath: "built-in", Priority: PriorityDefault}
	}
	return snap
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() Settings {
	s, _ := FromSnapshot(DefaultSnapshot())
	return s
}

// FromSnapshot builds Settings; fields absent from snap keep their
// defaults.
func FromSnapshot(snap Snapshot) (Settings, error) {
	merged := DefaultSnapshot()
	merged.Merge(snap)

	var s Settings
	var errs []error
	str := func(key string) string { v, _ := merged[key].Value.(string); return v }
	num := func(key string) int { v, _ := merged[key].Value.(int); return v }
	flag := func(key string) bool { v, _ := merged[key].Value.(bool); return v }
	dur := func(key string) time.Duration { v, _ := merged[key].Value.(time.Duration); return v }

	for _, f := range Fields {
		e := merged[f.Key]
		v, err := f.Coerce(e.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w (from %s %s)", err, e.Source, e.SourcePath))
			v = f.Default
		}
		e.Value = v
		merged[f.Key] = e
	}

	s.PluginsDir = str("plugins_dir")
	s.PluginsConfig = str("plugins_config")
	s.CallTimeout = dur("call_timeout")
	s.LoadTimeout = dur("load_timeout")
	s.ClientTimeoutMargin = dur("client_timeout_margin")
	s.MaxTimerDelay = dur("max_timer_delay")
	s.MaxLineBytes = num("max_line_bytes")
	s.FetchTimeout = dur("fetch_timeout")
	s.RestartBackoff = dur("restart_backoff")
	s.MaxRestarts = num("max_restarts")
	s.SearchLimit = num("search_limit")
	s.SearchConcurrency = num("search_concurrency")
	s.InProcess = flag("in_process")
	s.PluginConsole = flag("plugin_console")
	s.LogLevel = str("log_level")
	s.Debug = flag("debug")
	if s.Debug {
		s.LogLevel = "debug"
	}
	return s, errors.Join(errs...)
}

// ClientTimeout is how long the parent waits for one action.
func (s Settings) ClientTimeout() time.Duration {
	return s.CallTimeout + s.ClientTimeoutMargin
}

// Validate rejects settings the host cannot run with.
func (s Settings) Validate() error {
	var errs []error
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"call_timeout", s.CallTimeout},
		{"load_timeout", s.LoadTimeout},
		{"max_timer_delay", s.MaxTimerDelay},
		{"fetch_timeout", s.FetchTimeout},
		{"restart_backoff", s.RestartBackoff},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.key, d.d))
		}
	}
	if s.ClientTimeout() < s.CallTimeout {
		errs = append(errs, fmt.Errorf("client timeout %s is shorter than call_timeout %s", s.ClientTimeout(), s.CallTimeout))
	}
	ints := []struct {
		key string
		n   int
	}{
		{"max_line_bytes", s.MaxLineBytes},
		{"max_restarts", s.MaxRestarts},
		{"search_limit", s.SearchLimit},
		{"search_concurrency", s.SearchConcurrency},
	}
	for _, n := range ints {
		if n.n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", n.key, n.n))
		}
	}
	if s.PluginsDir == "" {
		errs = append(errs, fmt.Errorf("plugins_dir cannot be empty"))
	}
	if s.PluginsConfig == "" {
		errs = append(errs, fmt.Errorf("plugins_config cannot be empty"))
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level %q (must be one of: debug, info, warn, error)", s.LogLevel))
	}
	return errors.Join(errs...)
}
