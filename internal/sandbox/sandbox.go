// Package sandbox builds restricted per-plugin execution contexts. Each
// context owns its own script engine state; nothing is shared between two
// contexts.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	httpports "songhost.dev/cli/internal/core/ports/http"
)

// Default limits applied when Options leaves a field zero.
const (
	DefaultLoadTimeout   = 10 * time.Second
	DefaultMaxTimerDelay = 10 * time.Second
	DefaultMaxTimers     = 256
)

// Console receives plugin console output. The default discards it.
type Console interface {
	Print(plugin, level, message string)
}

type discardConsole struct{}

func (discardConsole) Print(string, string, string) {}

// Options configures every context created by a Factory.
type Options struct {
	LoadTimeout   time.Duration
	MaxTimerDelay time.Duration
	MaxTimers     int
	Fetcher       httpports.Fetcher
	Console       Console
}

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = DefaultLoadTimeout
	}
	if o.MaxTimerDelay <= 0 {
		o.MaxTimerDelay = DefaultMaxTimerDelay
	}
	if o.MaxTimers <= 0 {
		o.MaxTimers = DefaultMaxTimers
	}
	if o.Console == nil {
		o.Console = discardConsole{}
	}
	return o
}

// Instance is a plugin evaluated inside its own context. Implementations are
// not safe for concurrent use; callers serialize access.
type Instance interface {
	// Capabilities is the set computed when the plugin was loaded.
	Capabilities() plugindomain.Capability

	// Call invokes action with JSON-encoded positional arguments and returns
	// the JSON encoding of the settled result. ctx bounds the call.
	Call(ctx context.Context, action plugindomain.Action, args []json.RawMessage) (json.RawMessage, error)

	// Close releases the engine state.
	Close()
}

// Engine evaluates plugin source for one runtime.
type Engine interface {
	Runtime() plugindomain.Runtime
	Load(ctx context.Context, name, source string, opts Options) (Instance, error)
}

// Factory creates contexts with the engine registered for a runtime.
type Factory struct {
	mu      sync.RWMutex
	engines map[plugindomain.Runtime]Engine
	opts    Options
}

// NewFactory returns a factory with the given engines registered.
func NewFactory(opts Options, engines ...Engine) *Factory {
	f := &Factory{
		engines: make(map[plugindomain.Runtime]Engine),
		opts:    opts.WithDefaults(),
	}
	for _, e := range engines {
		f.Register(e)
	}
	return f
}

// Register adds or replaces the engine for its runtime.
func (f *Factory) Register(engine Engine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.engines[engine.Runtime()] = engine
}

// SetFetcher installs the network primitive used by contexts created after
// the call.
func (f *Factory) SetFetcher(fetcher httpports.Fetcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts.Fetcher = fetcher
}

// Runtimes lists registered runtimes.
func (f *Factory) Runtimes() []plugindomain.Runtime {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]plugindomain.Runtime, 0, len(f.engines))
	for rt := range f.engines {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New evaluates source in a fresh context. An empty runtime selects JS.
// Evaluation is bounded by the load timeout.
func (f *Factory) New(ctx context.Context, name string, runtime plugindomain.Runtime, source string) (Instance, error) {
	if runtime == "" {
		runtime = plugindomain.RuntimeJS
	}

	f.mu.RLock()
	engine, ok := f.engines[runtime]
	opts := f.opts
	f.mu.RUnlock()
	if !ok {
		return nil, plugindomain.NewFailure(plugindomain.KindMalformedPlugin, name, "load", "no engine for runtime %q (have %v)", runtime, f.Runtimes())
	}

	loadCtx, cancel := context.WithTimeout(ctx, opts.LoadTimeout)
	defer cancel()

	inst, err := engine.Load(loadCtx, name, source, opts)
	if err != nil {
		return nil, plugindomain.AsFailure(err, plugindomain.KindMalformedPlugin, name, "load")
	}
	return inst, nil
}

// TimeoutFailure reports a call or load that exceeded its deadline.
func TimeoutFailure(ctx context.Context, plugin, action string) *plugindomain.Failure {
	return plugindomain.NewFailure(plugindomain.KindTimeout, plugin, action, "%s did not settle in time: %v", action, ctx.Err())
}

// ThrewFailure reports an exception raised by plugin code.
func ThrewFailure(plugin, action string, err error) *plugindomain.Failure {
	return plugindomain.NewFailure(plugindomain.KindPluginThrew, plugin, action, "%v", err)
}

// ShapeFailure reports a result that cannot be represented as JSON.
func ShapeFailure(plugin, action string, format string, args ...interface{}) *plugindomain.Failure {
	return plugindomain.NewFailure(plugindomain.KindInvalidResultShape, plugin, action, "%s", fmt.Sprintf(format, args...))
}
