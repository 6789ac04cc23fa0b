// Package host keeps the table of live plugin contexts inside the sandbox
// host process and dispatches actions to them.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"songhost.dev/cli/internal/application/ports"
	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	"songhost.dev/cli/internal/sandbox"
)

// DefaultCallTimeout bounds one plugin action.
const DefaultCallTimeout = 15 * time.Second

// Config holds host limits.
type Config struct {
	CallTimeout time.Duration
	QueueSize   int
}

// LoadResult describes a successfully loaded plugin.
type LoadResult struct {
	Name         string                  `json:"name"`
	Runtime      plugindomain.Runtime    `json:"runtime"`
	Capabilities plugindomain.Capability `json:"capabilities"`
	Replaced     bool                    `json:"replaced"`
}

type entry struct {
	name     string
	runtime  plugindomain.Runtime
	inst     sandbox.Instance
	exec     *Executor
	loadedAt time.Time
}

// Host owns the plugin table. A plugin's context and its table entry are
// created and destroyed together.
type Host struct {
	factory *sandbox.Factory
	cfg     Config
	logger  ports.LoggingGateway

	mu      sync.RWMutex
	plugins map[string]*entry
}

// New creates an empty host.
func New(factory *sandbox.Factory, cfg Config, logger ports.LoggingGateway) *Host {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Host{
		factory: factory,
		cfg:     cfg,
		logger:  logger,
		plugins: make(map[string]*entry),
	}
}

// Load evaluates source in a fresh context and installs it under name,
// replacing any previous plugin of that name only once evaluation succeeds.
func (h *Host) Load(ctx context.Context, name string, runtime plugindomain.Runtime, source string) (LoadResult, error) {
	if err := plugindomain.ValidateName(name); err != nil {
		return LoadResult{}, plugindomain.NewFailure(plugindomain.KindInvalidRequest, name, protocolLoad, "%v", err)
	}
	if runtime == "" {
		runtime = plugindomain.RuntimeJS
	}

	exec := NewExecutor(h.cfg.QueueSize)
	v, err := exec.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		return h.factory.New(ctx, name, runtime, source)
	})
	if err != nil {
		exec.Close(nil)
		if ctx.Err() != nil {
			return LoadResult{}, sandbox.TimeoutFailure(ctx, name, protocolLoad)
		}
		return LoadResult{}, plugindomain.AsFailure(err, plugindomain.KindMalformedPlugin, name, protocolLoad)
	}
	inst := v.(sandbox.Instance)

	e := &entry{name: name, runtime: runtime, inst: inst, exec: exec, loadedAt: time.Now()}
	h.mu.Lock()
	old, replaced := h.plugins[name]
	h.plugins[name] = e
	h.mu.Unlock()

	if replaced {
		old.exec.Close(old.inst.Close)
	}

	h.log(ports.LogLevelInfo, "plugin loaded", map[string]interface{}{
		"plugin":       name,
		"runtime":      string(runtime),
		"capabilities": inst.Capabilities().String(),
		"replaced":     replaced,
	})
	return LoadResult{Name: name, Runtime: runtime, Capabilities: inst.Capabilities(), Replaced: replaced}, nil
}

// Unload removes the plugin; false when absent. Calls already queued for it
// finish before its context is released.
func (h *Host) Unload(name string) bool {
	h.mu.Lock()
	e, ok := h.plugins[name]
	delete(h.plugins, name)
	h.mu.Unlock()
	if !ok {
		return false
	}
	e.exec.Close(e.inst.Close)
	h.log(ports.LogLevelInfo, "plugin unloaded", map[string]interface{}{"plugin": name})
	return true
}

// Dispatch runs action on the named plugin under the call timeout and
// returns the normalized result.
func (h *Host) Dispatch(ctx context.Context, name, actionName string, args plugindomain.Args) (json.RawMessage, error) {
	h.mu.RLock()
	e, ok := h.plugins[name]
	h.mu.RUnlock()
	if !ok {
		return nil, plugindomain.NewFailure(plugindomain.KindPluginNotFound, name, actionName, "plugin %q is not loaded", name)
	}

	action, err := plugindomain.ParseAction(actionName)
	if err != nil {
		return nil, plugindomain.NewFailure(plugindomain.KindInvalidRequest, name, actionName, "%v", err)
	}
	if !e.inst.Capabilities().Has(action) {
		return action.NoopResult(), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, h.cfg.CallTimeout)
	defer cancel()

	started := time.Now()
	v, err := e.exec.Submit(callCtx, func(ctx context.Context) (interface{}, error) {
		return e.inst.Call(ctx, action, args.Positional(action))
	})
	if err != nil {
		failure := h.classify(callCtx, name, action, err)
		h.log(ports.LogLevelWarn, "plugin action failed", map[string]interface{}{
			"plugin":  name,
			"action":  actionName,
			"kind":    string(failure.Kind),
			"elapsed": time.Since(started).String(),
		})
		return nil, failure
	}
	return Normalize(name, action, v.(json.RawMessage))
}

func (h *Host) classify(ctx context.Context, name string, action plugindomain.Action, err error) *plugindomain.Failure {
	var failure *plugindomain.Failure
	switch {
	case errors.As(err, &failure):
		return failure
	case errors.Is(err, ErrExecutorClosed):
		return plugindomain.NewFailure(plugindomain.KindPluginNotFound, name, string(action), "plugin %q was unloaded", name)
	case ctx.Err() != nil:
		return sandbox.TimeoutFailure(ctx, name, string(action))
	default:
		return sandbox.ThrewFailure(name, string(action), err)
	}
}

// Plugins lists loaded plugin names.
func (h *Host) Plugins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capabilities returns the set for a loaded plugin.
func (h *Host) Capabilities(name string) (plugindomain.Capability, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.plugins[name]
	if !ok {
		return 0, false
	}
	return e.inst.Capabilities(), true
}

// Close unloads everything.
func (h *Host) Close() {
	for _, name := range h.Plugins() {
		h.Unload(name)
	}
}

func (h *Host) log(level ports.LogLevel, msg string, fields map[string]interface{}) {
	if h.logger != nil {
		h.logger.Log(level, msg, fields)
	}
}

const protocolLoad = "load"
