package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"songhost.dev/cli/internal/application/ports"
	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
)

// PluginLifecycleManager owns the parent's plugin table. Every load, unload
// and action goes through it; enable and disable never reach the host.
type PluginLifecycleManager struct {
	host    ports.HostGateway
	sources ports.PluginSourceRepository
	store   ports.PluginConfigStore
	logger  ports.LoggingGateway
	now     func() time.Time

	// ops serializes load and unload of one name across the host
	// round-trip.
	ops *nameLocks

	mu      sync.RWMutex
	records map[string]*plugindomain.PluginRecord
	order   []string
}

// NewPluginLifecycleManager wires the manager to host and registers the
// restart replay. sources and store may be nil.
func NewPluginLifecycleManager(
	host ports.HostGateway,
	sources ports.PluginSourceRepository,
	store ports.PluginConfigStore,
	logger ports.LoggingGateway,
) *PluginLifecycleManager {
	m := &PluginLifecycleManager{
		host:    host,
		sources: sources,
		store:   store,
		logger:  logger,
		now:     time.Now,
		ops:     newNameLocks(),
		records: make(map[string]*plugindomain.PluginRecord),
	}
	host.OnRestart(m.replay)
	return m
}

// Load evaluates source in the host and records the plugin. Reloading an
// existing name replaces it and keeps its enabled state; a failed reload
// leaves the old record untouched.
func (m *PluginLifecycleManager) Load(ctx context.Context, name string, runtime plugindomain.Runtime, source string) (plugindomain.PluginRecord, error) {
	if err := plugindomain.ValidateName(name); err != nil {
		return plugindomain.PluginRecord{}, plugindomain.NewFailure(plugindomain.KindInvalidRequest, name, protocolLoad, "%v", err)
	}
	if runtime == "" {
		runtime = plugindomain.RuntimeJS
	}

	unlock := m.ops.lock(name)
	defer unlock()

	caps, err := m.host.Load(ctx, name, runtime, source)
	if err != nil {
		m.log(ports.LogLevelWarn, "plugin load failed", map[string]interface{}{"plugin": name, "error": err.Error()})
		return plugindomain.PluginRecord{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	enabled := true
	if prev, ok := m.records[name]; ok {
		enabled = prev.Enabled
	} else {
		m.order = append(m.order, name)
	}
	rec := &plugindomain.PluginRecord{
		Name:         name,
		SourceCode:   source,
		Runtime:      runtime,
		LoadedAt:     m.now(),
		Capabilities: caps,
		Enabled:      enabled,
	}
	m.records[name] = rec

	m.log(ports.LogLevelInfo, "plugin loaded", map[string]interface{}{
		"plugin":       name,
		"runtime":      string(runtime),
		"capabilities": caps.String(),
	})
	return *rec, nil
}

// LoadResult reports one plugin of LoadAll.
type LoadResult struct {
	Name   string
	Record plugindomain.PluginRecord
	Err    error
}

// LoadAll loads every discovered plugin. Each is enabled when it appears
// in the stored priority order, or when that order is empty. Individual
// failures are reported, not returned.
func (m *PluginLifecycleManager) LoadAll(ctx context.Context) ([]LoadResult, error) {
	if m.sources == nil {
		return nil, nil
	}
	found, err := m.sources.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover plugins: %w", err)
	}
	cfg, err := m.config()
	if err != nil {
		return nil, err
	}

	results := make([]LoadResult, 0, len(found))
	for _, src := range found {
		if m.store != nil {
			if err := m.store.Register(src.Name, filepath.Base(src.Path)); err != nil {
				m.log(ports.LogLevelWarn, "failed to register plugin", map[string]interface{}{"plugin": src.Name, "error": err.Error()})
			}
		}
		rec, err := m.Load(ctx, src.Name, src.Runtime, src.Code)
		if err == nil {
			enabled := len(cfg.EnabledPlugins) == 0 || cfg.IsEnabled(src.Name)
			m.setEnabled(src.Name, enabled)
			rec.Enabled = enabled
		}
		results = append(results, LoadResult{Name: src.Name, Record: rec, Err: err})
	}
	return results, nil
}

// Install copies a plugin file into the plugin directory, loads it and
// enables it at the top of the priority order. A file that fails to load
// is removed again.
func (m *PluginLifecycleManager) Install(ctx context.Context, path string) (plugindomain.PluginRecord, error) {
	if m.sources == nil {
		return plugindomain.PluginRecord{}, fmt.Errorf("no plugin directory configured")
	}
	src, err := m.sources.Install(path)
	if err != nil {
		return plugindomain.PluginRecord{}, err
	}

	rec, err := m.Load(ctx, src.Name, src.Runtime, src.Code)
	if err != nil {
		if delErr := m.sources.Delete(src.Name); delErr != nil {
			m.log(ports.LogLevelWarn, "failed to remove rejected plugin", map[string]interface{}{"plugin": src.Name, "error": delErr.Error()})
		}
		return plugindomain.PluginRecord{}, err
	}
	if m.store != nil {
		if err := m.store.Register(src.Name, filepath.Base(src.Path)); err != nil {
			return rec, fmt.Errorf("failed to register plugin: %w", err)
		}
	}
	if err := m.Enable(src.Name); err != nil {
		return rec, err
	}
	rec.Enabled = true
	return rec, nil
}

// Unload removes a plugin from the host and then from the table. False
// when it was not loaded. The record survives a failed unload unless the
// host is gone, since a live host may still hold the context.
func (m *PluginLifecycleManager) Unload(ctx context.Context, name string) (bool, error) {
	unlock := m.ops.lock(name)
	defer unlock()

	removed, err := m.host.Unload(ctx, name)
	if err != nil && !errors.Is(err, plugindomain.ErrHostUnavailable) {
		_, known := m.Record(name)
		return known, err
	}

	m.mu.Lock()
	_, known := m.records[name]
	delete(m.records, name)
	m.order = remove(m.order, name)
	m.mu.Unlock()

	if err != nil {
		return known, err
	}
	return known || removed, nil
}

// Uninstall unloads a plugin, deletes its file and forgets its
// configuration.
func (m *PluginLifecycleManager) Uninstall(ctx context.Context, name string) error {
	if _, err := m.Unload(ctx, name); err != nil {
		m.log(ports.LogLevelWarn, "unload during uninstall failed", map[string]interface{}{"plugin": name, "error": err.Error()})
	}
	if m.sources != nil {
		if err := m.sources.Delete(name); err != nil {
			return err
		}
	}
	if m.store != nil {
		if err := m.store.Remove(name); err != nil {
			return err
		}
	}
	return nil
}

// Enable marks a loaded plugin enabled and moves it to the front of the
// priority order.
func (m *PluginLifecycleManager) Enable(name string) error {
	return m.toggle(name, true)
}

// Disable marks a loaded plugin disabled. It stays loaded.
func (m *PluginLifecycleManager) Disable(name string) error {
	return m.toggle(name, false)
}

func (m *PluginLifecycleManager) toggle(name string, enabled bool) error {
	if !m.setEnabled(name, enabled) {
		return plugindomain.NewFailure(plugindomain.KindPluginNotFound, name, "", "plugin is not loaded")
	}
	if m.store != nil {
		if err := m.store.SetEnabled(name, enabled); err != nil {
			return fmt.Errorf("failed to persist plugin state: %w", err)
		}
	}
	return nil
}

func (m *PluginLifecycleManager) setEnabled(name string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if ok {
		rec.Enabled = enabled
	}
	return ok
}

// Call runs an action on a plugin. An action outside the plugin's
// capabilities resolves to its no-op result without reaching the host.
func (m *PluginLifecycleManager) Call(ctx context.Context, name string, action plugindomain.Action, args plugindomain.Args) (json.RawMessage, error) {
	rec, ok := m.Record(name)
	if !ok {
		return nil, plugindomain.NewFailure(plugindomain.KindPluginNotFound, name, string(action), "plugin is not loaded")
	}
	if !rec.Supports(action) {
		return action.NoopResult(), nil
	}
	return m.host.Call(ctx, name, action, args)
}

// Record returns a copy of the named record.
func (m *PluginLifecycleManager) Record(name string) (plugindomain.PluginRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	if !ok {
		return plugindomain.PluginRecord{}, false
	}
	return *rec, true
}

// Records lists the table in load order.
func (m *PluginLifecycleManager) Records() []plugindomain.PluginRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]plugindomain.PluginRecord, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, *m.records[name])
	}
	return out
}

// EnabledInPriority lists enabled plugins: first those in the stored
// priority order, in that order, then the rest in load order.
func (m *PluginLifecycleManager) EnabledInPriority() []string {
	cfg, err := m.config()
	if err != nil {
		m.log(ports.LogLevelWarn, "failed to read plugin priority", map[string]interface{}{"error": err.Error()})
	}

	records := m.Records()
	enabled := make(map[string]bool, len(records))
	for _, r := range records {
		if r.Enabled {
			enabled[r.Name] = true
		}
	}

	var out []string
	seen := make(map[string]bool)
	for _, name := range cfg.EnabledPlugins {
		if enabled[name] && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	for _, r := range records {
		if enabled[r.Name] && !seen[r.Name] {
			out = append(out, r.Name)
			seen[r.Name] = true
		}
	}
	return out
}

// Config reads the stored plugin configuration.
func (m *PluginLifecycleManager) Config() (plugindomain.PluginsConfig, error) {
	return m.config()
}

func (m *PluginLifecycleManager) config() (plugindomain.PluginsConfig, error) {
	if m.store == nil {
		return plugindomain.PluginsConfig{}, nil
	}
	cfg, err := m.store.Get()
	if err != nil {
		return plugindomain.PluginsConfig{}, fmt.Errorf("failed to read plugin config: %w", err)
	}
	return cfg, nil
}

// replay re-sends every record to a respawned host in load order. A plugin
// whose code no longer loads is dropped from the table, and one unloaded
// while its replay was in flight is unloaded from the host again. A host
// failure keeps the remaining records and ends the pass; the next respawn
// replays them. The host gateway holds back other calls until replay
// returns, so replay must not take ops.
func (m *PluginLifecycleManager) replay(ctx context.Context) {
	records := m.Records()
	m.log(ports.LogLevelInfo, "replaying plugins into restarted host", map[string]interface{}{"count": len(records)})

	for _, rec := range records {
		caps, err := m.host.Load(ctx, rec.Name, rec.Runtime, rec.SourceCode)
		if err != nil && hostFault(err) {
			m.log(ports.LogLevelWarn, "plugin replay interrupted by host failure", map[string]interface{}{"plugin": rec.Name, "error": err.Error()})
			return
		}

		m.mu.Lock()
		current, still := m.records[rec.Name]
		switch {
		case !still:
		case err != nil:
			delete(m.records, rec.Name)
			m.order = remove(m.order, rec.Name)
		default:
			current.Capabilities = caps
			current.LoadedAt = m.now()
		}
		m.mu.Unlock()
		if !still && err == nil {
			if _, uerr := m.host.Unload(ctx, rec.Name); uerr != nil {
				m.log(ports.LogLevelWarn, "failed to drop unloaded plugin after replay", map[string]interface{}{"plugin": rec.Name, "error": uerr.Error()})
			}
		}
		if err != nil {
			m.log(ports.LogLevelError, "plugin replay failed", map[string]interface{}{"plugin": rec.Name, "error": err.Error()})
		}
	}
}

// hostFault reports whether err says nothing about the plugin's code.
func hostFault(err error) bool {
	return errors.Is(err, plugindomain.ErrHostUnavailable) ||
		errors.Is(err, plugindomain.ErrTimeout) ||
		errors.Is(err, plugindomain.ErrProtocolParse) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (m *PluginLifecycleManager) log(level ports.LogLevel, msg string, fields map[string]interface{}) {
	if m.logger != nil {
		m.logger.Log(level, msg, fields)
	}
}

const protocolLoad = "load"

func remove(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// nameLocks hands out one mutex per plugin name, freed when unused.
type nameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

func newNameLocks() *nameLocks {
	return &nameLocks{locks: make(map[string]*nameLock)}
}

func (n *nameLocks) lock(name string) func() {
	n.mu.Lock()
	l, ok := n.locks[name]
	if !ok {
		l = &nameLock{}
		n.locks[name] = l
	}
	l.refs++
	n.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		n.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(n.locks, name)
		}
		n.mu.Unlock()
	}
}
