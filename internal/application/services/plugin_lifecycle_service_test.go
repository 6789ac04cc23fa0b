package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
)

var searchOnly = plugindomain.CapabilitiesOf(plugindomain.ActionSearch)

func newManager(t *testing.T) (*PluginLifecycleManager, *MockHostGateway, *memoryConfigStore) {
	t.Helper()
	host := &MockHostGateway{}
	store := &memoryConfigStore{}
	return NewPluginLifecycleManager(host, nil, store, nil), host, store
}

func TestPluginLifecycleManager_Load(t *testing.T) {
	tests := []struct {
		name        string
		plugin      string
		hostErr     error
		expectError error
		expectLoad  bool
	}{
		{name: "loads plugin", plugin: "demo", expectLoad: true},
		{name: "reserved name", plugin: "OpenAPI", expectError: plugindomain.ErrInvalidRequest},
		{name: "empty name", plugin: " ", expectError: plugindomain.ErrInvalidRequest},
		{
			name:        "malformed plugin",
			plugin:      "bad",
			hostErr:     plugindomain.NewFailure(plugindomain.KindMalformedPlugin, "bad", "load", "export is not an object"),
			expectError: plugindomain.ErrMalformedPlugin,
			expectLoad:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, host, _ := newManager(t)
			if tt.expectLoad {
				host.On("Load", mock.Anything, tt.plugin, plugindomain.RuntimeJS, "code").Return(searchOnly, tt.hostErr)
			}

			rec, err := m.Load(context.Background(), tt.plugin, "", "code")

			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				_, ok := m.Record(tt.plugin)
				assert.False(t, ok)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.plugin, rec.Name)
				assert.True(t, rec.Enabled)
				assert.True(t, rec.Supports(plugindomain.ActionSearch))
			}
			host.AssertExpectations(t)
		})
	}
}

func TestPluginLifecycleManager_ReloadKeepsStateAndOrder(t *testing.T) {
	m, host, _ := newManager(t)
	ctx := context.Background()
	host.On("Load", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(searchOnly, nil).Times(3)
	host.On("Load", mock.Anything, "a", plugindomain.RuntimeJS, "v3").
		Return(plugindomain.Capability(0), plugindomain.NewFailure(plugindomain.KindMalformedPlugin, "a", "load", "boom")).Once()

	_, err := m.Load(ctx, "a", plugindomain.RuntimeJS, "v1")
	require.NoError(t, err)
	_, err = m.Load(ctx, "b", plugindomain.RuntimeJS, "v1")
	require.NoError(t, err)
	require.NoError(t, m.Disable("a"))

	_, err = m.Load(ctx, "a", plugindomain.RuntimeJS, "v2")
	require.NoError(t, err)
	rec, _ := m.Record("a")
	assert.False(t, rec.Enabled)
	assert.Equal(t, "v2", rec.SourceCode)

	_, err = m.Load(ctx, "a", plugindomain.RuntimeJS, "v3")
	require.Error(t, err)
	rec, _ = m.Record("a")
	assert.Equal(t, "v2", rec.SourceCode)

	var names []string
	for _, r := range m.Records() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestPluginLifecycleManager_Call(t *testing.T) {
	m, host, _ := newManager(t)
	ctx := context.Background()
	host.On("Load", mock.Anything, "demo", plugindomain.RuntimeJS, "code").Return(searchOnly, nil)
	host.On("Call", mock.Anything, "demo", plugindomain.ActionSearch, mock.Anything).
		Return(json.RawMessage(`{"isEnd":true,"data":[]}`), nil).Once()
	host.On("Unload", mock.Anything, "demo").Return(true, nil)

	_, err := m.Load(ctx, "demo", plugindomain.RuntimeJS, "code")
	require.NoError(t, err)

	t.Run("supported action reaches host", func(t *testing.T) {
		raw, err := m.Call(ctx, "demo", plugindomain.ActionSearch, plugindomain.Args{Query: "x"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"isEnd":true,"data":[]}`, string(raw))
	})

	t.Run("unsupported action is a no-op", func(t *testing.T) {
		raw, err := m.Call(ctx, "demo", plugindomain.ActionGetLyric, plugindomain.Args{})
		require.NoError(t, err)
		assert.Equal(t, "null", string(raw))

		raw, err = m.Call(ctx, "demo", plugindomain.ActionGetTopLists, plugindomain.Args{})
		require.NoError(t, err)
		assert.Equal(t, "[]", string(raw))
	})

	t.Run("unloaded plugin is not found", func(t *testing.T) {
		removed, err := m.Unload(ctx, "demo")
		require.NoError(t, err)
		assert.True(t, removed)

		_, err = m.Call(ctx, "demo", plugindomain.ActionSearch, plugindomain.Args{})
		assert.ErrorIs(t, err, plugindomain.ErrPluginNotFound)
	})

	host.AssertNumberOfCalls(t, "Call", 1)
}

func TestPluginLifecycleManager_EnableDisable(t *testing.T) {
	m, host, store := newManager(t)
	ctx := context.Background()
	host.On("Load", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(searchOnly, nil)

	for _, name := range []string{"a", "b", "c"} {
		_, err := m.Load(ctx, name, plugindomain.RuntimeJS, "code")
		require.NoError(t, err)
	}

	require.NoError(t, m.Enable("c"))
	require.NoError(t, m.Enable("b"))
	require.NoError(t, m.Disable("a"))

	cfg, err := store.Get()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, cfg.EnabledPlugins)
	assert.Equal(t, []string{"b", "c"}, m.EnabledInPriority())

	assert.ErrorIs(t, m.Enable("missing"), plugindomain.ErrPluginNotFound)
	host.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPluginLifecycleManager_LoadAll(t *testing.T) {
	host := &MockHostGateway{}
	sources := &MockSourceRepository{}
	store := &memoryConfigStore{cfg: plugindomain.PluginsConfig{EnabledPlugins: []string{"lua-src"}}}
	m := NewPluginLifecycleManager(host, sources, store, nil)

	sources.On("Discover", mock.Anything).Return([]plugindomain.PluginSource{
		{Name: "js-src", Path: "/p/js-src.js", Runtime: plugindomain.RuntimeJS, Code: "js"},
		{Name: "lua-src", Path: "/p/lua-src.lua", Runtime: plugindomain.RuntimeLua, Code: "lua"},
		{Name: "broken", Path: "/p/broken.js", Runtime: plugindomain.RuntimeJS, Code: "bad"},
	}, nil)
	host.On("Load", mock.Anything, "js-src", plugindomain.RuntimeJS, "js").Return(searchOnly, nil)
	host.On("Load", mock.Anything, "lua-src", plugindomain.RuntimeLua, "lua").Return(searchOnly, nil)
	host.On("Load", mock.Anything, "broken", plugindomain.RuntimeJS, "bad").
		Return(plugindomain.Capability(0), plugindomain.NewFailure(plugindomain.KindMalformedPlugin, "broken", "load", "syntax"))

	results, err := m.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.False(t, results[0].Record.Enabled)
	assert.NoError(t, results[1].Err)
	assert.True(t, results[1].Record.Enabled)
	assert.ErrorIs(t, results[2].Err, plugindomain.ErrMalformedPlugin)

	cfg, _ := store.Get()
	info, ok := cfg.Info("lua-src")
	require.True(t, ok)
	assert.Equal(t, "lua-src.lua", info.File)
	assert.Len(t, m.Records(), 2)
}

func TestPluginLifecycleManager_Uninstall(t *testing.T) {
	host := &MockHostGateway{}
	sources := &MockSourceRepository{}
	store := &memoryConfigStore{}
	m := NewPluginLifecycleManager(host, sources, store, nil)
	ctx := context.Background()

	host.On("Load", mock.Anything, "demo", plugindomain.RuntimeJS, "code").Return(searchOnly, nil)
	host.On("Unload", mock.Anything, "demo").Return(true, nil)
	sources.On("Delete", "demo").Return(nil)

	_, err := m.Load(ctx, "demo", plugindomain.RuntimeJS, "code")
	require.NoError(t, err)
	require.NoError(t, store.Register("demo", "demo.js"))
	require.NoError(t, m.Enable("demo"))

	require.NoError(t, m.Uninstall(ctx, "demo"))

	_, ok := m.Record("demo")
	assert.False(t, ok)
	cfg, _ := store.Get()
	assert.Empty(t, cfg.EnabledPlugins)
	assert.Empty(t, cfg.PluginsInfo)
	sources.AssertExpectations(t)
}

func TestPluginLifecycleManager_RestartReplaysInLoadOrder(t *testing.T) {
	m, host, _ := newManager(t)
	ctx := context.Background()

	var loaded []string
	record := func(args mock.Arguments) { loaded = append(loaded, args.String(1)) }
	host.On("Load", mock.Anything, "a", plugindomain.RuntimeJS, "a-code").Return(searchOnly, nil).Run(record)
	host.On("Load", mock.Anything, "b", plugindomain.RuntimeLua, "b-code").Return(searchOnly, nil).Once().Run(record)
	host.On("Load", mock.Anything, "b", plugindomain.RuntimeLua, "b-code").
		Return(plugindomain.Capability(0), errors.New("gone")).Once().Run(record)

	_, err := m.Load(ctx, "a", plugindomain.RuntimeJS, "a-code")
	require.NoError(t, err)
	_, err = m.Load(ctx, "b", plugindomain.RuntimeLua, "b-code")
	require.NoError(t, err)
	require.NoError(t, m.Disable("a"))
	loaded = nil

	host.restart(ctx)

	assert.Equal(t, []string{"a", "b"}, loaded)
	rec, ok := m.Record("a")
	require.True(t, ok)
	assert.False(t, rec.Enabled)
	_, ok = m.Record("b")
	assert.False(t, ok, "a plugin that fails to replay is dropped")
}

func TestPluginLifecycleManager_UnloadWaitsForInFlightLoad(t *testing.T) {
	m, host, _ := newManager(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		live = map[string]bool{}
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	host.On("Load", mock.Anything, "p", plugindomain.RuntimeJS, "code").Return(searchOnly, nil).Run(func(mock.Arguments) {
		mu.Lock()
		live["p"] = true
		mu.Unlock()
		close(entered)
		<-release
	})
	host.On("Unload", mock.Anything, "p").Return(true, nil).Run(func(mock.Arguments) {
		mu.Lock()
		delete(live, "p")
		mu.Unlock()
	})

	loadDone := make(chan error, 1)
	go func() {
		_, err := m.Load(ctx, "p", plugindomain.RuntimeJS, "code")
		loadDone <- err
	}()
	<-entered

	unloadDone := make(chan bool, 1)
	go func() {
		removed, err := m.Unload(ctx, "p")
		assert.NoError(t, err)
		unloadDone <- removed
	}()

	select {
	case <-unloadDone:
		t.Fatal("unload finished while load was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-loadDone)
	assert.True(t, <-unloadDone)

	_, recorded := m.Record("p")
	mu.Lock()
	present := live["p"]
	mu.Unlock()
	assert.False(t, recorded)
	assert.False(t, present)
}

func TestPluginLifecycleManager_UnloadErrors(t *testing.T) {
	t.Run("host gone drops the record", func(t *testing.T) {
		m, host, _ := newManager(t)
		ctx := context.Background()
		host.On("Load", mock.Anything, "p", plugindomain.RuntimeJS, "code").Return(searchOnly, nil)
		host.On("Unload", mock.Anything, "p").
			Return(false, plugindomain.NewFailure(plugindomain.KindHostProcessUnavailable, "", "", "host exited"))
		_, err := m.Load(ctx, "p", plugindomain.RuntimeJS, "code")
		require.NoError(t, err)

		removed, err := m.Unload(ctx, "p")
		assert.ErrorIs(t, err, plugindomain.ErrHostUnavailable)
		assert.True(t, removed)
		_, ok := m.Record("p")
		assert.False(t, ok)
	})

	t.Run("live host keeps the record", func(t *testing.T) {
		m, host, _ := newManager(t)
		ctx := context.Background()
		host.On("Load", mock.Anything, "p", plugindomain.RuntimeJS, "code").Return(searchOnly, nil)
		host.On("Unload", mock.Anything, "p").
			Return(false, plugindomain.NewFailure(plugindomain.KindTimeout, "p", "unload", "no reply"))
		_, err := m.Load(ctx, "p", plugindomain.RuntimeJS, "code")
		require.NoError(t, err)

		_, err = m.Unload(ctx, "p")
		assert.ErrorIs(t, err, plugindomain.ErrTimeout)
		_, ok := m.Record("p")
		assert.True(t, ok)
	})
}

func TestPluginLifecycleManager_ReplayDropsPluginUnloadedMeanwhile(t *testing.T) {
	m, host, _ := newManager(t)
	ctx := context.Background()

	host.On("Load", mock.Anything, "p", plugindomain.RuntimeJS, "code").Return(searchOnly, nil).Once()
	_, err := m.Load(ctx, "p", plugindomain.RuntimeJS, "code")
	require.NoError(t, err)

	// The unload reached the dying host; the replay load reached the new one.
	host.On("Unload", mock.Anything, "p").
		Return(false, plugindomain.NewFailure(plugindomain.KindHostProcessUnavailable, "", "", "host exited")).Once()
	host.On("Load", mock.Anything, "p", plugindomain.RuntimeJS, "code").Return(searchOnly, nil).Once().
		Run(func(mock.Arguments) {
			_, _ = m.Unload(ctx, "p")
		})
	host.On("Unload", mock.Anything, "p").Return(true, nil).Once()

	host.restart(ctx)

	_, ok := m.Record("p")
	assert.False(t, ok)
	host.AssertNumberOfCalls(t, "Unload", 2)
}

func TestPluginLifecycleManager_ReplayInterruptedByHostFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "host died again", err: plugindomain.NewFailure(plugindomain.KindHostProcessUnavailable, "", "", "host exited")},
		{name: "host stopped answering", err: plugindomain.NewFailure(plugindomain.KindTimeout, "p", "load", "no reply")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, host, _ := newManager(t)
			ctx := context.Background()

			host.On("Load", mock.Anything, "p", plugindomain.RuntimeJS, "p-code").Return(searchOnly, nil).Once()
			host.On("Load", mock.Anything, "q", plugindomain.RuntimeJS, "q-code").Return(searchOnly, nil).Once()
			_, err := m.Load(ctx, "p", plugindomain.RuntimeJS, "p-code")
			require.NoError(t, err)
			_, err = m.Load(ctx, "q", plugindomain.RuntimeJS, "q-code")
			require.NoError(t, err)

			host.On("Load", mock.Anything, "p", plugindomain.RuntimeJS, "p-code").
				Return(plugindomain.Capability(0), tt.err).Once()
			host.restart(ctx)

			assert.Len(t, m.Records(), 2, "records survive a host failure during replay")
			host.AssertNumberOfCalls(t, "Load", 3)

			host.On("Load", mock.Anything, "p", plugindomain.RuntimeJS, "p-code").Return(searchOnly, nil).Once()
			host.On("Load", mock.Anything, "q", plugindomain.RuntimeJS, "q-code").Return(searchOnly, nil).Once()
			host.restart(ctx)

			host.AssertNumberOfCalls(t, "Load", 5)
			for _, name := range []string{"p", "q"} {
				_, ok := m.Record(name)
				assert.True(t, ok, name)
			}
		})
	}
}

func TestPluginLifecycleManager_Install(t *testing.T) {
	tests := []struct {
		name        string
		loadErr     error
		expectError error
	}{
		{name: "installs and enables"},
		{
			name:        "rejected plugin is removed",
			loadErr:     plugindomain.NewFailure(plugindomain.KindMalformedPlugin, "kw", "load", "export is not an object"),
			expectError: plugindomain.ErrMalformedPlugin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := &MockHostGateway{}
			sources := &MockSourceRepository{}
			store := &memoryConfigStore{cfg: plugindomain.PluginsConfig{EnabledPlugins: []string{"other"}}}
			m := NewPluginLifecycleManager(host, sources, store, nil)

			src := plugindomain.PluginSource{Name: "kw", Path: "/plugins/kw.js", Runtime: plugindomain.RuntimeJS, Code: "code"}
			sources.On("Install", "/tmp/kw.js").Return(src, nil)
			host.On("Load", mock.Anything, "kw", plugindomain.RuntimeJS, "code").Return(searchOnly, tt.loadErr)
			if tt.loadErr != nil {
				sources.On("Delete", "kw").Return(nil)
			}

			rec, err := m.Install(context.Background(), "/tmp/kw.js")

			cfg, _ := store.Get()
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				assert.Equal(t, []string{"other"}, cfg.EnabledPlugins)
			} else {
				require.NoError(t, err)
				assert.True(t, rec.Enabled)
				assert.Equal(t, []string{"kw", "other"}, cfg.EnabledPlugins)
				info, ok := cfg.Info("kw")
				require.True(t, ok)
				assert.Equal(t, "kw.js", info.File)
			}
			sources.AssertExpectations(t)
		})
	}
}
