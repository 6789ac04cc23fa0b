package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	"songhost.dev/cli/internal/sandbox"
	"songhost.dev/cli/internal/sandbox/jsengine"
	"songhost.dev/cli/internal/sandbox/luaengine"
)

func newTestHost(t *testing.T, cfg Config) *Host {
	t.Helper()
	h := New(sandbox.NewFactory(sandbox.Options{}, jsengine.New(), luaengine.New()), cfg, nil)
	t.Cleanup(h.Close)
	return h
}

func TestHost_LoadValidatesName(t *testing.T) {
	h := newTestHost(t, Config{})

	for _, name := range []string{"", "ALL", "OpenAPI", "a/b"} {
		_, err := h.Load(context.Background(), name, plugindomain.RuntimeJS, `module.exports = {};`)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, plugindomain.ErrInvalidRequest)
	}
	assert.Empty(t, h.Plugins())
}

func TestHost_LoadsBothRuntimes(t *testing.T) {
	h := newTestHost(t, Config{})
	ctx := context.Background()

	res, err := h.Load(ctx, "js", "", `module.exports = { getTopLists: function () { return [{ title: "hot" }]; } };`)
	require.NoError(t, err)
	assert.Equal(t, plugindomain.RuntimeJS, res.Runtime)

	res, err = h.Load(ctx, "lua", plugindomain.RuntimeLua, `return { getTopLists = function() return { { title = "new" } } end }`)
	require.NoError(t, err)
	assert.True(t, res.Capabilities.Has(plugindomain.ActionGetTopLists))

	assert.Equal(t, []string{"js", "lua"}, h.Plugins())

	for name, want := range map[string]string{"js": `[{"title":"hot"}]`, "lua": `[{"title":"new"}]`} {
		out, err := h.Dispatch(ctx, name, string(plugindomain.ActionGetTopLists), plugindomain.Args{})
		require.NoError(t, err)
		assert.JSONEq(t, want, string(out))
	}
}

func TestHost_DispatchErrors(t *testing.T) {
	h := newTestHost(t, Config{CallTimeout: 100 * time.Millisecond})
	ctx := context.Background()
	_, err := h.Load(ctx, "p", "", `module.exports = { getMusicInfo: function () { return new Promise(function () {}); } };`)
	require.NoError(t, err)

	tests := []struct {
		name   string
		plugin string
		action string
		want   error
	}{
		{name: "absent_plugin", plugin: "ghost", action: "search", want: plugindomain.ErrPluginNotFound},
		{name: "unknown_action", plugin: "p", action: "rm -rf", want: plugindomain.ErrInvalidRequest},
		{name: "never_settles", plugin: "p", action: "getMusicInfo", want: plugindomain.ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Dispatch(ctx, tt.plugin, tt.action, plugindomain.Args{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	out, err := h.Dispatch(ctx, "p", "search", plugindomain.Args{Query: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"isEnd":true,"data":[]}`, string(out))
}
