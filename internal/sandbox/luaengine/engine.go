// Package luaengine evaluates Lua music-source plugins with gopher-lua.
//
// A plugin chunk returns a table whose function members are the actions it
// implements:
//
//	local http = require("http")
//	local plugin = {}
//	function plugin.search(query, page, type) ... end
//	return plugin
package luaengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	"songhost.dev/cli/internal/sandbox"
)

// Engine creates gopher-lua plugin contexts.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Runtime() plugindomain.Runtime { return plugindomain.RuntimeLua }

var _ sandbox.Engine = (*Engine)(nil)

// removedGlobals are opened by the base library but reach outside the sandbox.
var removedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "_printregs"}

type luaContext struct {
	name    string
	opts    sandbox.Options
	L       *lua.LState
	exports *lua.LTable
	funcs   map[plugindomain.Action]*lua.LFunction
	caps    plugindomain.Capability
	modules map[string]lua.LValue
	callCtx context.Context
	closed  bool
}

// Load runs the chunk and keeps the table it returns.
func (e *Engine) Load(ctx context.Context, name, source string, opts sandbox.Options) (sandbox.Instance, error) {
	c := &luaContext{
		name:    name,
		opts:    opts.WithDefaults(),
		L:       lua.NewState(lua.Options{SkipOpenLibs: true}),
		funcs:   make(map[plugindomain.Action]*lua.LFunction),
		modules: make(map[string]lua.LValue),
	}
	c.install()

	if err := c.evaluate(ctx, source); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *luaContext) install() {
	L := c.L
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		c.opts.Console.Print(c.name, "log", strings.Join(parts, "\t"))
		return 0
	}))
	L.SetGlobal("require", L.NewFunction(c.require))
}

func (c *luaContext) evaluate(ctx context.Context, source string) error {
	fn, err := c.L.LoadString(source)
	if err != nil {
		return plugindomain.NewFailure(plugindomain.KindMalformedPlugin, c.name, "load", "syntax error: %v", err)
	}

	c.bind(ctx)
	defer c.unbind()

	if err := c.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		if ctx.Err() != nil {
			return sandbox.TimeoutFailure(ctx, c.name, "load")
		}
		return plugindomain.NewFailure(plugindomain.KindMalformedPlugin, c.name, "load", "%s", errorMessage(err))
	}
	ret := c.L.Get(-1)
	c.L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return plugindomain.NewFailure(plugindomain.KindMalformedPlugin, c.name, "load", "plugin chunk returned %s, not a table", ret.Type())
	}
	c.exports = tbl
	for _, action := range plugindomain.AllActions() {
		if fn, ok := tbl.RawGetString(string(action)).(*lua.LFunction); ok {
			c.funcs[action] = fn
			c.caps = c.caps.With(action)
		}
	}
	return nil
}

func (c *luaContext) bind(ctx context.Context) {
	c.callCtx = ctx
	c.L.SetContext(ctx)
}

func (c *luaContext) unbind() {
	c.L.RemoveContext()
	c.callCtx = nil
}

func (c *luaContext) Capabilities() plugindomain.Capability { return c.caps }

// Call invokes the action synchronously; Lua plugins block on network calls
// instead of returning promises.
func (c *luaContext) Call(ctx context.Context, action plugindomain.Action, args []json.RawMessage) (result json.RawMessage, err error) {
	fn, ok := c.funcs[action]
	if !ok {
		return action.NoopResult(), nil
	}

	luaArgs := make([]lua.LValue, len(args))
	for i, raw := range args {
		v, err := decodeJSON(c.L, raw)
		if err != nil {
			return nil, plugindomain.NewFailure(plugindomain.KindInvalidRequest, c.name, string(action), "argument %d: %v", i, err)
		}
		luaArgs[i] = v
	}

	c.bind(ctx)
	defer c.unbind()
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, sandbox.ThrewFailure(c.name, string(action), fmt.Errorf("panic: %v", r))
		}
	}()

	top := c.L.GetTop()
	if err := c.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...); err != nil {
		c.L.SetTop(top)
		if ctx.Err() != nil {
			return nil, sandbox.TimeoutFailure(ctx, c.name, string(action))
		}
		return nil, sandbox.ThrewFailure(c.name, string(action), fmt.Errorf("%s", errorMessage(err)))
	}
	ret := c.L.Get(-1)
	c.L.SetTop(top)

	out, err := encodeJSON(ret)
	if err != nil {
		return nil, sandbox.ShapeFailure(c.name, string(action), "result is not serializable: %v", err)
	}
	return out, nil
}

func (c *luaContext) Close() {
	if !c.closed {
		c.closed = true
		c.L.Close()
	}
}

var _ sandbox.Instance = (*luaContext)(nil)

// errorMessage strips the traceback from a protected-call error.
func errorMessage(err error) string {
	if apiErr, ok := err.(*lua.ApiError); ok && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}
