package luaengine

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"hash"
	"html"
	"sort"

	lua "github.com/yuin/gopher-lua"

	httpdomain "songhost.dev/cli/internal/core/domain/http"
	"songhost.dev/cli/internal/sandbox"
)

// ErrNetworkUnavailable is raised when a context has no fetch proxy.
var ErrNetworkUnavailable = errors.New("network is not available in this sandbox")

type moduleLoader func(c *luaContext) lua.LValue

var allowedModules = map[string]moduleLoader{
	"http":   loadHTTP,
	"json":   loadJSON,
	"crypto": loadCrypto,
	"html":   loadHTML,
	"qs":     loadQS,
}

// AllowedModules lists the names require resolves.
func AllowedModules() []string {
	names := make([]string, 0, len(allowedModules))
	for name := range allowedModules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *luaContext) require(L *lua.LState) int {
	name := L.CheckString(1)
	if mod, ok := c.modules[name]; ok {
		L.Push(mod)
		return 1
	}
	load, ok := allowedModules[name]
	if !ok {
		L.RaiseError("module %q is not available", name)
		return 0
	}
	mod := load(c)
	c.modules[name] = mod
	L.Push(mod)
	return 1
}

func moduleTable(L *lua.LState, funcs map[string]lua.LGFunction) *lua.LTable {
	return L.SetFuncs(L.NewTable(), funcs)
}

func loadHTTP(c *luaContext) lua.LValue {
	return moduleTable(c.L, map[string]lua.LGFunction{
		"request": func(L *lua.LState) int {
			return c.fetch(L, requestFromTable(L.CheckTable(1)))
		},
		"get": func(L *lua.LState) int {
			req := requestFromTable(L.OptTable(2, L.NewTable()))
			req.Method, req.URL = "GET", L.CheckString(1)
			return c.fetch(L, req)
		},
		"post": func(L *lua.LState) int {
			req := requestFromTable(L.OptTable(3, L.NewTable()))
			req.Method, req.URL = "POST", L.CheckString(1)
			switch body := L.Get(2).(type) {
			case lua.LString:
				req.Body = string(body)
			case *lua.LTable:
				raw, err := encodeJSON(body)
				if err != nil {
					L.RaiseError("request body: %v", err)
				}
				req.Body = string(raw)
				if req.Headers == nil {
					req.Headers = map[string]string{}
				}
				if _, ok := req.Headers["Content-Type"]; !ok {
					req.Headers["Content-Type"] = "application/json;charset=utf-8"
				}
			}
			return c.fetch(L, req)
		},
	})
}

// fetch blocks on the proxy and pushes {status, statusText, headers, body, url, ok}.
func (c *luaContext) fetch(L *lua.LState, req httpdomain.FetchRequest) int {
	if err := req.Validate(); err != nil {
		L.RaiseError("%v", err)
	}
	if c.opts.Fetcher == nil {
		L.RaiseError("%v", ErrNetworkUnavailable)
	}
	ctx := c.callCtx
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := c.opts.Fetcher.Fetch(ctx, req)
	if err != nil {
		L.RaiseError("%v", err)
	}

	out := L.NewTable()
	out.RawSetString("status", lua.LNumber(resp.Status))
	out.RawSetString("statusText", lua.LString(resp.StatusText))
	out.RawSetString("headers", toLua(L, resp.Headers))
	out.RawSetString("body", lua.LString(resp.Body))
	out.RawSetString("url", lua.LString(resp.URL))
	out.RawSetString("ok", lua.LBool(resp.OK()))
	L.Push(out)
	return 1
}

func requestFromTable(tbl *lua.LTable) httpdomain.FetchRequest {
	return httpdomain.FetchRequest{
		Method:  lua.LVAsString(tbl.RawGetString("method")),
		URL:     lua.LVAsString(tbl.RawGetString("url")),
		Headers: stringMap(tbl.RawGetString("headers")),
		Params:  stringMap(tbl.RawGetString("params")),
		Body:    lua.LVAsString(tbl.RawGetString("body")),
	}
}

func stringMap(v lua.LValue) map[string]string {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	out := make(map[string]string)
	tbl.ForEach(func(k, val lua.LValue) {
		if val == lua.LNil {
			return
		}
		out[lua.LVAsString(k)] = lua.LVAsString(val)
	})
	return out
}

func loadJSON(c *luaContext) lua.LValue {
	return moduleTable(c.L, map[string]lua.LGFunction{
		"encode": func(L *lua.LState) int {
			raw, err := encodeJSON(L.CheckAny(1))
			if err != nil {
				L.RaiseError("json.encode: %v", err)
			}
			L.Push(lua.LString(raw))
			return 1
		},
		"decode": func(L *lua.LState) int {
			v, err := decodeJSON(L, json.RawMessage(L.CheckString(1)))
			if err != nil {
				L.RaiseError("json.decode: %v", err)
			}
			L.Push(v)
			return 1
		},
	})
}

func loadCrypto(c *luaContext) lua.LValue {
	digest := func(newHash func() hash.Hash) lua.LGFunction {
		return func(L *lua.LState) int {
			h := newHash()
			h.Write([]byte(L.CheckString(1)))
			L.Push(lua.LString(hex.EncodeToString(h.Sum(nil))))
			return 1
		}
	}
	mac := func(newHash func() hash.Hash) lua.LGFunction {
		return func(L *lua.LState) int {
			m := hmac.New(newHash, []byte(L.CheckString(2)))
			m.Write([]byte(L.CheckString(1)))
			L.Push(lua.LString(hex.EncodeToString(m.Sum(nil))))
			return 1
		}
	}
	return moduleTable(c.L, map[string]lua.LGFunction{
		"md5":         digest(md5.New),
		"sha1":        digest(sha1.New),
		"sha256":      digest(sha256.New),
		"sha512":      digest(sha512.New),
		"hmac_md5":    mac(md5.New),
		"hmac_sha1":   mac(sha1.New),
		"hmac_sha256": mac(sha256.New),
		"base64_encode": func(L *lua.LState) int {
			L.Push(lua.LString(base64.StdEncoding.EncodeToString([]byte(L.CheckString(1)))))
			return 1
		},
		"base64_decode": func(L *lua.LState) int {
			data, err := base64.StdEncoding.DecodeString(L.CheckString(1))
			if err != nil {
				L.RaiseError("base64_decode: %v", err)
			}
			L.Push(lua.LString(data))
			return 1
		},
		"hex_encode": func(L *lua.LState) int {
			L.Push(lua.LString(hex.EncodeToString([]byte(L.CheckString(1)))))
			return 1
		},
	})
}

func loadHTML(c *luaContext) lua.LValue {
	return moduleTable(c.L, map[string]lua.LGFunction{
		"encode": func(L *lua.LState) int {
			L.Push(lua.LString(html.EscapeString(L.CheckString(1))))
			return 1
		},
		"decode": func(L *lua.LState) int {
			L.Push(lua.LString(html.UnescapeString(L.CheckString(1))))
			return 1
		},
	})
}

func loadQS(c *luaContext) lua.LValue {
	return moduleTable(c.L, map[string]lua.LGFunction{
		"stringify": func(L *lua.LState) int {
			params, err := fromLua(L.CheckTable(1), make(map[*lua.LTable]bool))
			if err != nil {
				L.RaiseError("qs.stringify: %v", err)
			}
			m, _ := params.(map[string]interface{})
			L.Push(lua.LString(sandbox.StringifyQuery(m)))
			return 1
		},
		"parse": func(L *lua.LState) int {
			parsed, err := sandbox.ParseQuery(L.CheckString(1))
			if err != nil {
				L.RaiseError("qs.parse: %v", err)
			}
			tbl := L.NewTable()
			for k, v := range parsed {
				switch t := v.(type) {
				case string:
					tbl.RawSetString(k, lua.LString(t))
				case []string:
					list := L.CreateTable(len(t), 0)
					for _, s := range t {
						list.Append(lua.LString(s))
					}
					tbl.RawSetString(k, list)
				}
			}
			L.Push(tbl)
			return 1
		},
	})
}
