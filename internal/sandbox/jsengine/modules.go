package jsengine

import (
	"fmt"
	"html"
	"sort"

	"github.com/dop251/goja"

	"songhost.dev/cli/internal/sandbox"
)

type moduleBuilder func(c *jsContext) (goja.Value, error)

// allowedModules is the complete set reachable through require.
var allowedModules = map[string]moduleBuilder{
	"axios":     buildAxios,
	"crypto-js": buildCryptoJS,
	"he":        buildHe,
	"dayjs":     buildDayjs,
	"cheerio":   buildCheerio,
	"qs":        buildQs,
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

func (c *jsContext) require(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	if v, ok := c.modules[name]; ok {
		return v
	}
	build, ok := allowedModules[name]
	if !ok {
		panic(c.vm.NewTypeError(fmt.Sprintf("module %q is not available", name)))
	}
	v, err := build(c)
	if err != nil {
		panic(c.vm.NewGoError(fmt.Errorf("module %q: %w", name, err)))
	}
	c.modules[name] = v
	return v
}

func buildHe(c *jsContext) (goja.Value, error) {
	he := c.vm.NewObject()
	encode := func(call goja.FunctionCall) goja.Value {
		return c.vm.ToValue(html.EscapeString(call.Argument(0).String()))
	}
	decode := func(call goja.FunctionCall) goja.Value {
		return c.vm.ToValue(html.UnescapeString(call.Argument(0).String()))
	}
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"encode":   encode,
		"escape":   encode,
		"decode":   decode,
		"unescape": decode,
	} {
		if err := he.Set(name, fn); err != nil {
			return nil, err
		}
	}
	return he, nil
}

func buildQs(c *jsContext) (goja.Value, error) {
	qs := c.vm.NewObject()
	err := qs.Set("stringify", func(call goja.FunctionCall) goja.Value {
		var params map[string]interface{}
		if err := c.exportJSON(call.Argument(0), &params); err != nil {
			return c.vm.ToValue("")
		}
		return c.vm.ToValue(sandbox.StringifyQuery(params))
	})
	if err != nil {
		return nil, err
	}
	err = qs.Set("parse", func(call goja.FunctionCall) goja.Value {
		parsed, err := sandbox.ParseQuery(call.Argument(0).String())
		if err != nil {
			panic(c.vm.NewTypeError(err.Error()))
		}
		v, err := c.fromGo(parsed)
		if err != nil {
			panic(c.vm.NewGoError(err))
		}
		return v
	})
	if err != nil {
		return nil, err
	}
	return qs, nil
}
