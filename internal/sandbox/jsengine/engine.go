// Package jsengine evaluates JavaScript music-source plugins with goja.
package jsengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	"songhost.dev/cli/internal/sandbox"
)

// Engine creates goja-backed plugin contexts.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Runtime() plugindomain.Runtime { return plugindomain.RuntimeJS }

// Load evaluates source as a CommonJS module and returns its export.
func (e *Engine) Load(ctx context.Context, name, source string, opts sandbox.Options) (sandbox.Instance, error) {
	c := newContext(name, opts.WithDefaults())
	if err := c.bootstrap(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to prepare context: %w", err)
	}
	if err := c.evaluate(ctx, source); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

var _ sandbox.Engine = (*Engine)(nil)

const deferredSource = `(function () {
  var d = {};
  d.promise = new Promise(function (resolve, reject) { d.resolve = resolve; d.reject = reject; });
  return d;
})`

type job struct {
	gen uint64
	run func() error
}

// jsContext is one plugin's isolated runtime. Every field except jobs and
// closed is confined to the goroutine currently driving the context.
type jsContext struct {
	name string
	opts sandbox.Options
	vm   *goja.Runtime

	parse     goja.Callable
	stringify goja.Callable
	deferred  goja.Callable

	exports *goja.Object
	funcs   map[plugindomain.Action]goja.Callable
	caps    plugindomain.Capability
	modules map[string]goja.Value

	gen         uint64
	callCtx     context.Context
	timers      map[int64]*time.Timer
	nextTimerID int64

	jobs      chan job
	closed    chan struct{}
	closeOnce sync.Once
}

func newContext(name string, opts sandbox.Options) *jsContext {
	return &jsContext{
		name:    name,
		opts:    opts,
		vm:      goja.New(),
		funcs:   make(map[plugindomain.Action]goja.Callable),
		modules: make(map[string]goja.Value),
		timers:  make(map[int64]*time.Timer),
		jobs:    make(chan job, 256),
		closed:  make(chan struct{}),
	}
}

// bootstrap installs the restricted global environment. JSON helpers are
// captured first so plugin code cannot tamper with result encoding.
func (c *jsContext) bootstrap() error {
	vm := c.vm

	jsonObj := vm.Get("JSON").ToObject(vm)
	c.parse, _ = goja.AssertFunction(jsonObj.Get("parse"))
	c.stringify, _ = goja.AssertFunction(jsonObj.Get("stringify"))

	deferred, err := vm.RunString(deferredSource)
	if err != nil {
		return err
	}
	c.deferred, _ = goja.AssertFunction(deferred)

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug", "trace"} {
		if err := console.Set(level, c.consoleFunc(level)); err != nil {
			return err
		}
	}

	buffer, err := c.installBuffer()
	if err != nil {
		return fmt.Errorf("buffer: %w", err)
	}

	globals := map[string]interface{}{
		"console":      console,
		"Buffer":       buffer,
		"setTimeout":   c.setTimeout,
		"clearTimeout": c.clearTimeout,
		"require":      c.require,
	}
	for name, value := range globals {
		if err := vm.Set(name, value); err != nil {
			return fmt.Errorf("global %s: %w", name, err)
		}
	}
	return vm.GlobalObject().Delete("eval")
}

func (c *jsContext) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		c.opts.Console.Print(c.name, level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (c *jsContext) evaluate(ctx context.Context, source string) error {
	c.begin(ctx)
	defer c.end()
	stop := c.watch(ctx)
	defer stop()

	prg, err := goja.Compile(c.name+".js", "(function (module, exports) {\n"+source+"\n})", false)
	if err != nil {
		return plugindomain.NewFailure(plugindomain.KindMalformedPlugin, c.name, "load", "syntax error: %v", err)
	}
	wrapper, err := c.vm.RunProgram(prg)
	if err != nil {
		return c.loadFailure(ctx, err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return plugindomain.NewFailure(plugindomain.KindMalformedPlugin, c.name, "load", "module wrapper is not callable")
	}

	module := c.vm.NewObject()
	exports := c.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return err
	}
	if _, err := fn(goja.Undefined(), module, exports); err != nil {
		return c.loadFailure(ctx, err)
	}

	exported, ok := module.Get("exports").(*goja.Object)
	if !ok || exported.ClassName() == "Array" || exported.ClassName() == "Function" {
		return plugindomain.NewFailure(plugindomain.KindMalformedPlugin, c.name, "load", "plugin export is not an object")
	}
	c.exports = exported
	return c.probe()
}

// loadFailure keeps timeouts distinct; anything else raised while
// evaluating makes the plugin malformed.
func (c *jsContext) loadFailure(ctx context.Context, err error) *plugindomain.Failure {
	f := c.classify(ctx, "load", err)
	if f.Kind == plugindomain.KindPluginThrew {
		f.Kind = plugindomain.KindMalformedPlugin
	}
	return f
}

// probe resolves the capability set once from the export's function members.
func (c *jsContext) probe() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = plugindomain.NewFailure(plugindomain.KindMalformedPlugin, c.name, "load", "reading plugin export: %v", r)
		}
	}()
	for _, action := range plugindomain.AllActions() {
		if fn, ok := goja.AssertFunction(c.exports.Get(string(action))); ok {
			c.funcs[action] = fn
			c.caps = c.caps.With(action)
		}
	}
	return nil
}

func (c *jsContext) Capabilities() plugindomain.Capability { return c.caps }

// Call runs action to completion, draining the context's event loop until
// the returned promise settles or ctx ends.
func (c *jsContext) Call(ctx context.Context, action plugindomain.Action, args []json.RawMessage) (result json.RawMessage, err error) {
	fn, ok := c.funcs[action]
	if !ok {
		return action.NoopResult(), nil
	}

	c.begin(ctx)
	defer c.end()
	stop := c.watch(ctx)
	defer stop()
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, sandbox.ThrewFailure(c.name, string(action), fmt.Errorf("panic: %v", r))
		}
	}()

	jsArgs := make([]goja.Value, len(args))
	for i, raw := range args {
		v, err := c.fromJSON(raw)
		if err != nil {
			return nil, plugindomain.NewFailure(plugindomain.KindInvalidRequest, c.name, string(action), "argument %d: %v", i, err)
		}
		jsArgs[i] = v
	}

	ret, err := fn(c.exports, jsArgs...)
	if err != nil {
		return nil, c.classify(ctx, string(action), err)
	}
	settled, err := c.await(ctx, string(action), ret)
	if err != nil {
		return nil, err
	}
	return c.toJSON(ctx, string(action), settled)
}

func (c *jsContext) await(ctx context.Context, action string, v goja.Value) (goja.Value, error) {
	if v == nil {
		return goja.Undefined(), nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	for {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return p.Result(), nil
		case goja.PromiseStateRejected:
			return nil, sandbox.ThrewFailure(c.name, action, errors.New(describe(p.Result())))
		}

		select {
		case j := <-c.jobs:
			if j.gen != c.gen {
				continue
			}
			if err := j.run(); err != nil {
				return nil, c.classify(ctx, action, err)
			}
		case <-ctx.Done():
			return nil, sandbox.TimeoutFailure(ctx, c.name, action)
		}
	}
}

func (c *jsContext) toJSON(ctx context.Context, action string, v goja.Value) (json.RawMessage, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return json.RawMessage("null"), nil
	}
	out, err := c.stringify(goja.Undefined(), v)
	if err != nil {
		if ctx.Err() != nil {
			return nil, sandbox.TimeoutFailure(ctx, c.name, action)
		}
		return nil, sandbox.ShapeFailure(c.name, action, "result is not serializable: %s", describeError(err))
	}
	if goja.IsUndefined(out) {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(out.String()), nil
}

func (c *jsContext) fromJSON(raw json.RawMessage) (goja.Value, error) {
	if len(raw) == 0 {
		return goja.Undefined(), nil
	}
	v, err := c.parse(goja.Undefined(), c.vm.ToValue(string(raw)))
	if err != nil {
		return nil, errors.New(describeError(err))
	}
	return v, nil
}

// fromGo converts a Go value into plain JS data via its JSON encoding.
func (c *jsContext) fromGo(v interface{}) (goja.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return c.fromJSON(raw)
}

// exportJSON decodes a JS value into out through its JSON encoding.
func (c *jsContext) exportJSON(v goja.Value, out interface{}) error {
	s, err := c.stringify(goja.Undefined(), v)
	if err != nil {
		return errors.New(describeError(err))
	}
	if goja.IsUndefined(s) {
		return fmt.Errorf("value is not serializable")
	}
	return json.Unmarshal([]byte(s.String()), out)
}

// watch interrupts the VM when ctx ends. The returned stop function waits
// for a racing interrupt before clearing it so the next call starts clean.
func (c *jsContext) watch(ctx context.Context) func() {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		c.vm.Interrupt(ctx.Err())
		close(fired)
	})
	return func() {
		if !stop() {
			<-fired
		}
		c.vm.ClearInterrupt()
	}
}

func (c *jsContext) classify(ctx context.Context, action string, err error) *plugindomain.Failure {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || ctx.Err() != nil {
		return sandbox.TimeoutFailure(ctx, c.name, action)
	}
	var failure *plugindomain.Failure
	if errors.As(err, &failure) {
		return failure
	}
	return sandbox.ThrewFailure(c.name, action, errors.New(describeError(err)))
}

// Close stops pending timers and releases the runtime.
func (c *jsContext) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		for id, t := range c.timers {
			t.Stop()
			delete(c.timers, id)
		}
		c.vm.Interrupt("context closed")
	})
}

var _ sandbox.Instance = (*jsContext)(nil)

func describeError(err error) string {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return describe(exc.Value())
	}
	return err.Error()
}

func describe(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return v.String()
}
