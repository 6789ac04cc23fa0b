package jsengine

import (
	"context"
	"time"

	"github.com/dop251/goja"
)

// begin opens a new generation; jobs posted by earlier generations are
// dropped when they surface.
func (c *jsContext) begin(ctx context.Context) {
	c.gen++
	c.callCtx = ctx
}

// end cancels the generation's timers. Timers never outlive the action
// that scheduled them.
func (c *jsContext) end() {
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.callCtx = nil
	for {
		select {
		case <-c.jobs:
		default:
			return
		}
	}
}

// post hands fn to the goroutine driving the context.
func (c *jsContext) post(gen uint64, fn func() error) {
	select {
	case c.jobs <- job{gen: gen, run: fn}:
	case <-c.closed:
	}
}

func (c *jsContext) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(c.vm.NewTypeError("setTimeout callback must be a function"))
	}
	if len(c.timers) >= c.opts.MaxTimers {
		panic(c.vm.NewTypeError("too many pending timers"))
	}

	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	if delay > c.opts.MaxTimerDelay {
		delay = c.opts.MaxTimerDelay
	}
	var extra []goja.Value
	if len(call.Arguments) > 2 {
		extra = append(extra, call.Arguments[2:]...)
	}

	c.nextTimerID++
	id := c.nextTimerID
	gen := c.gen
	c.timers[id] = time.AfterFunc(delay, func() {
		c.post(gen, func() error {
			if _, live := c.timers[id]; !live {
				return nil
			}
			delete(c.timers, id)
			_, err := fn(goja.Undefined(), extra...)
			return err
		})
	})
	return c.vm.ToValue(id)
}

func (c *jsContext) clearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	return goja.Undefined()
}

// newDeferred returns a pending promise with its settle functions.
func (c *jsContext) newDeferred() (goja.Value, goja.Callable, goja.Callable) {
	d, err := c.deferred(goja.Undefined())
	if err != nil {
		panic(err)
	}
	obj := d.ToObject(c.vm)
	resolve, _ := goja.AssertFunction(obj.Get("resolve"))
	reject, _ := goja.AssertFunction(obj.Get("reject"))
	return obj.Get("promise"), resolve, reject
}

// settleLater runs work off the loop and settles the promise with its
// outcome on the loop.
func (c *jsContext) settleLater(work func(ctx context.Context) (interface{}, error)) goja.Value {
	promise, resolve, reject := c.newDeferred()
	gen, ctx := c.gen, c.callCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		value, err := work(ctx)
		c.post(gen, func() error {
			if err != nil {
				_, rerr := reject(goja.Undefined(), c.vm.NewGoError(err))
				return rerr
			}
			v, cerr := c.fromGo(value)
			if cerr != nil {
				_, rerr := reject(goja.Undefined(), c.vm.NewGoError(cerr))
				return rerr
			}
			_, rerr := resolve(goja.Undefined(), v)
			return rerr
		})
	}()
	return promise
}
