package jsengine

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

const selectionKey = "__selection"

func buildCheerio(c *jsContext) (goja.Value, error) {
	cheerio := c.vm.NewObject()
	if err := cheerio.Set("load", func(call goja.FunctionCall) goja.Value {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(call.Argument(0).String()))
		if err != nil {
			panic(c.vm.NewGoError(err))
		}
		return c.cheerioRoot(doc)
	}); err != nil {
		return nil, err
	}
	return cheerio, nil
}

// cheerioRoot returns the $ function bound to doc.
func (c *jsContext) cheerioRoot(doc *goquery.Document) goja.Value {
	dollar := c.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if sel := c.selectionOf(arg); sel != nil {
			return c.wrapSelection(sel)
		}
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			return c.wrapSelection(doc.Selection.Slice(0, 0))
		}
		scope := doc.Selection
		if ctxSel := c.selectionOf(call.Argument(1)); ctxSel != nil {
			scope = ctxSel
		}
		return c.wrapSelection(scope.Find(arg.String()))
	}).(*goja.Object)

	_ = dollar.Set("root", func(goja.FunctionCall) goja.Value { return c.wrapSelection(doc.Selection) })
	_ = dollar.Set("html", func(call goja.FunctionCall) goja.Value {
		sel := doc.Selection
		if s := c.selectionOf(call.Argument(0)); s != nil {
			sel = s
		}
		out, _ := goquery.OuterHtml(sel)
		return c.vm.ToValue(out)
	})
	_ = dollar.Set("text", func(goja.FunctionCall) goja.Value { return c.vm.ToValue(doc.Text()) })
	return dollar
}

func (c *jsContext) selectionOf(v goja.Value) *goquery.Selection {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	raw := obj.Get(selectionKey)
	if raw == nil {
		return nil
	}
	sel, _ := raw.Export().(*goquery.Selection)
	return sel
}

// wrapSelection exposes the cheerio selection API over a goquery selection.
func (c *jsContext) wrapSelection(sel *goquery.Selection) *goja.Object {
	vm := c.vm
	obj := vm.NewObject()
	_ = obj.DefineDataProperty(selectionKey, vm.ToValue(sel), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	_ = obj.Set("length", sel.Length())

	// element properties for single nodes handed to callbacks
	if sel.Length() > 0 {
		node := sel.Get(0)
		_ = obj.Set("tagName", strings.ToLower(node.Data))
		_ = obj.Set("name", strings.ToLower(node.Data))
		attribs := vm.NewObject()
		for _, a := range node.Attr {
			_ = attribs.Set(a.Key, a.Val)
		}
		_ = obj.Set("attribs", attribs)
	}

	each := func(fn goja.Callable, collect bool) []goja.Value {
		var out []goja.Value
		sel.EachWithBreak(func(i int, s *goquery.Selection) bool {
			el := c.wrapSelection(s)
			ret, err := fn(el, vm.ToValue(i), el)
			if err != nil {
				panic(err)
			}
			if collect {
				if ret != nil && !goja.IsUndefined(ret) && !goja.IsNull(ret) {
					if arr, ok := ret.(*goja.Object); ok && arr.ClassName() == "Array" {
						n := int(arr.Get("length").ToInteger())
						for j := 0; j < n; j++ {
							out = append(out, arr.Get(strconv.Itoa(j)))
						}
					} else {
						out = append(out, ret)
					}
				}
				return true
			}
			return ret == nil || !ret.StrictEquals(vm.ToValue(false))
		})
		return out
	}

	elements := func() []goja.Value {
		out := make([]goja.Value, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) { out = append(out, c.wrapSelection(s)) })
		return out
	}

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"find": func(call goja.FunctionCall) goja.Value {
			return c.wrapSelection(sel.Find(call.Argument(0).String()))
		},
		"children": func(call goja.FunctionCall) goja.Value {
			if arg := call.Argument(0); !goja.IsUndefined(arg) {
				return c.wrapSelection(sel.ChildrenFiltered(arg.String()))
			}
			return c.wrapSelection(sel.Children())
		},
		"parent": func(goja.FunctionCall) goja.Value { return c.wrapSelection(sel.Parent()) },
		"next":   func(goja.FunctionCall) goja.Value { return c.wrapSelection(sel.Next()) },
		"prev":   func(goja.FunctionCall) goja.Value { return c.wrapSelection(sel.Prev()) },
		"first":  func(goja.FunctionCall) goja.Value { return c.wrapSelection(sel.First()) },
		"last":   func(goja.FunctionCall) goja.Value { return c.wrapSelection(sel.Last()) },
		"eq": func(call goja.FunctionCall) goja.Value {
			return c.wrapSelection(sel.Eq(int(call.Argument(0).ToInteger())))
		},
		"filter": func(call goja.FunctionCall) goja.Value {
			if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
				return c.wrapSelection(sel.FilterFunction(func(i int, s *goquery.Selection) bool {
					el := c.wrapSelection(s)
					ret, err := fn(el, vm.ToValue(i), el)
					if err != nil {
						panic(err)
					}
					return ret.ToBoolean()
				}))
			}
			return c.wrapSelection(sel.Filter(call.Argument(0).String()))
		},
		"text": func(goja.FunctionCall) goja.Value { return vm.ToValue(sel.Text()) },
		"html": func(goja.FunctionCall) goja.Value {
			if sel.Length() == 0 {
				return goja.Null()
			}
			out, err := sel.Html()
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return vm.ToValue(out)
		},
		"attr": func(call goja.FunctionCall) goja.Value {
			if goja.IsUndefined(call.Argument(0)) {
				attrs := vm.NewObject()
				if sel.Length() > 0 {
					for _, a := range sel.Get(0).Attr {
						_ = attrs.Set(a.Key, a.Val)
					}
				}
				return attrs
			}
			if v, ok := sel.Attr(call.Argument(0).String()); ok {
				return vm.ToValue(v)
			}
			return goja.Undefined()
		},
		"data": func(call goja.FunctionCall) goja.Value {
			if v, ok := sel.Attr("data-" + call.Argument(0).String()); ok {
				return vm.ToValue(v)
			}
			return goja.Undefined()
		},
		"val": func(goja.FunctionCall) goja.Value {
			if v, ok := sel.Attr("value"); ok {
				return vm.ToValue(v)
			}
			return goja.Undefined()
		},
		"hasClass": func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(sel.HasClass(call.Argument(0).String()))
		},
		"is": func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(sel.Is(call.Argument(0).String()))
		},
		"each": func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("each callback must be a function"))
			}
			each(fn, false)
			return obj
		},
		"map": func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("map callback must be a function"))
			}
			values := each(fn, true)
			mapped := vm.NewObject()
			_ = mapped.Set("length", len(values))
			toArray := func(goja.FunctionCall) goja.Value { return vm.NewArray(toInterfaces(values)...) }
			_ = mapped.Set("get", toArray)
			_ = mapped.Set("toArray", toArray)
			return mapped
		},
		"toArray": func(goja.FunctionCall) goja.Value { return vm.NewArray(toInterfaces(elements())...) },
		"get": func(call goja.FunctionCall) goja.Value {
			all := elements()
			if goja.IsUndefined(call.Argument(0)) {
				return vm.NewArray(toInterfaces(all)...)
			}
			i := int(call.Argument(0).ToInteger())
			if i < 0 {
				i += len(all)
			}
			if i < 0 || i >= len(all) {
				return goja.Undefined()
			}
			return all[i]
		},
	}
	for name, fn := range methods {
		_ = obj.Set(name, fn)
	}
	return obj
}

func toInterfaces(values []goja.Value) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
