package jsengine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/ncruces/go-strftime"
)

var dayjsLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	time.RFC1123Z,
	time.RFC1123,
}

// dayjsTokens maps format tokens to strftime conversions. Tokens without a
// padded strftime equivalent are rendered in Go.
var dayjsTokens = []struct {
	token  string
	layout string
	render func(time.Time) string
}{
	{token: "YYYY", layout: "%Y"},
	{token: "YY", layout: "%y"},
	{token: "MMMM", layout: "%B"},
	{token: "MMM", layout: "%b"},
	{token: "MM", layout: "%m"},
	{token: "M", render: func(t time.Time) string { return fmt.Sprint(int(t.Month())) }},
	{token: "DD", layout: "%d"},
	{token: "D", render: func(t time.Time) string { return fmt.Sprint(t.Day()) }},
	{token: "dddd", layout: "%A"},
	{token: "ddd", layout: "%a"},
	{token: "d", render: func(t time.Time) string { return fmt.Sprint(int(t.Weekday())) }},
	{token: "HH", layout: "%H"},
	{token: "H", render: func(t time.Time) string { return fmt.Sprint(t.Hour()) }},
	{token: "hh", layout: "%I"},
	{token: "h", render: func(t time.Time) string { return fmt.Sprint((t.Hour()+11)%12 + 1) }},
	{token: "mm", layout: "%M"},
	{token: "m", render: func(t time.Time) string { return fmt.Sprint(t.Minute()) }},
	{token: "ss", layout: "%S"},
	{token: "s", render: func(t time.Time) string { return fmt.Sprint(t.Second()) }},
	{token: "SSS", render: func(t time.Time) string { return fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond)) }},
	{token: "A", layout: "%p"},
	{token: "a", render: func(t time.Time) string { return strings.ToLower(strftime.Format("%p", t)) }},
	{token: "ZZ", layout: "%z"},
	{token: "Z", render: func(t time.Time) string { return t.Format("-07:00") }},
	{token: "X", render: func(t time.Time) string { return fmt.Sprint(t.Unix()) }},
	{token: "x", render: func(t time.Time) string { return fmt.Sprint(t.UnixMilli()) }},
}

// formatDayjs renders a dayjs format string. Text in square brackets is
// copied verbatim.
func formatDayjs(layout string, t time.Time) string {
	var b strings.Builder
	for i := 0; i < len(layout); {
		if layout[i] == '[' {
			if end := strings.IndexByte(layout[i:], ']'); end > 0 {
				b.WriteString(layout[i+1 : i+end])
				i += end + 1
				continue
			}
		}
		matched := false
		for _, tok := range dayjsTokens {
			if strings.HasPrefix(layout[i:], tok.token) {
				if tok.render != nil {
					b.WriteString(tok.render(t))
				} else {
					b.WriteString(strftime.Format(tok.layout, t))
				}
				i += len(tok.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(layout[i])
			i++
		}
	}
	return b.String()
}

func parseDayjs(v goja.Value) (time.Time, bool) {
	if v == nil || goja.IsUndefined(v) {
		return time.Now(), true
	}
	if goja.IsNull(v) {
		return time.Time{}, false
	}
	switch x := v.Export().(type) {
	case int64:
		return time.UnixMilli(x), true
	case float64:
		if math.IsNaN(x) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(x)), true
	case time.Time:
		return x, true
	case string:
		for _, layout := range dayjsLayouts {
			if t, err := time.ParseInLocation(layout, strings.TrimSpace(x), time.Local); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	if obj, ok := v.(*goja.Object); ok {
		if ms := obj.Get("valueOf"); ms != nil {
			if fn, ok := goja.AssertFunction(ms); ok {
				if out, err := fn(obj); err == nil {
					return time.UnixMilli(out.ToInteger()), true
				}
			}
		}
	}
	return time.Time{}, false
}

func addDayjs(t time.Time, n int64, unit string) time.Time {
	if unit == "ms" {
		return t.Add(time.Duration(n) * time.Millisecond)
	}
	switch strings.TrimSuffix(strings.ToLower(unit), "s") {
	case "y", "year":
		return t.AddDate(int(n), 0, 0)
	case "m", "month":
		if unit == "m" {
			return t.Add(time.Duration(n) * time.Minute)
		}
		return t.AddDate(0, int(n), 0)
	case "w", "week":
		return t.AddDate(0, 0, 7*int(n))
	case "d", "day":
		return t.AddDate(0, 0, int(n))
	case "h", "hour":
		return t.Add(time.Duration(n) * time.Hour)
	case "minute":
		return t.Add(time.Duration(n) * time.Minute)
	case "", "second":
		return t.Add(time.Duration(n) * time.Second)
	case "millisecond":
		return t.Add(time.Duration(n) * time.Millisecond)
	default:
		return t
	}
}

func buildDayjs(c *jsContext) (goja.Value, error) {
	var wrap func(t time.Time, valid bool) *goja.Object
	wrap = func(t time.Time, valid bool) *goja.Object {
		obj := c.vm.NewObject()
		methods := map[string]func(goja.FunctionCall) goja.Value{
			"format": func(call goja.FunctionCall) goja.Value {
				if !valid {
					return c.vm.ToValue("Invalid Date")
				}
				layout := "YYYY-MM-DDTHH:mm:ssZ"
				if arg := call.Argument(0); !goja.IsUndefined(arg) {
					layout = arg.String()
				}
				return c.vm.ToValue(formatDayjs(layout, t))
			},
			"unix":        func(goja.FunctionCall) goja.Value { return c.vm.ToValue(t.Unix()) },
			"valueOf":     func(goja.FunctionCall) goja.Value { return c.vm.ToValue(t.UnixMilli()) },
			"toISOString": func(goja.FunctionCall) goja.Value { return c.vm.ToValue(t.UTC().Format("2006-01-02T15:04:05.000Z")) },
			"isValid":     func(goja.FunctionCall) goja.Value { return c.vm.ToValue(valid) },
			"year":        func(goja.FunctionCall) goja.Value { return c.vm.ToValue(t.Year()) },
			"month":       func(goja.FunctionCall) goja.Value { return c.vm.ToValue(int(t.Month()) - 1) },
			"date":        func(goja.FunctionCall) goja.Value { return c.vm.ToValue(t.Day()) },
			"day":         func(goja.FunctionCall) goja.Value { return c.vm.ToValue(int(t.Weekday())) },
			"hour":        func(goja.FunctionCall) goja.Value { return c.vm.ToValue(t.Hour()) },
			"minute":      func(goja.FunctionCall) goja.Value { return c.vm.ToValue(t.Minute()) },
			"second":      func(goja.FunctionCall) goja.Value { return c.vm.ToValue(t.Second()) },
			"add": func(call goja.FunctionCall) goja.Value {
				return wrap(addDayjs(t, call.Argument(0).ToInteger(), call.Argument(1).String()), valid)
			},
			"subtract": func(call goja.FunctionCall) goja.Value {
				return wrap(addDayjs(t, -call.Argument(0).ToInteger(), call.Argument(1).String()), valid)
			},
			"diff": func(call goja.FunctionCall) goja.Value {
				other, _ := parseDayjs(call.Argument(0))
				d := t.Sub(other)
				switch strings.TrimSuffix(call.Argument(1).String(), "s") {
				case "second":
					return c.vm.ToValue(int64(d / time.Second))
				case "minute":
					return c.vm.ToValue(int64(d / time.Minute))
				case "hour":
					return c.vm.ToValue(int64(d / time.Hour))
				case "day":
					return c.vm.ToValue(int64(d / (24 * time.Hour)))
				default:
					return c.vm.ToValue(d.Milliseconds())
				}
			},
			"toString": func(goja.FunctionCall) goja.Value { return c.vm.ToValue(t.UTC().Format(time.RFC1123)) },
		}
		for name, fn := range methods {
			_ = obj.Set(name, fn)
		}
		return obj
	}

	dayjs := c.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		t, ok := parseDayjs(call.Argument(0))
		return wrap(t, ok)
	}).(*goja.Object)
	if err := dayjs.Set("unix", func(call goja.FunctionCall) goja.Value {
		return wrap(time.Unix(call.Argument(0).ToInteger(), 0), true)
	}); err != nil {
		return nil, err
	}
	if err := dayjs.Set("extend", func(goja.FunctionCall) goja.Value { return dayjs }); err != nil {
		return nil, err
	}
	return dayjs, nil
}
