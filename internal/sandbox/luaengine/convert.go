package luaengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"
)

var errCycle = errors.New("table contains a cycle")

// decodeJSON turns a JSON document into plain Lua values.
func decodeJSON(L *lua.LState, raw json.RawMessage) (lua.LValue, error) {
	if len(raw) == 0 {
		return lua.LNil, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return toLua(L, v), nil
}

func toLua(L *lua.LState, v interface{}) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case float64:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case string:
		return lua.LString(t)
	case []interface{}:
		tbl := L.CreateTable(len(t), 0)
		for _, item := range t {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case map[string]interface{}:
		tbl := L.CreateTable(0, len(t))
		for k, item := range t {
			tbl.RawSetString(k, toLua(L, item))
		}
		return tbl
	case map[string]string:
		tbl := L.CreateTable(0, len(t))
		for k, item := range t {
			tbl.RawSetString(k, lua.LString(item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(t))
	}
}

// encodeJSON serializes a Lua value. Sequences become arrays and an empty
// table becomes an empty array.
func encodeJSON(v lua.LValue) (json.RawMessage, error) {
	goValue, err := fromLua(v, make(map[*lua.LTable]bool))
	if err != nil {
		return nil, err
	}
	return json.Marshal(goValue)
}

func fromLua(v lua.LValue, visiting map[*lua.LTable]bool) (interface{}, error) {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(t), nil
	case lua.LNumber:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("number %v has no JSON form", f)
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case lua.LString:
		return string(t), nil
	case *lua.LTable:
		if visiting[t] {
			return nil, errCycle
		}
		visiting[t] = true
		defer delete(visiting, t)
		return tableFromLua(t, visiting)
	default:
		return nil, fmt.Errorf("%s values have no JSON form", v.Type())
	}
}

func tableFromLua(t *lua.LTable, visiting map[*lua.LTable]bool) (interface{}, error) {
	n := t.Len()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if count == n {
		arr := make([]interface{}, n)
		for i := 1; i <= n; i++ {
			item, err := fromLua(t.RawGetInt(i), visiting)
			if err != nil {
				return nil, err
			}
			arr[i-1] = item
		}
		return arr, nil
	}

	obj := make(map[string]interface{}, count)
	var firstErr error
	t.ForEach(func(k, val lua.LValue) {
		if firstErr != nil {
			return
		}
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = lua.LVAsString(kv)
		default:
			firstErr = fmt.Errorf("%s keys have no JSON form", k.Type())
			return
		}
		item, err := fromLua(val, visiting)
		if err != nil {
			firstErr = err
			return
		}
		obj[key] = item
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return obj, nil
}
