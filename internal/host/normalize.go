package host

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	"songhost.dev/cli/internal/sandbox"
)

// Normalize validates a settled plugin result against the action's shape
// and rewrites it into the canonical form.
func Normalize(plugin string, action plugindomain.Action, raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("null")
	}
	if !gjson.ValidBytes(raw) {
		return nil, sandbox.ShapeFailure(plugin, string(action), "result is not valid JSON")
	}
	res := gjson.ParseBytes(raw)

	switch action.Shape() {
	case plugindomain.ShapeList:
		return normalizeList(plugin, action, raw, res)
	case plugindomain.ShapeArray:
		switch {
		case res.Type == gjson.Null:
			return json.RawMessage("[]"), nil
		case res.IsArray():
			return raw, nil
		}
		return nil, sandbox.ShapeFailure(plugin, string(action), "expected an array, got %s", describeType(res))
	default:
		if res.Type == gjson.Null {
			return json.RawMessage("null"), nil
		}
		if !res.IsObject() {
			return nil, sandbox.ShapeFailure(plugin, string(action), "expected an object or null, got %s", describeType(res))
		}
		if action == plugindomain.ActionGetMediaSource && res.Get("url").Type != gjson.String {
			return nil, sandbox.ShapeFailure(plugin, string(action), "media source has no url")
		}
		return raw, nil
	}
}

// normalizeList produces {isEnd, data, ...extra}. isEnd defaults to true and a
// non-array data becomes [].
func normalizeList(plugin string, action plugindomain.Action, raw json.RawMessage, res gjson.Result) (json.RawMessage, error) {
	var out []byte
	var data gjson.Result

	switch {
	case res.Type == gjson.Null:
		return action.NoopResult(), nil
	case res.IsArray():
		out = []byte(`{}`)
		data = res
	case res.IsObject():
		out = append([]byte(nil), raw...)
		data = res.Get("data")
		if !data.Exists() && (action == plugindomain.ActionGetAlbumInfo || action == plugindomain.ActionGetMusicSheetInfo) {
			data = res.Get("musicList")
		}
	default:
		return nil, sandbox.ShapeFailure(plugin, string(action), "expected an object, got %s", describeType(res))
	}

	isEnd := true
	if v := res.Get("isEnd"); v.Type == gjson.True || v.Type == gjson.False {
		isEnd = v.Bool()
	}

	items := []byte("[]")
	if data.IsArray() {
		items = []byte(data.Raw)
		if action == plugindomain.ActionSearch {
			items = tagPlatform(data, plugin)
		}
	}

	var err error
	if out, err = sjson.SetBytes(out, "isEnd", isEnd); err != nil {
		return nil, sandbox.ShapeFailure(plugin, string(action), "%v", err)
	}
	if out, err = sjson.SetRawBytes(out, "data", items); err != nil {
		return nil, sandbox.ShapeFailure(plugin, string(action), "%v", err)
	}
	return out, nil
}

// tagPlatform sets platform on every object item.
func tagPlatform(data gjson.Result, plugin string) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	i := 0
	data.ForEach(func(_, item gjson.Result) bool {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		if item.IsObject() {
			if tagged, err := sjson.SetBytes([]byte(item.Raw), "platform", plugin); err == nil {
				buf.Write(tagged)
				return true
			}
		}
		buf.WriteString(item.Raw)
		return true
	})
	buf.WriteByte(']')
	return buf.Bytes()
}

func describeType(res gjson.Result) string {
	switch {
	case res.IsArray():
		return "array"
	case res.IsObject():
		return "object"
	case res.Type == gjson.String:
		return "string"
	case res.Type == gjson.Number:
		return "number"
	case res.Type == gjson.True, res.Type == gjson.False:
		return "boolean"
	default:
		return res.Type.String()
	}
}
