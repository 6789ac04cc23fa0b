package jsengine

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
)

const bufferShim = `(function (native) {
  'use strict';
  function tag(u8) {
    Object.defineProperty(u8, '_isBuffer', { value: true });
    Object.defineProperty(u8, 'toString', { value: function (encoding) { return native.decode(this, encoding || 'utf8'); } });
    Object.defineProperty(u8, 'toJSON', { value: function () { return { type: 'Buffer', data: Array.prototype.slice.call(this) }; } });
    Object.defineProperty(u8, 'slice', { value: function (start, end) { return tag(Uint8Array.prototype.slice.call(this, start, end)); } });
    return u8;
  }
  var Buffer = {
    from: function (value, encoding) {
      if (typeof value === 'string') {
        return tag(new Uint8Array(native.encode(value, encoding || 'utf8')));
      }
      if (value instanceof ArrayBuffer) {
        return tag(new Uint8Array(value.slice(0)));
      }
      if (value && typeof value.length === 'number') {
        var out = new Uint8Array(value.length);
        for (var i = 0; i < value.length; i++) { out[i] = value[i] & 255; }
        return tag(out);
      }
      if (value && value.type === 'Buffer' && Array.isArray(value.data)) {
        return Buffer.from(value.data);
      }
      throw new TypeError('The first argument must be a string, array or buffer');
    },
    alloc: function (size, fill) {
      var out = new Uint8Array(size);
      if (typeof fill === 'number') { out.fill(fill & 255); }
      return tag(out);
    },
    isBuffer: function (value) { return !!(value && value._isBuffer === true); },
    byteLength: function (value, encoding) {
      return typeof value === 'string' ? native.encode(value, encoding || 'utf8').byteLength : value.length;
    },
    concat: function (list) {
      var total = 0, offset = 0;
      list.forEach(function (b) { total += b.length; });
      var out = new Uint8Array(total);
      list.forEach(function (b) { out.set(b, offset); offset += b.length; });
      return tag(out);
    }
  };
  return Buffer;
})`

func (c *jsContext) installBuffer() (goja.Value, error) {
	shim, err := c.vm.RunString(bufferShim)
	if err != nil {
		return nil, err
	}
	build, ok := goja.AssertFunction(shim)
	if !ok {
		return nil, fmt.Errorf("buffer shim is not callable")
	}

	native := c.vm.NewObject()
	if err := native.Set("encode", c.bufferEncode); err != nil {
		return nil, err
	}
	if err := native.Set("decode", c.bufferDecode); err != nil {
		return nil, err
	}
	return build(goja.Undefined(), native)
}

func (c *jsContext) bufferEncode(call goja.FunctionCall) goja.Value {
	data, err := encodeString(call.Argument(0).String(), call.Argument(1).String())
	if err != nil {
		panic(c.vm.NewTypeError(err.Error()))
	}
	return c.vm.ToValue(c.vm.NewArrayBuffer(data))
}

func (c *jsContext) bufferDecode(call goja.FunctionCall) goja.Value {
	data, err := c.bytesOf(call.Argument(0))
	if err != nil {
		panic(c.vm.NewTypeError(err.Error()))
	}
	s, err := decodeBytes(data, call.Argument(1).String())
	if err != nil {
		panic(c.vm.NewTypeError(err.Error()))
	}
	return c.vm.ToValue(s)
}

// bytesOf copies the bytes viewed by a typed array.
func (c *jsContext) bytesOf(v goja.Value) ([]byte, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("expected a Buffer")
	}
	raw := obj.Get("buffer")
	if raw == nil {
		return nil, fmt.Errorf("expected a Buffer")
	}
	ab, ok := raw.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, fmt.Errorf("expected a Buffer")
	}
	off := obj.Get("byteOffset").ToInteger()
	n := obj.Get("byteLength").ToInteger()
	all := ab.Bytes()
	if off < 0 || n < 0 || int(off+n) > len(all) {
		return nil, fmt.Errorf("buffer view out of range")
	}
	return append([]byte(nil), all[off:off+n]...), nil
}

func encodeString(s, encoding string) ([]byte, error) {
	switch normalizeEncoding(encoding) {
	case "utf8":
		return []byte(s), nil
	case "base64":
		s = strings.TrimRight(strings.TrimSpace(s), "=")
		return base64.RawStdEncoding.DecodeString(s)
	case "base64url":
		return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	case "hex":
		return hex.DecodeString(s)
	case "latin1":
		out := make([]byte, 0, len(s))
		for _, r := range s {
			out = append(out, byte(r))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown encoding: %s", encoding)
	}
}

func decodeBytes(data []byte, encoding string) (string, error) {
	switch normalizeEncoding(encoding) {
	case "utf8":
		if utf8.Valid(data) {
			return string(data), nil
		}
		return strings.ToValidUTF8(string(data), "�"), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(data), nil
	case "base64url":
		return base64.RawURLEncoding.EncodeToString(data), nil
	case "hex":
		return hex.EncodeToString(data), nil
	case "latin1":
		runes := make([]rune, len(data))
		for i, b := range data {
			runes[i] = rune(b)
		}
		return string(runes), nil
	default:
		return "", fmt.Errorf("unknown encoding: %s", encoding)
	}
}

func normalizeEncoding(encoding string) string {
	switch strings.ToLower(encoding) {
	case "", "undefined", "utf8", "utf-8":
		return "utf8"
	case "base64":
		return "base64"
	case "base64url":
		return "base64url"
	case "hex":
		return "hex"
	case "latin1", "binary", "ascii":
		return "latin1"
	default:
		return encoding
	}
}
