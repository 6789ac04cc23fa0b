package jsengine

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/dop251/goja"
)

const wordArrayBytes = "__bytes"

// buildCryptoJS exposes the subset of crypto-js that music-source plugins
// rely on: digests, HMACs, encoders and AES with explicit key and iv.
func buildCryptoJS(c *jsContext) (goja.Value, error) {
	cj := c.vm.NewObject()

	digests := map[string]func() hash.Hash{
		"MD5":    md5.New,
		"SHA1":   sha1.New,
		"SHA224": sha256.New224,
		"SHA256": sha256.New,
		"SHA384": sha512.New384,
		"SHA512": sha512.New,
	}
	for name, newHash := range digests {
		newHash := newHash
		if err := cj.Set(name, func(call goja.FunctionCall) goja.Value {
			h := newHash()
			h.Write(c.messageBytes(call.Argument(0)))
			return c.wordArray(h.Sum(nil))
		}); err != nil {
			return nil, err
		}
		if err := cj.Set("Hmac"+name, func(call goja.FunctionCall) goja.Value {
			mac := hmac.New(newHash, c.messageBytes(call.Argument(1)))
			mac.Write(c.messageBytes(call.Argument(0)))
			return c.wordArray(mac.Sum(nil))
		}); err != nil {
			return nil, err
		}
	}

	enc := c.vm.NewObject()
	encoders := map[string]struct {
		stringify func([]byte) string
		parse     func(string) ([]byte, error)
	}{
		"Hex":    {hex.EncodeToString, hex.DecodeString},
		"Base64": {base64.StdEncoding.EncodeToString, base64.StdEncoding.DecodeString},
		"Utf8":   {func(b []byte) string { return string(b) }, func(s string) ([]byte, error) { return []byte(s), nil }},
		"Latin1": {func(b []byte) string { s, _ := decodeBytes(b, "latin1"); return s }, func(s string) ([]byte, error) { return encodeString(s, "latin1") }},
	}
	for name, codec := range encoders {
		codec := codec
		encoder := c.vm.NewObject()
		_ = encoder.Set("stringify", func(call goja.FunctionCall) goja.Value {
			return c.vm.ToValue(codec.stringify(c.messageBytes(call.Argument(0))))
		})
		_ = encoder.Set("parse", func(call goja.FunctionCall) goja.Value {
			data, err := codec.parse(call.Argument(0).String())
			if err != nil {
				panic(c.vm.NewTypeError(err.Error()))
			}
			return c.wordArray(data)
		})
		if err := enc.Set(name, encoder); err != nil {
			return nil, err
		}
	}
	if err := cj.Set("enc", enc); err != nil {
		return nil, err
	}

	mode := c.vm.NewObject()
	_ = mode.Set("CBC", "CBC")
	_ = mode.Set("ECB", "ECB")
	pad := c.vm.NewObject()
	_ = pad.Set("Pkcs7", "Pkcs7")
	_ = pad.Set("NoPadding", "NoPadding")
	if err := cj.Set("mode", mode); err != nil {
		return nil, err
	}
	if err := cj.Set("pad", pad); err != nil {
		return nil, err
	}

	aesObj := c.vm.NewObject()
	_ = aesObj.Set("encrypt", func(call goja.FunctionCall) goja.Value {
		cfg := c.cipherConfig(call.Argument(2))
		out, err := aesCrypt(true, c.messageBytes(call.Argument(0)), c.keyBytes(call.Argument(1)), cfg)
		if err != nil {
			panic(c.vm.NewTypeError(err.Error()))
		}
		return c.cipherParams(out)
	})
	_ = aesObj.Set("decrypt", func(call goja.FunctionCall) goja.Value {
		cfg := c.cipherConfig(call.Argument(2))
		data := c.ciphertextBytes(call.Argument(0))
		out, err := aesCrypt(false, data, c.keyBytes(call.Argument(1)), cfg)
		if err != nil {
			panic(c.vm.NewTypeError(err.Error()))
		}
		return c.wordArray(out)
	})
	if err := cj.Set("AES", aesObj); err != nil {
		return nil, err
	}

	return cj, nil
}

// wordArray wraps bytes in an object mimicking crypto-js WordArray.
func (c *jsContext) wordArray(data []byte) *goja.Object {
	obj := c.vm.NewObject()
	_ = obj.DefineDataProperty(wordArrayBytes, c.vm.ToValue(hex.EncodeToString(data)), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	_ = obj.Set("sigBytes", len(data))
	_ = obj.Set("toString", func(call goja.FunctionCall) goja.Value {
		if encoder, ok := call.Argument(0).(*goja.Object); ok {
			if stringify, ok := goja.AssertFunction(encoder.Get("stringify")); ok {
				v, err := stringify(encoder, obj)
				if err != nil {
					panic(err)
				}
				return v
			}
		}
		return c.vm.ToValue(hex.EncodeToString(data))
	})
	return obj
}

// messageBytes accepts a WordArray, a Buffer or a string (UTF-8).
func (c *jsContext) messageBytes(v goja.Value) []byte {
	if obj, ok := v.(*goja.Object); ok {
		if raw := obj.Get(wordArrayBytes); raw != nil && !goja.IsUndefined(raw) {
			data, _ := hex.DecodeString(raw.String())
			return data
		}
		if ct := obj.Get("ciphertext"); ct != nil && !goja.IsUndefined(ct) {
			return c.messageBytes(ct)
		}
		if data, err := c.bytesOf(obj); err == nil {
			return data
		}
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return []byte(v.String())
}

func (c *jsContext) keyBytes(v goja.Value) []byte {
	if _, ok := v.(*goja.Object); !ok {
		panic(c.vm.NewTypeError("AES key must be a WordArray; passphrase keys are not supported"))
	}
	return c.messageBytes(v)
}

// ciphertextBytes accepts CipherParams, a WordArray or a Base64 string.
func (c *jsContext) ciphertextBytes(v goja.Value) []byte {
	if _, ok := v.(*goja.Object); ok {
		return c.messageBytes(v)
	}
	data, err := base64.StdEncoding.DecodeString(v.String())
	if err != nil {
		panic(c.vm.NewTypeError("ciphertext is not valid base64"))
	}
	return data
}

func (c *jsContext) cipherParams(data []byte) *goja.Object {
	obj := c.vm.NewObject()
	_ = obj.Set("ciphertext", c.wordArray(data))
	_ = obj.Set("toString", func(goja.FunctionCall) goja.Value {
		return c.vm.ToValue(base64.StdEncoding.EncodeToString(data))
	})
	return obj
}

type cipherConfig struct {
	iv      []byte
	mode    string
	padding string
}

func (c *jsContext) cipherConfig(v goja.Value) cipherConfig {
	cfg := cipherConfig{mode: "CBC", padding: "Pkcs7"}
	obj, ok := v.(*goja.Object)
	if !ok {
		return cfg
	}
	if iv := obj.Get("iv"); iv != nil && !goja.IsUndefined(iv) {
		cfg.iv = c.messageBytes(iv)
	}
	if m := obj.Get("mode"); m != nil && !goja.IsUndefined(m) {
		cfg.mode = m.String()
	}
	if p := obj.Get("padding"); p != nil && !goja.IsUndefined(p) {
		cfg.padding = p.String()
	}
	return cfg
}

func aesCrypt(encrypt bool, data, key []byte, cfg cipherConfig) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	size := block.BlockSize()
	if encrypt && cfg.padding == "Pkcs7" {
		n := size - len(data)%size
		data = append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(n)}, n)...)
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("data is not a multiple of the block size")
	}

	out := make([]byte, len(data))
	switch cfg.mode {
	case "ECB":
		for i := 0; i < len(data); i += size {
			if encrypt {
				block.Encrypt(out[i:i+size], data[i:i+size])
			} else {
				block.Decrypt(out[i:i+size], data[i:i+size])
			}
		}
	case "CBC":
		iv := cfg.iv
		if len(iv) != size {
			return nil, fmt.Errorf("CBC mode requires a %d byte iv", size)
		}
		if encrypt {
			cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
		} else {
			cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
		}
	default:
		return nil, fmt.Errorf("unsupported cipher mode %q", cfg.mode)
	}

	if !encrypt && cfg.padding == "Pkcs7" && len(out) > 0 {
		n := int(out[len(out)-1])
		if n == 0 || n > size || n > len(out) {
			return nil, fmt.Errorf("invalid padding")
		}
		out = out[:len(out)-n]
	}
	return out, nil
}
