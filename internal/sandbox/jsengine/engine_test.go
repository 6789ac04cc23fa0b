package jsengine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpdomain "songhost.dev/cli/internal/core/domain/http"
	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	"songhost.dev/cli/internal/sandbox"
)

type recordingFetcher struct {
	mu       sync.Mutex
	requests []httpdomain.FetchRequest
	response httpdomain.FetchResponse
	err      error
}

func (f *recordingFetcher) Fetch(_ context.Context, req httpdomain.FetchRequest) (httpdomain.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.response, f.err
}

func loadPlugin(t *testing.T, source string, opts sandbox.Options) sandbox.Instance {
	t.Helper()
	inst, err := New().Load(context.Background(), "demo", source, opts.WithDefaults())
	require.NoError(t, err)
	t.Cleanup(inst.Close)
	return inst
}

func rawArgs(t *testing.T, values ...interface{}) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		out[i] = data
	}
	return out
}

func callWithin(t *testing.T, inst sandbox.Instance, timeout time.Duration, action plugindomain.Action, args ...interface{}) (json.RawMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return inst.Call(ctx, action, rawArgs(t, args...))
}

func failureKind(t *testing.T, err error) plugindomain.Kind {
	t.Helper()
	var f *plugindomain.Failure
	require.True(t, errors.As(err, &f), "expected *Failure, got %T: %v", err, err)
	return f.Kind
}

func TestEngine_LoadRejectsMalformedPlugins(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{name: "number_export", source: `module.exports = 42;`},
		{name: "array_export", source: `module.exports = [1, 2];`},
		{name: "function_export", source: `module.exports = function () {};`},
		{name: "syntax_error", source: `module.exports = {`},
		{name: "throws_during_evaluation", source: `throw new Error("nope");`},
		{name: "requires_unknown_module", source: `var fs = require("fs"); module.exports = {};`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Load(context.Background(), "bad", tt.source, sandbox.Options{}.WithDefaults())
			require.Error(t, err)
			assert.Equal(t, plugindomain.KindMalformedPlugin, failureKind(t, err))
			assert.ErrorIs(t, err, plugindomain.ErrMalformedPlugin)
		})
	}
}

func TestEngine_LoadTimesOutOnRunawayInitialization(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := New().Load(ctx, "spin", `while (true) {}`, sandbox.Options{}.WithDefaults())
	require.Error(t, err)
	assert.Equal(t, plugindomain.KindTimeout, failureKind(t, err))
}

func TestEngine_CapabilitiesMatchCallableMembers(t *testing.T) {
	inst := loadPlugin(t, `
		exports.search = function () { return { data: [] }; };
		exports.getLyric = function () { return null; };
		exports.getTopLists = 5;
		exports.unrelated = function () {};
	`, sandbox.Options{})

	caps := inst.Capabilities()
	assert.True(t, caps.Has(plugindomain.ActionSearch))
	assert.True(t, caps.Has(plugindomain.ActionGetLyric))
	assert.False(t, caps.Has(plugindomain.ActionGetTopLists))
	assert.Equal(t, "search,getLyric", caps.String())
}

func TestEngine_UnsupportedActionReturnsNoop(t *testing.T) {
	inst := loadPlugin(t, `module.exports = { getLyric: function () { return { rawLrc: "" }; } };`, sandbox.Options{})

	tests := []struct {
		action plugindomain.Action
		want   string
	}{
		{action: plugindomain.ActionSearch, want: `{"isEnd":true,"data":[]}`},
		{action: plugindomain.ActionGetMediaSource, want: `null`},
		{action: plugindomain.ActionGetTopLists, want: `[]`},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			out, err := callWithin(t, inst, time.Second, tt.action)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestEngine_CallAwaitsTimersAndPromises(t *testing.T) {
	inst := loadPlugin(t, `
		module.exports = {
			search: function (query, page, type) {
				return new Promise(function (resolve) {
					setTimeout(function () {
						resolve({ isEnd: false, data: [{ title: query, page: page, type: type }] });
					}, 5);
				});
			},
			getLyric: async function (item) {
				await new Promise(function (r) { setTimeout(r, 1); });
				return { rawLrc: "[00:00]" + item.title };
			}
		};
	`, sandbox.Options{})

	out, err := callWithin(t, inst, 2*time.Second, plugindomain.ActionSearch, "hello", 2, "album")
	require.NoError(t, err)
	assert.JSONEq(t, `{"isEnd":false,"data":[{"title":"hello","page":2,"type":"album"}]}`, string(out))

	out, err = callWithin(t, inst, 2*time.Second, plugindomain.ActionGetLyric, map[string]string{"title": "song"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"rawLrc":"[00:00]song"}`, string(out))
}

func TestEngine_TimerDelayIsCapped(t *testing.T) {
	inst := loadPlugin(t, `
		module.exports = {
			search: function () {
				return new Promise(function (resolve) {
					setTimeout(function () { resolve({ data: ["late"] }); }, 600000);
				});
			}
		};
	`, sandbox.Options{MaxTimerDelay: 20 * time.Millisecond})

	out, err := callWithin(t, inst, 2*time.Second, plugindomain.ActionSearch, "q", 1, "music")
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":["late"]}`, string(out))
}

func TestEngine_TimersDoNotOutliveTheirCall(t *testing.T) {
	inst := loadPlugin(t, `
		var fired = false;
		module.exports = {
			search: function () {
				setTimeout(function () { fired = true; }, 10);
				return { data: [] };
			},
			getLyric: function () { return { fired: fired }; }
		};
	`, sandbox.Options{})

	_, err := callWithin(t, inst, time.Second, plugindomain.ActionSearch, "q", 1, "music")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	out, err := callWithin(t, inst, time.Second, plugindomain.ActionGetLyric, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fired":false}`, string(out))
}

func TestEngine_FailuresAreClassified(t *testing.T) {
	inst := loadPlugin(t, `
		module.exports = {
			search: function () { throw new Error("sync boom"); },
			getLyric: function () { return Promise.reject(new Error("async boom")); },
			getMusicInfo: function () { while (true) {} },
			getAlbumInfo: function () { return new Promise(function () {}); },
			getTopLists: function () { var o = {}; o.self = o; return o; },
			importMusicItem: function () { return { ok: true }; }
		};
	`, sandbox.Options{})

	tests := []struct {
		name    string
		action  plugindomain.Action
		want    plugindomain.Kind
		message string
	}{
		{name: "sync_throw", action: plugindomain.ActionSearch, want: plugindomain.KindPluginThrew, message: "sync boom"},
		{name: "async_rejection", action: plugindomain.ActionGetLyric, want: plugindomain.KindPluginThrew, message: "async boom"},
		{name: "tight_loop", action: plugindomain.ActionGetMusicInfo, want: plugindomain.KindTimeout},
		{name: "never_settles", action: plugindomain.ActionGetAlbumInfo, want: plugindomain.KindTimeout},
		{name: "cyclic_result", action: plugindomain.ActionGetTopLists, want: plugindomain.KindInvalidResultShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := callWithin(t, inst, 150*time.Millisecond, tt.action)
			require.Error(t, err)
			assert.Equal(t, tt.want, failureKind(t, err))
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}

	// the context keeps serving after every failure above
	out, err := callWithin(t, inst, time.Second, plugindomain.ActionImportMusicItem, "https://example.test/1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
}

func TestEngine_RestrictedGlobals(t *testing.T) {
	inst := loadPlugin(t, `
		module.exports = {
			getMusicInfo: function () {
				var blocked = null;
				try { require("child_process"); } catch (e) { blocked = e.message; }
				return {
					process: typeof process,
					fetch: typeof fetch,
					setInterval: typeof setInterval,
					eval: typeof eval,
					console: typeof console.log,
					math: Math.max(1, 2),
					blocked: blocked
				};
			}
		};
	`, sandbox.Options{})

	out, err := callWithin(t, inst, time.Second, plugindomain.ActionGetMusicInfo, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"process": "undefined",
		"fetch": "undefined",
		"setInterval": "undefined",
		"eval": "undefined",
		"console": "function",
		"math": 2,
		"blocked": "module \"child_process\" is not available"
	}`, string(out))
}

func TestEngine_ContextsDoNotShareGlobals(t *testing.T) {
	source := `
		var counter = 0;
		module.exports = { getMusicInfo: function () { counter++; globalThis.leak = counter; return { counter: counter }; } };
	`
	a := loadPlugin(t, source, sandbox.Options{})
	b := loadPlugin(t, source, sandbox.Options{})

	for i := 0; i < 3; i++ {
		_, err := callWithin(t, a, time.Second, plugindomain.ActionGetMusicInfo, nil)
		require.NoError(t, err)
	}
	out, err := callWithin(t, b, time.Second, plugindomain.ActionGetMusicInfo, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"counter":1}`, string(out))
}

func TestEngine_BufferEncodings(t *testing.T) {
	inst := loadPlugin(t, `
		module.exports = {
			getMusicInfo: function () {
				return {
					base64: Buffer.from("hello").toString("base64"),
					decoded: Buffer.from("aGVsbG8=", "base64").toString(),
					hex: Buffer.from("hi").toString("hex"),
					length: Buffer.byteLength("héllo"),
					isBuffer: Buffer.isBuffer(Buffer.from([1, 2]))
				};
			}
		};
	`, sandbox.Options{})

	out, err := callWithin(t, inst, time.Second, plugindomain.ActionGetMusicInfo, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"base64":"aGVsbG8=","decoded":"hello","hex":"6869","length":6,"isBuffer":true}`, string(out))
}

func TestEngine_CryptoJS(t *testing.T) {
	inst := loadPlugin(t, `
		var CryptoJS = require("crypto-js");
		module.exports = {
			getMusicInfo: function () {
				var key = CryptoJS.enc.Utf8.parse("0123456789abcdef");
				var iv = CryptoJS.enc.Utf8.parse("fedcba9876543210");
				var sealed = CryptoJS.AES.encrypt("secret", key, { iv: iv, mode: CryptoJS.mode.CBC, padding: CryptoJS.pad.Pkcs7 }).toString();
				var opened = CryptoJS.AES.decrypt(sealed, key, { iv: iv }).toString(CryptoJS.enc.Utf8);
				return {
					md5: CryptoJS.MD5("abc").toString(),
					sha256: CryptoJS.SHA256("abc").toString(CryptoJS.enc.Hex),
					base64: CryptoJS.enc.Base64.stringify(CryptoJS.enc.Utf8.parse("hello")),
					hmacLength: CryptoJS.HmacSHA256("msg", "key").toString().length,
					opened: opened
				};
			}
		};
	`, sandbox.Options{})

	out, err := callWithin(t, inst, time.Second, plugindomain.ActionGetMusicInfo, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"md5": "900150983cd24fb0d6963f7d28e17f72",
		"sha256": "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		"base64": "aGVsbG8=",
		"hmacLength": 64,
		"opened": "secret"
	}`, string(out))
}

func TestEngine_HelperModules(t *testing.T) {
	inst := loadPlugin(t, `
		var he = require("he"), qs = require("qs"), dayjs = require("dayjs"), cheerio = require("cheerio");
		module.exports = {
			getMusicInfo: function () {
				var $ = cheerio.load('<ul><li class="hit" data-id="7">One</li><li>Two &amp; Three</li></ul>');
				return {
					decoded: he.decode("Tom &amp; Jerry"),
					query: qs.stringify({ a: 1 }),
					parsed: qs.parse("x=1&y=two").y,
					date: dayjs("2024-03-05 07:08:09").format("YYYY/MM/DD HH:mm:ss [at] M-D"),
					texts: $("li").map(function (i, el) { return $(el).text(); }).get().join("|"),
					id: $("li.hit").attr("data-id"),
					count: $("li").length,
					same: require("he") === he
				};
			}
		};
	`, sandbox.Options{})

	out, err := callWithin(t, inst, time.Second, plugindomain.ActionGetMusicInfo, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"decoded": "Tom & Jerry",
		"query": "a=1",
		"parsed": "two",
		"date": "2024/03/05 07:08:09 at 3-5",
		"texts": "One|Two & Three",
		"id": "7",
		"count": 2,
		"same": true
	}`, string(out))
}

func TestEngine_AxiosGoesThroughFetcher(t *testing.T) {
	fetcher := &recordingFetcher{response: httpdomain.FetchResponse{
		Status: 200,
		Body:   `{"items":[{"title":"remote"}]}`,
	}}
	inst := loadPlugin(t, `
		var axios = require("axios");
		module.exports = {
			search: async function (query) {
				var res = await axios.get("https://music.example.test/search", { params: { q: query }, headers: { "X-Test": "1" } });
				return { isEnd: true, data: res.data.items };
			}
		};
	`, sandbox.Options{Fetcher: fetcher})

	out, err := callWithin(t, inst, 2*time.Second, plugindomain.ActionSearch, "needle", 1, "music")
	require.NoError(t, err)
	assert.JSONEq(t, `{"isEnd":true,"data":[{"title":"remote"}]}`, string(out))

	require.Len(t, fetcher.requests, 1)
	req := fetcher.requests[0]
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "https://music.example.test/search", req.URL)
	assert.Equal(t, "needle", req.Params["q"])
	assert.Equal(t, "1", req.Headers["X-Test"])
}

func TestEngine_AxiosErrorsReject(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *recordingFetcher
		message string
	}{
		{
			name:    "no_network",
			message: "network is not available",
		},
		{
			name:    "bad_status",
			fetcher: &recordingFetcher{response: httpdomain.FetchResponse{Status: 503, Body: "down"}},
			message: "status code 503",
		},
		{
			name:    "transport_error",
			fetcher: &recordingFetcher{err: errors.New("connection refused")},
			message: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := sandbox.Options{}
			if tt.fetcher != nil {
				opts.Fetcher = tt.fetcher
			}
			inst := loadPlugin(t, `
				var axios = require("axios");
				module.exports = { search: function () { return axios.get("https://music.example.test/"); } };
			`, opts)

			_, err := callWithin(t, inst, 2*time.Second, plugindomain.ActionSearch, "q", 1, "music")
			require.Error(t, err)
			assert.Equal(t, plugindomain.KindPluginThrew, failureKind(t, err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}
