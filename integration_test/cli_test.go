package integration_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"songhost.dev/cli/test"
)

func runCLI(t *testing.T, env *test.TestEnvironment, args ...string) (string, string) {
	t.Helper()
	cmd := env.Command(buildCLIBinary(t), args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	require.NoError(t, err, "songhost %v\nstderr: %s", args, stderr.String())
	return stdout.String(), stderr.String()
}

func TestCLI_SearchAcrossChildHost(t *testing.T) {
	env := test.NewTestEnvironment(t)

	out, _ := runCLI(t, env, "search", "jay", "chou", "--json")

	res := gjson.Parse(out)
	require.True(t, res.Get("data").IsArray(), out)
	assert.Equal(t, int64(2), res.Get("sources.demo").Int())
	assert.Equal(t, int64(1), res.Get("sources.moon").Int())
	assert.Equal(t, "Jay Chou", res.Get("data.0.item.artist").String())
	assert.Equal(t, int64(1000), res.Get("data.0.artistScore").Int())
	assert.False(t, res.Get("direct").Bool())
}

func TestCLI_CallProxiesNetwork(t *testing.T) {
	env := test.NewTestEnvironment(t)

	tests := []struct {
		name     string
		plugin   string
		action   string
		args     string
		expected string
	}{
		{
			name:     "js media source",
			plugin:   "demo",
			action:   "getMediaSource",
			args:     fmt.Sprintf(`{"item":{"id":"1","api":%q},"quality":"high"}`, env.Server.URL()),
			expected: env.Server.URL() + "/audio/1.high.mp3",
		},
		{
			name:     "lua media source",
			plugin:   "moon",
			action:   "getMediaSource",
			args:     fmt.Sprintf(`{"item":{"id":"m1","api":%q},"quality":"standard"}`, env.Server.URL()),
			expected: env.Server.URL() + "/audio/m1.standard.mp3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _ := runCLI(t, env, "call", tt.plugin, tt.action, tt.args)
			assert.Equal(t, tt.expected, gjson.Get(out, "url").String(), out)
		})
	}

	t.Run("unsupported action is empty", func(t *testing.T) {
		out, _ := runCLI(t, env, "call", "moon", "getTopLists")
		assert.JSONEq(t, "[]", out)
	})

	assert.NotEmpty(t, env.Server.GetRequestLog())
}

func TestCLI_EnableDisablePersists(t *testing.T) {
	env := test.NewTestEnvironment(t)

	runCLI(t, env, "plugins", "enable", "moon")
	runCLI(t, env, "plugins", "enable", "demo")
	cfg := env.ReadPluginsConfig(t)
	assert.Equal(t, []interface{}{"demo", "moon"}, cfg["enabled_plugins"])

	runCLI(t, env, "plugins", "disable", "demo")
	out, _ := runCLI(t, env, "search", "sunny", "--json")
	assert.Equal(t, int64(0), gjson.Get(out, "sources.demo").Int())
	assert.Equal(t, int64(1), gjson.Get(out, "sources.moon").Int())

	out, _ = runCLI(t, env, "plugins", "list", "--json")
	assert.Equal(t, `["moon"]`, gjson.Get(out, `#(enabled==true)#.name`).Raw)
}

func TestCLI_DirectSource(t *testing.T) {
	env := test.NewTestEnvironment(t)
	env.Server.SetDirectResults([]map[string]interface{}{
		{"id": "d1", "name": "Qing Tian", "artist": "Jay Chou", "platform": "qq"},
	})
	env.EnableDirectSource(t)

	out, _ := runCLI(t, env, "search", "qing", "tian", "--json")

	assert.True(t, gjson.Get(out, "direct").Bool(), out)
	assert.Equal(t, "OpenAPI-qq", gjson.Get(out, "data.0.platform").String())
	assert.Equal(t, "online_OpenAPI-qq_d1", gjson.Get(out, "data.0.uid").String())
}

func TestCLI_ConfigShowProvenance(t *testing.T) {
	env := test.NewTestEnvironment(t)
	cmd := env.Command(buildCLIBinary(t), "config", "show")
	cmd.Env = append(cmd.Env, "SONGHOST_SEARCH_LIMIT=7")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))

	lines := strings.Split(string(out), "\n")
	find := func(key string) string {
		for _, l := range lines {
			if strings.HasPrefix(l, key+" ") {
				return l
			}
		}
		return ""
	}
	assert.Contains(t, find("search_limit"), "7")
	assert.Contains(t, find("search_limit"), "SONGHOST_SEARCH_LIMIT")
	assert.Contains(t, find("call_timeout"), env.ConfigFile)
	assert.Contains(t, find("max_restarts"), "default")
}

// TestHost_ProtocolSurvivesThrowingPlugin talks to the hidden host command
// directly over stdin/stdout.
func TestHost_ProtocolSurvivesThrowingPlugin(t *testing.T) {
	env := test.NewTestEnvironment(t)
	ctx, cancel := setupTestContext(ShortTestTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, buildCLIBinary(t), "--config", env.ConfigFile, "host")
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	defer func() {
		stdin.Close()
		_ = cmd.Wait()
	}()

	lines := bufio.NewScanner(stdout)
	send := func(frame string) gjson.Result {
		_, err := io.WriteString(stdin, frame+"\n")
		require.NoError(t, err)
		require.True(t, lines.Scan(), "host closed stdout")
		return gjson.ParseBytes(lines.Bytes())
	}

	load := func(id, name, code string) string {
		raw, _ := json.Marshal(map[string]string{"id": id, "action": "load", "pluginName": name, "code": code})
		return string(raw)
	}

	resp := send(load("1", "bad", `module.exports = { search: async function () { throw new Error('x') } }`))
	require.True(t, resp.Get("success").Bool(), resp.Raw)

	resp = send(`{"id":"2","action":"search","pluginName":"bad","query":"q"}`)
	assert.False(t, resp.Get("success").Bool())
	assert.Equal(t, "PluginThrew", resp.Get("error.kind").String())
	assert.Equal(t, "bad", resp.Get("error.pluginName").String())
	assert.Equal(t, "search", resp.Get("error.action").String())

	resp = send(`not json`)
	assert.Equal(t, "ProtocolParseError", resp.Get("error.kind").String())

	resp = send(`{"id":"3","action":"ping"}`)
	assert.True(t, resp.Get("success").Bool())
	assert.Equal(t, `["bad"]`, resp.Get("result.plugins").Raw)

	resp = send(`{"id":"4","action":"unload","pluginName":"bad"}`)
	assert.True(t, resp.Get("result").Bool())
	resp = send(`{"id":"5","action":"search","pluginName":"bad","query":"q"}`)
	assert.Equal(t, "PluginNotFound", resp.Get("error.kind").String())
}

func TestCLI_CallFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(s *test.MockMusicServer)
		args    []string
		wantErr string
	}{
		{
			name:    "upstream error surfaces as plugin failure",
			setup:   func(s *test.MockMusicServer) { s.SetFailStatus(500) },
			args:    []string{"call", "moon", "getMediaSource", `{"item":{"id":"m1","api":"%s"}}`},
			wantErr: "PluginThrew",
		},
		{
			name:    "slow upstream hits the call timeout",
			setup:   func(s *test.MockMusicServer) { s.SetLatency(3 * time.Second) },
			args:    []string{"--call-timeout", "1s", "call", "demo", "getMediaSource", `{"item":{"id":"1","api":"%s"}}`},
			wantErr: "Timeout",
		},
		{
			name:    "unknown plugin",
			setup:   func(*test.MockMusicServer) {},
			args:    []string{"call", "nope", "search", `{"query":"x"}`},
			wantErr: "PluginNotFound",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := test.NewTestEnvironment(t)
			tt.setup(env.Server)

			args := make([]string, len(tt.args))
			for i, a := range tt.args {
				if strings.Contains(a, "%s") {
					a = fmt.Sprintf(a, env.Server.URL())
				}
				args[i] = a
			}

			out, err := env.Command(buildCLIBinary(t), args...).CombinedOutput()
			require.Error(t, err, string(out))
			assert.Contains(t, string(out), tt.wantErr)
		})
	}
}

func TestCLI_StatusReportsPlugins(t *testing.T) {
	env := test.NewTestEnvironment(t)

	out, _ := runCLI(t, env, "status", "--json")

	assert.True(t, gjson.Get(out, "healthy").Bool(), out)
	assert.Greater(t, gjson.Get(out, "pid").Int(), int64(0))
	assert.Equal(t, int64(2), gjson.Get(out, "plugins").Int())
	assert.False(t, gjson.Get(out, "missing").Exists())
}
