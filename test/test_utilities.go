package test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

// TestEnvironment is an isolated songhost setup: a plugin directory seeded
// with the example plugins, a config file and a mock music server.
type TestEnvironment struct {
	TempDir       string
	PluginsDir    string
	ConfigFile    string
	PluginsConfig string
	Server        *MockMusicServer
}

// NewTestEnvironment creates the environment; it is removed when t ends.
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	dir := t.TempDir()
	env := &TestEnvironment{
		TempDir:       dir,
		PluginsDir:    filepath.Join(dir, "plugins"),
		ConfigFile:    filepath.Join(dir, "config.yaml"),
		PluginsConfig: filepath.Join(dir, "plugins-config.json"),
		Server:        NewMockMusicServer(),
	}
	t.Cleanup(env.Server.Close)

	if err := os.MkdirAll(env.PluginsDir, 0o755); err != nil {
		t.Fatalf("Failed to create plugin directory: %v", err)
	}
	for _, name := range []string{"demo.js", "moon.lua"} {
		data, err := os.ReadFile(filepath.Join(ExamplePluginsDir(), name))
		if err != nil {
			t.Fatalf("Failed to read example plugin: %v", err)
		}
		CreateTempFile(t, env.PluginsDir, name, string(data))
	}
	env.WriteConfig(t, map[string]interface{}{
		"plugins_dir":    env.PluginsDir,
		"plugins_config": env.PluginsConfig,
		"call_timeout":   "5s",
		"log_level":      "warn",
	})
	return env
}

// ExamplePluginsDir locates the fixture plugins under
// integration_test/testdata.
func ExamplePluginsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "integration_test", "testdata", "plugins")
}

// WriteConfig replaces the config file. JSON is valid YAML.
func (env *TestEnvironment) WriteConfig(t *testing.T, values map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(values)
	if err != nil {
		t.Fatalf("Failed to encode config: %v", err)
	}
	if err := os.WriteFile(env.ConfigFile, data, 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

// EnableDirectSource points the plugin config at the mock server's
// aggregate search.
func (env *TestEnvironment) EnableDirectSource(t *testing.T) {
	t.Helper()
	cfg := map[string]interface{}{
		"enabled_plugins": []string{},
		"plugins_info":    []interface{}{},
		"openapi_info":    map[string]interface{}{"enabled": true, "search_url": env.Server.URL() + "/search"},
	}
	data, _ := json.Marshal(cfg)
	if err := os.WriteFile(env.PluginsConfig, data, 0o644); err != nil {
		t.Fatalf("Failed to write plugin config: %v", err)
	}
}

// ReadPluginsConfig decodes the plugin config file.
func (env *TestEnvironment) ReadPluginsConfig(t *testing.T) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(env.PluginsConfig)
	if err != nil {
		t.Fatalf("Failed to read plugin config: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Invalid plugin config: %v", err)
	}
	return out
}

// Command prepares a songhost invocation against this environment.
func (env *TestEnvironment) Command(binary string, args ...string) *exec.Cmd {
	cmd := exec.Command(binary, append([]string{"--config", env.ConfigFile}, args...)...)
	cmd.Env = append(os.Environ(), "HOME="+env.TempDir)
	return cmd
}

// CreateTempFile writes content to dir/name.
func CreateTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	return path
}
