package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestDiscover(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"kw.js":       "module.exports = {}",
		"netease.lua": "return {}",
		"README.md":   "# plugins",
		".hidden.js":  "module.exports = {}",
		"empty.js":    "",
		"ALL.js":      "module.exports = {}",
		"kw.lua":      "return {}",
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.js"), 0755))

	d := NewFileSystemPluginDiscovery(dir, nil, nil)
	sources, err := d.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, sources, 2)
	assert.Equal(t, "kw", sources[0].Name)
	assert.Equal(t, plugindomain.RuntimeJS, sources[0].Runtime)
	assert.Equal(t, "module.exports = {}", sources[0].Code)
	assert.Equal(t, "netease", sources[1].Name)
	assert.Equal(t, plugindomain.RuntimeLua, sources[1].Runtime)
}

func TestDiscover_MissingDirectory(t *testing.T) {
	d := NewFileSystemPluginDiscovery(filepath.Join(t.TempDir(), "nope"), nil, nil)
	sources, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestGetAndDelete(t *testing.T) {
	dir := writeFiles(t, map[string]string{"demo.lua": "return {}"})
	d := NewFileSystemPluginDiscovery(dir, nil, nil)

	src, err := d.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, plugindomain.RuntimeLua, src.Runtime)
	assert.Equal(t, filepath.Join(dir, "demo.lua"), src.Path)

	require.NoError(t, d.Delete("demo"))
	_, err = d.Get("demo")
	assert.True(t, errors.Is(err, ErrPluginFileNotFound))

	err = d.Delete("../etc")
	require.Error(t, err)
}

func TestInstall(t *testing.T) {
	src := writeFiles(t, map[string]string{
		"kw.lua":    "return { platform = 'kw' }",
		"bad.txt":   "hello",
		"ALL.js":    "module.exports = {}",
		"empty.lua": "",
	})
	plugins := filepath.Join(t.TempDir(), "plugins")
	require.NoError(t, os.MkdirAll(plugins, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(plugins, "kw.js"), []byte("module.exports = {}"), 0644))
	d := NewFileSystemPluginDiscovery(plugins, nil, nil)

	tests := []struct {
		name        string
		file        string
		expectError bool
	}{
		{name: "replaces other runtime", file: "kw.lua"},
		{name: "unsupported extension", file: "bad.txt", expectError: true},
		{name: "reserved name", file: "ALL.js", expectError: true},
		{name: "empty file", file: "empty.lua", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			installed, err := d.Install(filepath.Join(src, tt.file))
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(plugins, tt.file), installed.Path)

			got, err := d.Get(installed.Name)
			require.NoError(t, err)
			assert.Equal(t, installed.Code, got.Code)
			assert.Equal(t, plugindomain.RuntimeLua, got.Runtime)
		})
	}

	_, err := os.Stat(filepath.Join(plugins, "kw.js"))
	assert.True(t, os.IsNotExist(err))
}

func TestSourceValidator(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"ok.js":    "module.exports = {}",
		"big.js":   "0123456789abcdef",
		"bin.js":   string([]byte{0xff, 0xfe, 0x00}),
		"empty.js": "",
	})
	v := NewSourceValidator(12)

	tests := []struct {
		name    string
		file    string
		wantErr string
	}{
		{name: "too large", file: "big.js", wantErr: "exceeds 12 bytes"},
		{name: "not utf8", file: "bin.js", wantErr: "UTF-8"},
		{name: "empty", file: "empty.js", wantErr: "empty"},
		{name: "missing", file: "missing.js", wantErr: "not accessible"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Read(filepath.Join(dir, tt.file))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	code, err := NewSourceValidator(0).Read(filepath.Join(dir, "ok.js"))
	require.NoError(t, err)
	assert.Equal(t, "module.exports = {}", code)
}

func TestDigest(t *testing.T) {
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Digest("abc"))
}
