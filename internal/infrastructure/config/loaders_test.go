package configinfra

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configdomain "songhost.dev/cli/internal/core/domain/config"
)

func TestEnvLoader(t *testing.T) {
	l := NewEnvLoaderFrom(map[string]string{
		"SONGHOST_CALL_TIMEOUT": "3s",
		"SONGHOST_SEARCH_LIMIT": "12",
		"SONGHOST_DEBUG":        "true",
		"SONGHOST_MAX_RESTARTS": "lots",
		"SONGHOST_LOG_LEVEL":    "",
		"OTHER_LOG_LEVEL":       "debug",
	})

	snap, err := l.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_restarts")

	assert.Equal(t, 3*time.Second, snap["call_timeout"].Value)
	assert.Equal(t, 12, snap["search_limit"].Value)
	assert.Equal(t, true, snap["debug"].Value)
	assert.Equal(t, "SONGHOST_CALL_TIMEOUT", snap["call_timeout"].SourcePath)
	assert.Equal(t, configdomain.PriorityEnv, snap["call_timeout"].Priority)
	assert.NotContains(t, snap, "max_restarts")
	assert.NotContains(t, snap, "log_level")
}

func TestFileLoader(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		dotenv   string
		expected map[string]interface{}
		wantErr  string
	}{
		{
			name: "yaml",
			file: "config.yaml",
			content: `plugins_dir: /srv/plugins
call_timeout: 4s
load_timeout: 2500
search_limit: 30
in_process: true
unknown_key: ignored
`,
			expected: map[string]interface{}{
				"plugins_dir":  "/srv/plugins",
				"call_timeout": 4 * time.Second,
				"load_timeout": 2500 * time.Millisecond,
				"search_limit": 30,
				"in_process":   true,
			},
		},
		{
			name:    "json",
			file:    "config.json",
			content: `{"log_level": "warn", "max_line_bytes": 1024}`,
			expected: map[string]interface{}{
				"log_level":      "warn",
				"max_line_bytes": 1024,
			},
		},
		{
			name:    "dotenv below file",
			file:    "config.yaml",
			content: "log_level: error\n",
			dotenv:  "# comment\nexport SONGHOST_LOG_LEVEL=debug\nSONGHOST_FETCH_TIMEOUT='7s'\nOTHER=1\n",
			expected: map[string]interface{}{
				"log_level":     "error",
				"fetch_timeout": 7 * time.Second,
			},
		},
		{
			name:    "bad value",
			file:    "config.yaml",
			content: "search_limit: [1, 2]\n",
			wantErr: "search_limit",
		},
		{
			name:    "bad yaml",
			file:    "config.yaml",
			content: "call_timeout: [\n",
			wantErr: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			if tt.dotenv != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(tt.dotenv), 0644))
			}

			l := NewFileLoaderWithPaths([]string{path}, []string{dir})
			snap, err := l.Load(context.Background())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			merged := make(configdomain.Snapshot)
			merged.Merge(snap)
			for key, want := range tt.expected {
				assert.Equal(t, want, merged[key].Value, key)
			}
		})
	}
}

func TestFileLoader_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewFileLoaderWithPaths([]string{filepath.Join(dir, "config.yaml")}, []string{dir})
	snap, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)
}
