package appconfig

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configdomain "songhost.dev/cli/internal/core/domain/config"
)

type staticLoader struct {
	name string
	snap configdomain.Snapshot
	err  error
}

func (l staticLoader) Name() string { return l.name }

func (l staticLoader) Load(context.Context) (configdomain.Snapshot, error) {
	return l.snap, l.err
}

func entry(key string, v interface{}, source string, priority int) configdomain.Entry {
	return configdomain.Entry{Key: key, Value: v, Source: source, Priority: priority}
}

func TestAggregator_Priorities(t *testing.T) {
	env := staticLoader{name: "env", snap: configdomain.Snapshot{
		"call_timeout": entry("call_timeout", 3*time.Second, "env", configdomain.PriorityEnv),
		"search_limit": entry("search_limit", 9, "env", configdomain.PriorityEnv),
	}}
	file := staticLoader{name: "filesystem", snap: configdomain.Snapshot{
		"call_timeout": entry("call_timeout", 30*time.Second, "file", configdomain.PriorityFile),
		"log_level":    entry("log_level", "warn", "file", configdomain.PriorityFile),
	}}

	agg := NewAggregator(env, file)
	settings, snap, err := agg.Load(context.Background(), map[string]interface{}{"search_limit": 4})
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, settings.CallTimeout)
	assert.Equal(t, 4, settings.SearchLimit)
	assert.Equal(t, "warn", settings.LogLevel)
	assert.Equal(t, "cli", snap["search_limit"].Source)
	assert.Equal(t, "default", snap["fetch_timeout"].Source)

	entries := Sorted(snap)
	require.Len(t, entries, len(configdomain.Fields))
	assert.Equal(t, "plugins_dir", entries[0].Key)
}

func TestAggregator_Errors(t *testing.T) {
	tests := []struct {
		name      string
		loaders   []staticLoader
		overrides map[string]interface{}
		wantErr   string
	}{
		{
			name:      "unknown override",
			overrides: map[string]interface{}{"colour": "blue"},
			wantErr:   `unknown setting "colour"`,
		},
		{
			name:    "loader error is named",
			loaders: []staticLoader{{name: "env", err: errors.New("boom")}},
			wantErr: "env: boom",
		},
		{
			name:      "validation",
			overrides: map[string]interface{}{"call_timeout": "0s"},
			wantErr:   "invalid configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var loaders []staticLoader
			loaders = append(loaders, tt.loaders...)
			agg := &Aggregator{}
			for _, l := range loaders {
				agg.loaders = append(agg.loaders, l)
			}
			_, _, err := agg.Load(context.Background(), tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
