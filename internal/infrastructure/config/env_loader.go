package configinfra

import (
	"context"
	"errors"
	"os"

	configdomain "songhost.dev/cli/internal/core/domain/config"
	configports "songhost.dev/cli/internal/core/ports/config"
)

type EnvLoader struct {
	lookup func(string) (string, bool)
}

func NewEnvLoader() *EnvLoader { return &EnvLoader{lookup: os.LookupEnv} }

// NewEnvLoaderFrom reads variables from env instead of the process.
func NewEnvLoaderFrom(env map[string]string) *EnvLoader {
	return &EnvLoader{lookup: func(k string) (string, bool) { v, ok := env[k]; return v, ok }}
}

func (l *EnvLoader) Name() string { return "env" }

// Load builds a snapshot from SONGHOST_* variables (priority 2). Values
// that fail to parse are reported and skipped.
func (l *EnvLoader) Load(ctx context.Context) (configdomain.Snapshot, error) {
	snap := make(configdomain.Snapshot)
	var errs []error
	for _, f := range configdomain.Fields {
		raw, ok := l.lookup(f.Env())
		if !ok || raw == "" {
			continue
		}
		v, err := f.Parse(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		snap[f.Key] = configdomain.Entry{Key: f.Key, Value: v, Source: "env", SourcePath: f.Env(), Priority: configdomain.PriorityEnv}
	}
	return snap, errors.Join(errs...)
}

var _ configports.Loader = (*EnvLoader)(nil)
