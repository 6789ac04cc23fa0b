package appconfig

import (
	"context"
	"errors"
	"fmt"
	"sort"

	configdomain "songhost.dev/cli/internal/core/domain/config"
	configports "songhost.dev/cli/internal/core/ports/config"
)

// Aggregator merges multiple loader snapshots, honoring priorities.
type Aggregator struct {
	loaders []configports.Loader
}

func NewAggregator(loaders ...configports.Loader) *Aggregator {
	return &Aggregator{loaders: loaders}
}

// LoadSnapshot returns the merged snapshot, including CLI overrides as
// priority 1. Loader errors are collected; the snapshot still carries every
// value that did load.
func (a *Aggregator) LoadSnapshot(ctx context.Context, overrides map[string]interface{}) (configdomain.Snapshot, error) {
	snap := configdomain.DefaultSnapshot()
	var errs []error

	for field, v := range overrides {
		f, ok := configdomain.LookupField(field)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown setting %q", field))
			continue
		}
		val, err := f.Coerce(v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		snap[field] = configdomain.Entry{Key: field, Value: val, Source: "cli", SourcePath: "command_line_flag", Priority: configdomain.PriorityCLI}
	}

	for _, l := range a.loaders {
		s, err := l.Load(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.Name(), err))
		}
		snap.Merge(s)
	}
	return snap, errors.Join(errs...)
}

// Load resolves and validates Settings.
func (a *Aggregator) Load(ctx context.Context, overrides map[string]interface{}) (configdomain.Settings, configdomain.Snapshot, error) {
	snap, loadErr := a.LoadSnapshot(ctx, overrides)
	settings, err := configdomain.FromSnapshot(snap)
	if err != nil {
		return settings, snap, err
	}
	if err := settings.Validate(); err != nil {
		return settings, snap, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, snap, loadErr
}

// Sorted returns the snapshot entries in field display order.
func Sorted(snap configdomain.Snapshot) []configdomain.Entry {
	order := make(map[string]int, len(configdomain.Fields))
	for i, f := range configdomain.Fields {
		order[f.Key] = i
	}
	entries := make([]configdomain.Entry, 0, len(snap))
	for _, e := range snap {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return order[entries[i].Key] < order[entries[j].Key]
	})
	return entries
}
