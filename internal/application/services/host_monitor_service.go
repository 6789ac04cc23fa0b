package services

import (
	"context"
	"sort"
	"time"

	"songhost.dev/cli/internal/application/ports"
)

// HealthReport is one health check of the sandbox host.
type HealthReport struct {
	Healthy  bool          `json:"healthy"`
	PID      int           `json:"pid,omitempty"`
	Restarts int           `json:"restarts"`
	Latency  time.Duration `json:"latency"`
	Plugins  int           `json:"plugins"`
	// Missing lists records the host no longer has loaded.
	Missing   []string  `json:"missing,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// HostMonitor pings the host and compares its plugin list with the
// parent's table.
type HostMonitor struct {
	host    ports.HostGateway
	plugins *PluginLifecycleManager
	logger  ports.LoggingGateway
	now     func() time.Time
}

// NewHostMonitor creates a new host monitor
func NewHostMonitor(host ports.HostGateway, plugins *PluginLifecycleManager, logger ports.LoggingGateway) *HostMonitor {
	return &HostMonitor{host: host, plugins: plugins, logger: logger, now: time.Now}
}

// Check pings the host once.
func (m *HostMonitor) Check(ctx context.Context) HealthReport {
	start := m.now()
	status, err := m.host.Ping(ctx)
	report := HealthReport{CheckedAt: start, Latency: m.now().Sub(start)}
	if err != nil {
		report.Error = err.Error()
		return report
	}

	report.PID = status.PID
	report.Restarts = status.Restarts
	report.Plugins = len(status.Plugins)

	loaded := make(map[string]bool, len(status.Plugins))
	for _, name := range status.Plugins {
		loaded[name] = true
	}
	if m.plugins != nil {
		for _, rec := range m.plugins.Records() {
			if !loaded[rec.Name] {
				report.Missing = append(report.Missing, rec.Name)
			}
		}
		sort.Strings(report.Missing)
	}
	report.Healthy = len(report.Missing) == 0
	return report
}

// Watch checks every interval until ctx is done, passing each report to
// fn. Unhealthy reports are logged.
func (m *HostMonitor) Watch(ctx context.Context, interval time.Duration, fn func(HealthReport)) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report := m.Check(ctx)
		if !report.Healthy && m.logger != nil {
			m.logger.Log(ports.LogLevelWarn, "sandbox host unhealthy", map[string]interface{}{
				"error":   report.Error,
				"missing": report.Missing,
			})
		}
		if fn != nil {
			fn(report)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
