// Package discovery finds plugin source files on disk.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"songhost.dev/cli/internal/application/ports"
	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
)

// ErrPluginFileNotFound is returned by Get for an unknown plugin name.
var ErrPluginFileNotFound = errors.New("plugin file not found")

// FileSystemPluginDiscovery implements ports.PluginSourceRepository over a
// single plugins directory. A plugin's name is its file stem.
type FileSystemPluginDiscovery struct {
	directory string
	validator *SourceValidator
	logger    ports.LoggingGateway
}

// NewFileSystemPluginDiscovery creates a new filesystem-based plugin discovery
func NewFileSystemPluginDiscovery(directory string, validator *SourceValidator, logger ports.LoggingGateway) *FileSystemPluginDiscovery {
	if validator == nil {
		validator = NewSourceValidator(0)
	}
	return &FileSystemPluginDiscovery{
		directory: expandPath(directory),
		validator: validator,
		logger:    logger,
	}
}

var _ ports.PluginSourceRepository = (*FileSystemPluginDiscovery)(nil)

// Directory returns the scanned directory.
func (d *FileSystemPluginDiscovery) Directory() string {
	return d.directory
}

// Discover lists every valid plugin file sorted by name. Invalid files are
// logged and skipped; a missing directory yields no plugins.
func (d *FileSystemPluginDiscovery) Discover(ctx context.Context) ([]plugindomain.PluginSource, error) {
	entries, err := os.ReadDir(d.directory)
	if errors.Is(err, os.ErrNotExist) {
		d.log(ports.LogLevelDebug, "plugins directory does not exist", map[string]interface{}{"directory": d.directory})
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var found []plugindomain.PluginSource
	seen := make(map[string]string)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, ok := plugindomain.RuntimeForFile(entry.Name()); !ok {
			continue
		}

		src, err := d.readSource(filepath.Join(d.directory, entry.Name()))
		if err != nil {
			d.log(ports.LogLevelWarn, "skipping invalid plugin", map[string]interface{}{"file": entry.Name(), "error": err.Error()})
			continue
		}
		if prev, dup := seen[src.Name]; dup {
			d.log(ports.LogLevelWarn, "skipping duplicate plugin name", map[string]interface{}{"file": entry.Name(), "kept": prev})
			continue
		}
		seen[src.Name] = entry.Name()
		found = append(found, src)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	d.log(ports.LogLevelDebug, "discovered plugins", map[string]interface{}{"count": len(found), "directory": d.directory})
	return found, nil
}

// Get reads the plugin called name.
func (d *FileSystemPluginDiscovery) Get(name string) (plugindomain.PluginSource, error) {
	path, err := d.locate(name)
	if err != nil {
		return plugindomain.PluginSource{}, err
	}
	return d.readSource(path)
}

// Delete removes the plugin file for name.
func (d *FileSystemPluginDiscovery) Delete(name string) error {
	path, err := d.locate(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete plugin file: %w", err)
	}
	return nil
}

// Install copies the plugin file at src into the directory under its own
// name, replacing any previous version.
func (d *FileSystemPluginDiscovery) Install(src string) (plugindomain.PluginSource, error) {
	source, err := d.readSource(expandPath(src))
	if err != nil {
		return plugindomain.PluginSource{}, err
	}
	if err := os.MkdirAll(d.directory, 0o755); err != nil {
		return plugindomain.PluginSource{}, fmt.Errorf("failed to create plugin directory: %w", err)
	}
	if prev, err := d.locate(source.Name); err == nil {
		if err := os.Remove(prev); err != nil {
			return plugindomain.PluginSource{}, fmt.Errorf("failed to replace plugin file: %w", err)
		}
	}

	dest := filepath.Join(d.directory, filepath.Base(source.Path))
	tmp, err := os.CreateTemp(d.directory, ".install-*")
	if err != nil {
		return plugindomain.PluginSource{}, fmt.Errorf("failed to write plugin file: %w", err)
	}
	if _, err := tmp.WriteString(source.Code); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return plugindomain.PluginSource{}, fmt.Errorf("failed to write plugin file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return plugindomain.PluginSource{}, fmt.Errorf("failed to write plugin file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return plugindomain.PluginSource{}, fmt.Errorf("failed to install plugin file: %w", err)
	}

	d.log(ports.LogLevelInfo, "plugin installed", map[string]interface{}{"plugin": source.Name, "path": dest})
	source.Path = dest
	return source, nil
}

func (d *FileSystemPluginDiscovery) locate(name string) (string, error) {
	if err := plugindomain.ValidateName(name); err != nil {
		return "", err
	}
	for _, ext := range []string{".js", ".cjs", ".lua"} {
		path := filepath.Join(d.directory, name+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPluginFileNotFound, name)
}

func (d *FileSystemPluginDiscovery) readSource(path string) (plugindomain.PluginSource, error) {
	runtime, ok := plugindomain.RuntimeForFile(path)
	if !ok {
		return plugindomain.PluginSource{}, fmt.Errorf("unsupported plugin file type: %s", filepath.Base(path))
	}
	name := extractPluginNameFromPath(path)
	if err := plugindomain.ValidateName(name); err != nil {
		return plugindomain.PluginSource{}, err
	}
	code, err := d.validator.Read(path)
	if err != nil {
		return plugindomain.PluginSource{}, err
	}
	return plugindomain.PluginSource{Name: name, Path: path, Runtime: runtime, Code: code}, nil
}

func (d *FileSystemPluginDiscovery) log(level ports.LogLevel, msg string, fields map[string]interface{}) {
	if d.logger != nil {
		d.logger.Log(level, msg, fields)
	}
}

// expandPath expands ~ to user home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// extractPluginNameFromPath extracts plugin name from file path
func extractPluginNameFromPath(pluginPath string) string {
	base := filepath.Base(pluginPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
