package configinfra

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	configdomain "songhost.dev/cli/internal/core/domain/config"
	configports "songhost.dev/cli/internal/core/ports/config"
)

// FileLoader reads the config file (priority 3) and .env files
// (priority 4).
type FileLoader struct {
	configPaths []string
	envDirs     []string
}

// DefaultConfigDir is where songhost keeps its files.
func DefaultConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "songhost")
}

// NewFileLoader searches the default locations: config.yaml, config.yml or
// config.json in the config directory, .env in the working and config
// directories. explicit, when set, replaces the config file search.
func NewFileLoader(explicit string) *FileLoader {
	dir := DefaultConfigDir()
	workDir, _ := os.Getwd()
	paths := []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.yml"),
		filepath.Join(dir, "config.json"),
	}
	if explicit != "" {
		paths = []string{explicit}
	}
	return &FileLoader{configPaths: paths, envDirs: []string{workDir, dir}}
}

// NewFileLoaderWithPaths uses exactly the given locations.
func NewFileLoaderWithPaths(configPaths, envDirs []string) *FileLoader {
	return &FileLoader{configPaths: configPaths, envDirs: envDirs}
}

func (l *FileLoader) Name() string { return "filesystem" }

func (l *FileLoader) Load(ctx context.Context) (configdomain.Snapshot, error) {
	snap := make(configdomain.Snapshot)
	var errs []error

	for _, dir := range l.envDirs {
		if dir == "" {
			continue
		}
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := l.loadEnvFile(envPath, snap); err != nil {
				errs = append(errs, err)
			}
		}
	}

	for _, path := range l.configPaths {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read config file: %w", err))
			break
		}
		if err := l.loadConfigFile(path, data, snap); err != nil {
			errs = append(errs, err)
		}
		break
	}

	return snap, errors.Join(errs...)
}

// loadConfigFile decodes YAML or JSON; JSON is valid YAML.
func (l *FileLoader) loadConfigFile(path string, data []byte, snap configdomain.Snapshot) error {
	var kv map[string]interface{}
	if err := yaml.Unmarshal(data, &kv); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []error
	for key, raw := range kv {
		f, ok := configdomain.LookupField(key)
		if !ok {
			continue
		}
		v, err := f.Coerce(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		snap[key] = configdomain.Entry{Key: key, Value: v, Source: "file", SourcePath: path, Priority: configdomain.PriorityFile}
	}
	return errors.Join(errs...)
}

func (l *FileLoader) loadEnvFile(path string, snap configdomain.Snapshot) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var errs []error
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		f, ok := configdomain.LookupEnv(key)
		if !ok {
			continue
		}
		// the working directory's .env wins over the config directory's
		if _, seen := snap[f.Key]; seen {
			continue
		}
		v, err := f.Parse(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		snap[f.Key] = configdomain.Entry{Key: f.Key, Value: v, Source: "dotenv", SourcePath: fmt.Sprintf("%s:%s", path, key), Priority: configdomain.PriorityDotEnv}
	}
	return errors.Join(errs...)
}

var _ configports.Loader = (*FileLoader)(nil)
