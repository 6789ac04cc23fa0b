package plugininfra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"songhost.dev/cli/internal/application/ports"
	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
)

// ConfigFileName is the persisted plugin table inside the config directory.
const ConfigFileName = "plugins-config.json"

const emptyConfig = `{"enabled_plugins":[],"plugins_info":[],"openapi_info":{"enabled":false,"search_url":""}}`

// ConfigFileStore keeps the plugin table in a JSON file. Keys it does not
// manage are preserved on every write.
type ConfigFileStore struct {
	filePath string
	mu       sync.Mutex
}

// NewConfigFileStore creates a store backed by path.
func NewConfigFileStore(path string) *ConfigFileStore {
	return &ConfigFileStore{filePath: path}
}

var _ ports.PluginConfigStore = (*ConfigFileStore)(nil)

// Path returns the backing file.
func (s *ConfigFileStore) Path() string {
	return s.filePath
}

// Get reads the configuration; a missing file is an empty configuration.
func (s *ConfigFileStore) Get() (plugindomain.PluginsConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.read()
	if err != nil {
		return plugindomain.PluginsConfig{}, err
	}
	return decodeConfig(data), nil
}

// decodeConfig reads the managed keys leniently: wrong-typed entries are
// skipped rather than failing the whole file.
func decodeConfig(data []byte) plugindomain.PluginsConfig {
	cfg := plugindomain.PluginsConfig{
		EnabledPlugins: []string{},
		PluginsInfo:    []plugindomain.PluginInfo{},
	}
	gjson.GetBytes(data, "enabled_plugins").ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String && v.Str != "" {
			cfg.EnabledPlugins = append(cfg.EnabledPlugins, v.Str)
		}
		return true
	})
	gjson.GetBytes(data, "plugins_info").ForEach(func(_, v gjson.Result) bool {
		name := v.Get("name").String()
		if name == "" {
			return true
		}
		cfg.PluginsInfo = append(cfg.PluginsInfo, plugindomain.PluginInfo{
			Name:    name,
			File:    v.Get("file").String(),
			Enabled: v.Get("enabled").Bool(),
		})
		return true
	})
	openapi := gjson.GetBytes(data, "openapi_info")
	cfg.OpenAPI = plugindomain.OpenAPIInfo{
		Enabled:   openapi.Get("enabled").Bool(),
		SearchURL: openapi.Get("search_url").String(),
	}
	return cfg
}

// Register records name with its file. An existing entry keeps its
// enabled state.
func (s *ConfigFileStore) Register(name, file string) error {
	if err := plugindomain.ValidateName(name); err != nil {
		return err
	}
	return s.update(func(data []byte, cfg plugindomain.PluginsConfig) ([]byte, error) {
		for i, info := range cfg.PluginsInfo {
			if info.Name == name {
				if info.File == file {
					return data, nil
				}
				cfg.PluginsInfo[i].File = file
				return setInfo(data, cfg.PluginsInfo)
			}
		}
		return setInfo(data, append(cfg.PluginsInfo, plugindomain.PluginInfo{Name: name, File: file}))
	})
}

// SetEnabled moves name to the front of the priority order, or removes
// it from the order.
func (s *ConfigFileStore) SetEnabled(name string, enabled bool) error {
	if err := plugindomain.ValidateName(name); err != nil {
		return err
	}
	return s.update(func(data []byte, cfg plugindomain.PluginsConfig) ([]byte, error) {
		order := without(cfg.EnabledPlugins, name)
		if enabled {
			order = append([]string{name}, order...)
		}
		data, err := sjson.SetBytes(data, "enabled_plugins", order)
		if err != nil {
			return nil, err
		}
		found := false
		for i := range cfg.PluginsInfo {
			if cfg.PluginsInfo[i].Name == name {
				cfg.PluginsInfo[i].Enabled = enabled
				found = true
			}
		}
		if !found {
			cfg.PluginsInfo = append(cfg.PluginsInfo, plugindomain.PluginInfo{Name: name, Enabled: enabled})
		}
		return setInfo(data, cfg.PluginsInfo)
	})
}

// Remove deletes name from the order and the table.
func (s *ConfigFileStore) Remove(name string) error {
	return s.update(func(data []byte, cfg plugindomain.PluginsConfig) ([]byte, error) {
		data, err := sjson.SetBytes(data, "enabled_plugins", without(cfg.EnabledPlugins, name))
		if err != nil {
			return nil, err
		}
		kept := cfg.PluginsInfo[:0]
		for _, info := range cfg.PluginsInfo {
			if info.Name != name {
				kept = append(kept, info)
			}
		}
		return setInfo(data, kept)
	})
}

// SetOpenAPI replaces the direct source settings.
func (s *ConfigFileStore) SetOpenAPI(info plugindomain.OpenAPIInfo) error {
	return s.update(func(data []byte, _ plugindomain.PluginsConfig) ([]byte, error) {
		data, err := sjson.SetBytes(data, "openapi_info.enabled", info.Enabled)
		if err != nil {
			return nil, err
		}
		return sjson.SetBytes(data, "openapi_info.search_url", info.SearchURL)
	})
}

func (s *ConfigFileStore) update(fn func([]byte, plugindomain.PluginsConfig) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	out, err := fn(data, decodeConfig(data))
	if err != nil {
		return fmt.Errorf("failed to update plugin config: %w", err)
	}
	return s.write(out)
}

func (s *ConfigFileStore) read() ([]byte, error) {
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return []byte(emptyConfig), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin config: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to parse plugin config %s: invalid JSON", s.filePath)
	}
	return data, nil
}

// write replaces the file atomically.
func (s *ConfigFileStore) write(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write plugin config: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to save plugin config: %w", err)
	}
	return nil
}

func setInfo(data []byte, infos []plugindomain.PluginInfo) ([]byte, error) {
	raw, err := json.Marshal(infos)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(data, "plugins_info", raw)
}

func without(names []string, name string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
