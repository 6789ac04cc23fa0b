package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stretchr/testify/mock"

	"songhost.dev/cli/internal/application/ports"
	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
)

// Mock implementations

type MockHostGateway struct {
	mock.Mock

	mu    sync.Mutex
	hooks []func(ctx context.Context)
}

func (m *MockHostGateway) Load(ctx context.Context, name string, runtime plugindomain.Runtime, source string) (plugindomain.Capability, error) {
	args := m.Called(ctx, name, runtime, source)
	return args.Get(0).(plugindomain.Capability), args.Error(1)
}

func (m *MockHostGateway) Unload(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockHostGateway) Call(ctx context.Context, name string, action plugindomain.Action, a plugindomain.Args) (json.RawMessage, error) {
	args := m.Called(ctx, name, action, a)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockHostGateway) Ping(ctx context.Context) (ports.HostStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(ports.HostStatus), args.Error(1)
}

// OnRestart records hooks without going through the mock so constructors
// need no expectation.
func (m *MockHostGateway) OnRestart(hook func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

func (m *MockHostGateway) Close() error {
	args := m.Called()
	return args.Error(0)
}

// restart runs the registered hooks the way a respawned host would.
func (m *MockHostGateway) restart(ctx context.Context) {
	m.mu.Lock()
	hooks := append([]func(context.Context){}, m.hooks...)
	m.mu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}
}

type MockSourceRepository struct {
	mock.Mock
}

func (m *MockSourceRepository) Discover(ctx context.Context) ([]plugindomain.PluginSource, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]plugindomain.PluginSource), args.Error(1)
}

func (m *MockSourceRepository) Get(name string) (plugindomain.PluginSource, error) {
	args := m.Called(name)
	return args.Get(0).(plugindomain.PluginSource), args.Error(1)
}

func (m *MockSourceRepository) Delete(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

func (m *MockSourceRepository) Install(path string) (plugindomain.PluginSource, error) {
	args := m.Called(path)
	return args.Get(0).(plugindomain.PluginSource), args.Error(1)
}

// memoryConfigStore is an in-memory PluginConfigStore with the same
// ordering rules as the file store.
type memoryConfigStore struct {
	mu  sync.Mutex
	cfg plugindomain.PluginsConfig
	err error
}

func (s *memoryConfigStore) Get() (plugindomain.PluginsConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg
	cfg.EnabledPlugins = append([]string(nil), s.cfg.EnabledPlugins...)
	cfg.PluginsInfo = append([]plugindomain.PluginInfo(nil), s.cfg.PluginsInfo...)
	return cfg, s.err
}

func (s *memoryConfigStore) Register(name, file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cfg.Info(name); !ok {
		s.cfg.PluginsInfo = append(s.cfg.PluginsInfo, plugindomain.PluginInfo{Name: name, File: file})
	}
	return nil
}

func (s *memoryConfigStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.EnabledPlugins = remove(s.cfg.EnabledPlugins, name)
	if enabled {
		s.cfg.EnabledPlugins = append([]string{name}, s.cfg.EnabledPlugins...)
	}
	return nil
}

func (s *memoryConfigStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.EnabledPlugins = remove(s.cfg.EnabledPlugins, name)
	var infos []plugindomain.PluginInfo
	for _, info := range s.cfg.PluginsInfo {
		if info.Name != name {
			infos = append(infos, info)
		}
	}
	s.cfg.PluginsInfo = infos
	return nil
}

func (s *memoryConfigStore) SetOpenAPI(info plugindomain.OpenAPIInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.OpenAPI = info
	return nil
}

type MockDirectSource struct {
	mock.Mock
}

func (m *MockDirectSource) Search(ctx context.Context, query string, limit int) ([]map[string]interface{}, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]map[string]interface{}), args.Error(1)
}
