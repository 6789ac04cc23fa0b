package plugindomain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Runtime identifies the script engine a plugin is evaluated with.
type Runtime string

const (
	RuntimeJS  Runtime = "js"
	RuntimeLua Runtime = "lua"
)

// RuntimeForFile maps a plugin file name to its runtime by extension.
func RuntimeForFile(path string) (Runtime, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".cjs":
		return RuntimeJS, true
	case ".lua":
		return RuntimeLua, true
	default:
		return "", false
	}
}

// reservedNames collide with aggregate selectors and the direct source label.
var reservedNames = map[string]struct{}{
	"ALL":     {},
	"all":     {},
	"OpenAPI": {},
	"OPENAPI": {},
}

// ValidateName checks that name can key a plugin record.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}
	if _, reserved := reservedNames[name]; reserved {
		return fmt.Errorf("plugin name %q is reserved", name)
	}
	if strings.ContainsAny(name, "/\\\n\r") {
		return fmt.Errorf("plugin name %q contains invalid characters", name)
	}
	return nil
}

// PluginRecord is the parent-side bookkeeping entry for a loaded plugin.
// Created by load, mutated only by enable/disable, destroyed by unload.
type PluginRecord struct {
	Name         string     `json:"name"`
	SourceCode   string     `json:"-"`
	Runtime      Runtime    `json:"runtime"`
	LoadedAt     time.Time  `json:"loadedAt"`
	Capabilities Capability `json:"capabilities"`
	Enabled      bool       `json:"enabled"`
}

// Supports reports whether the plugin can service action.
func (r PluginRecord) Supports(action Action) bool {
	return r.Capabilities.Has(action)
}
