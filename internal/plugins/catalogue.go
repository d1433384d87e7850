package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Parameter describes a single automatable plugin parameter.
type Parameter struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Value       float64 `json:"value" yaml:"value"`
	Min         float64 `json:"min" yaml:"min"`
	Max         float64 `json:"max" yaml:"max"`
	Unit        string  `json:"unit,omitempty" yaml:"unit,omitempty"`
	Automatable bool    `json:"automatable" yaml:"automatable"`
}

// Plugin is an external effect the mixer can insert into a channel. The
// parameter list is ordered as the plugin declares it.
type Plugin struct {
	ID         string      `json:"id" yaml:"id"`
	Name       string      `json:"name" yaml:"name"`
	Vendor     string      `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Version    string      `json:"version,omitempty" yaml:"version,omitempty"`
	Parameters []Parameter `json:"parameters" yaml:"parameters"`
}

func (p Plugin) clone() Plugin {
	params := make([]Parameter, len(p.Parameters))
	copy(params, p.Parameters)
	p.Parameters = params
	return p
}

// Catalogue is the plugin collaborator contract the mixer and the channel
// graph depend on.
type Catalogue interface {
	// Initialize scans the configured paths. Idempotent.
	Initialize(ctx context.Context) error

	// Plugins returns every known plugin, sorted by name.
	Plugins() []Plugin

	// LoadPlugin resolves a plugin id into a usable plugin reference.
	// Returns (nil, nil) when the id is unknown.
	LoadPlugin(ctx context.Context, id string) (*Plugin, error)

	// UpdateParameter sets a parameter value, reporting whether the
	// plugin and parameter were found and the value was in range.
	UpdateParameter(pluginID, paramID string, value float64) bool

	// AddScanPath registers an additional directory to scan for plugin
	// manifests on the next Initialize.
	AddScanPath(path string)
}

// Registry is a manifest-backed Catalogue. It scans directories for yaml
// plugin manifests and always carries a small built-in set so the mixer
// has something to offer on a fresh install.
type Registry struct {
	mu          sync.RWMutex
	scanPaths   []string
	plugins     map[string]*Plugin
	initialized bool
}

// NewRegistry creates a catalogue scanning the given paths.
func NewRegistry(scanPaths ...string) *Registry {
	return &Registry{
		scanPaths: append([]string(nil), scanPaths...),
		plugins:   make(map[string]*Plugin),
	}
}

// Initialize loads built-in plugins and scans every registered path for
// manifests. Calling it again rescans, which picks up manifests added
// since the last call.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	r.plugins = make(map[string]*Plugin)
	for _, p := range builtinPlugins() {
		plugin := p
		r.plugins[plugin.ID] = &plugin
	}

	for _, dir := range r.scanPaths {
		if err := r.scanDirLocked(dir); err != nil {
			return fmt.Errorf("failed to scan plugin path %s: %w", dir, err)
		}
	}

	r.initialized = true
	slog.Debug("Plugin catalogue initialized",
		"plugins", len(r.plugins), "scan_paths", len(r.scanPaths))
	return nil
}

func (r *Registry) scanDirLocked(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing scan paths are tolerated; operators often
			// configure them before installing anything.
			slog.Debug("Plugin scan path does not exist", "path", dir)
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Failed to read plugin manifest", "path", path, "error", err)
			continue
		}

		var plugin Plugin
		if err := yaml.Unmarshal(data, &plugin); err != nil {
			slog.Warn("Failed to parse plugin manifest", "path", path, "error", err)
			continue
		}
		if plugin.ID == "" || plugin.Name == "" {
			slog.Warn("Plugin manifest missing id or name", "path", path)
			continue
		}

		r.plugins[plugin.ID] = &plugin
	}

	return nil
}

// Plugins returns every known plugin sorted by name.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadPlugin resolves id into a plugin reference. Unknown ids return
// (nil, nil); the caller decides whether that is worth surfacing.
func (r *Registry) LoadPlugin(ctx context.Context, id string) (*Plugin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized {
		return nil, fmt.Errorf("plugin catalogue not initialized")
	}

	p, ok := r.plugins[id]
	if !ok {
		slog.Debug("Plugin not found in catalogue", "plugin", id)
		return nil, nil
	}
	loaded := p.clone()
	return &loaded, nil
}

// UpdateParameter sets a plugin parameter, clamping nothing: out-of-range
// values are rejected instead.
func (r *Registry) UpdateParameter(pluginID, paramID string, value float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plugins[pluginID]
	if !ok {
		slog.Debug("Parameter update for unknown plugin", "plugin", pluginID)
		return false
	}
	for i := range p.Parameters {
		if p.Parameters[i].ID != paramID {
			continue
		}
		if value < p.Parameters[i].Min || value > p.Parameters[i].Max {
			slog.Debug("Parameter value out of range",
				"plugin", pluginID, "parameter", paramID, "value", value)
			return false
		}
		p.Parameters[i].Value = value
		return true
	}

	slog.Debug("Parameter not found on plugin", "plugin", pluginID, "parameter", paramID)
	return false
}

// AddScanPath registers dir for the next Initialize. Duplicates are
// ignored.
func (r *Registry) AddScanPath(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.scanPaths {
		if existing == dir {
			return
		}
	}
	r.scanPaths = append(r.scanPaths, dir)
}

// builtinPlugins returns the plugins shipped with the application.
func builtinPlugins() []Plugin {
	return []Plugin{
		{
			ID:      "builtin.warmth",
			Name:    "Warmth",
			Vendor:  "AudioLibreLab",
			Version: "1.0",
			Parameters: []Parameter{
				{ID: "drive", Name: "Drive", Value: 2.0, Min: 0, Max: 10, Automatable: true},
				{ID: "tone", Name: "Tone", Value: 0.5, Min: 0, Max: 1, Automatable: true},
				{ID: "mix", Name: "Mix", Value: 1.0, Min: 0, Max: 1, Automatable: true},
			},
		},
		{
			ID:      "builtin.voicegate",
			Name:    "VoiceGate",
			Vendor:  "AudioLibreLab",
			Version: "1.2",
			Parameters: []Parameter{
				{ID: "threshold", Name: "Threshold", Value: -42, Min: -80, Max: 0, Unit: "dB", Automatable: true},
				{ID: "hold", Name: "Hold", Value: 120, Min: 0, Max: 1000, Unit: "ms", Automatable: false},
			},
		},
		{
			ID:      "builtin.stereotool",
			Name:    "StereoTool",
			Vendor:  "AudioLibreLab",
			Version: "0.9",
			Parameters: []Parameter{
				{ID: "width", Name: "Width", Value: 1.0, Min: 0, Max: 2, Automatable: true},
			},
		},
	}
}
