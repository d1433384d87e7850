package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/castpanel/internal/mixer"
	"github.com/audiolibrelab/castpanel/internal/panel"
)

// DefinitionsConfig holds the reusable channel definitions profiles
// reference.
type DefinitionsConfig struct {
	Channels []ChannelDefinition `mapstructure:"channels" yaml:"channels"`
}

// ChannelDefinition declares one mixer channel: identity, input device
// and its initial strip state including the processor chain.
type ChannelDefinition struct {
	ID         string                `mapstructure:"id" yaml:"id"`
	Name       string                `mapstructure:"name" yaml:"name"`
	Device     string                `mapstructure:"device" yaml:"device"`
	Gain       float64               `mapstructure:"gain" yaml:"gain"`
	Pan        float64               `mapstructure:"pan" yaml:"pan"`
	Processors []ProcessorDefinition `mapstructure:"processors" yaml:"processors"`
}

// ProcessorDefinition seeds one processor on a channel or the master bus.
type ProcessorDefinition struct {
	ID       string         `mapstructure:"id" yaml:"id"`
	Type     string         `mapstructure:"type" yaml:"type"`
	Enabled  *bool          `mapstructure:"enabled,omitempty" yaml:"enabled,omitempty"`
	PluginID string         `mapstructure:"plugin_id,omitempty" yaml:"plugin_id,omitempty"`
	Settings map[string]any `mapstructure:"settings,omitempty" yaml:"settings,omitempty"`
}

// ChannelReference points a profile at a channel definition, optionally
// overriding parts of it.
type ChannelReference struct {
	Ref    string   `mapstructure:"ref" yaml:"ref"`
	Gain   *float64 `mapstructure:"gain,omitempty" yaml:"gain,omitempty"`
	Pan    *float64 `mapstructure:"pan,omitempty" yaml:"pan,omitempty"`
	Device *string  `mapstructure:"device,omitempty" yaml:"device,omitempty"`
}

// PanelsConfig bounds how many panels may be open at once and which
// ones come up at startup.
type PanelsConfig struct {
	MaxPanels     int      `mapstructure:"max_panels" yaml:"max_panels"`
	Strategy      string   `mapstructure:"strategy" yaml:"strategy"`
	InitialPanels []string `mapstructure:"initial_panels" yaml:"initial_panels"`
}

// MasterConfig seeds the master bus.
type MasterConfig struct {
	Gain       float64               `mapstructure:"gain" yaml:"gain"`
	Processors []ProcessorDefinition `mapstructure:"processors" yaml:"processors"`
}

// PresetsConfig locates the preset store.
type PresetsConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PluginsConfig locates plugin manifest directories.
type PluginsConfig struct {
	ScanPaths []string `mapstructure:"scan_paths" yaml:"scan_paths"`
}

// GlobalsConfig carries settings shared by every profile.
type GlobalsConfig struct {
	Presets PresetsConfig `mapstructure:"presets" yaml:"presets"`
	Plugins PluginsConfig `mapstructure:"plugins" yaml:"plugins"`
}

// RootConfig is the on-disk shape: shared channel definitions plus
// named profiles, with active_config selecting one.
type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Definitions  *DefinitionsConfig        `mapstructure:"definitions" yaml:"definitions"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

// ConfigProfile is one named configuration referencing channel
// definitions.
type ConfigProfile struct {
	Channels []ChannelReference `mapstructure:"channels" yaml:"channels"`
	Panels   PanelsConfig       `mapstructure:"panels" yaml:"panels"`
	Master   MasterConfig       `mapstructure:"master" yaml:"master"`
}

// Config is a fully resolved configuration: references expanded,
// defaults applied.
type Config struct {
	Channels []ChannelDefinition `mapstructure:"channels" yaml:"channels"`
	Panels   PanelsConfig        `mapstructure:"panels" yaml:"panels"`
	Master   MasterConfig        `mapstructure:"master" yaml:"master"`
	Presets  PresetsConfig       `mapstructure:"presets" yaml:"presets"`
	Plugins  PluginsConfig       `mapstructure:"plugins" yaml:"plugins"`
}

// Default returns the built-in configuration used when no config file
// is present.
func Default() *Config {
	enabled := true
	return &Config{
		Channels: []ChannelDefinition{
			{
				ID: "mic", Name: "Microphone", Device: "default-mic", Gain: 75,
				Processors: []ProcessorDefinition{
					{ID: "mic-gate", Type: string(mixer.TypeGate), Enabled: &enabled},
					{ID: "mic-comp", Type: string(mixer.TypeCompressor), Enabled: &enabled},
				},
			},
			{ID: "desktop", Name: "Desktop Audio", Device: "desktop-loopback", Gain: 60},
			{ID: "music", Name: "Music Bed", Device: "music-player", Gain: 50},
			{ID: "aux", Name: "Aux Input", Device: "aux-line", Gain: 75},
		},
		Panels: PanelsConfig{
			MaxPanels:     panel.DefaultMaxPanels,
			Strategy:      string(panel.StrategyFIFO),
			InitialPanels: []string{string(panel.KindAudioMixer)},
		},
		Master: MasterConfig{
			Gain: 80,
			Processors: []ProcessorDefinition{
				{ID: "master-limiter", Type: string(mixer.TypeLimiter), Enabled: &enabled},
			},
		},
		Presets: PresetsConfig{
			Path: filepath.Join(os.Getenv("HOME"), ".local", "share", "castpanel", "presets.yaml"),
		},
	}
}

// LoadWithProfile loads and resolves the configuration file. An empty
// profile selects the file's active_config, falling back to "default".
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	selectedConfig, err := convertProfileToConfig(selectedProfile, rootConfig.Definitions)
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
	}

	// Non-channel settings missing from the selected profile fall back
	// to the default profile when one exists.
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			defaultConfig, err := convertProfileToConfig(defaultProfile, rootConfig.Definitions)
			if err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
			applyFallback(selectedConfig, defaultConfig)
		}
	}

	if rootConfig.Globals != nil {
		if rootConfig.Globals.Presets.Path != "" {
			selectedConfig.Presets.Path = rootConfig.Globals.Presets.Path
		}
		if len(rootConfig.Globals.Plugins.ScanPaths) > 0 {
			selectedConfig.Plugins.ScanPaths = rootConfig.Globals.Plugins.ScanPaths
		}
	}

	applyDefaults(selectedConfig)

	selectedConfig.Presets.Path = expandPath(selectedConfig.Presets.Path)
	for i, p := range selectedConfig.Plugins.ScanPaths {
		selectedConfig.Plugins.ScanPaths[i] = expandPath(p)
	}

	if err := validateResolved(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file.
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// A fresh viper instance avoids interfering with the global one.
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// convertProfileToConfig expands a profile's channel references against
// the shared definitions.
func convertProfileToConfig(profile *ConfigProfile, definitions *DefinitionsConfig) (*Config, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}

	config := &Config{
		Panels: profile.Panels,
		Master: profile.Master,
	}

	for i, chRef := range profile.Channels {
		if chRef.Ref == "" {
			return nil, fmt.Errorf("channels[%d]: 'ref' is required", i)
		}

		var definition *ChannelDefinition
		if definitions != nil {
			for _, def := range definitions.Channels {
				if def.ID == chRef.Ref {
					definition = &def
					break
				}
			}
		}
		if definition == nil {
			return nil, fmt.Errorf("channels[%d]: reference '%s' not found in definitions", i, chRef.Ref)
		}

		channel := *definition
		if chRef.Gain != nil {
			channel.Gain = *chRef.Gain
		}
		if chRef.Pan != nil {
			channel.Pan = *chRef.Pan
		}
		if chRef.Device != nil {
			channel.Device = *chRef.Device
		}

		config.Channels = append(config.Channels, channel)
	}

	return config, nil
}

// applyFallback fills non-channel settings the profile left unset from
// the resolved default profile.
func applyFallback(selected, fallback *Config) {
	if selected.Panels.MaxPanels == 0 {
		selected.Panels.MaxPanels = fallback.Panels.MaxPanels
	}
	if selected.Panels.Strategy == "" {
		selected.Panels.Strategy = fallback.Panels.Strategy
	}
	if selected.Panels.InitialPanels == nil {
		selected.Panels.InitialPanels = fallback.Panels.InitialPanels
	}
	if selected.Master.Gain == 0 {
		selected.Master.Gain = fallback.Master.Gain
	}
	if selected.Master.Processors == nil {
		selected.Master.Processors = fallback.Master.Processors
	}
}

// applyDefaults fills any remaining gaps with the built-in defaults.
func applyDefaults(cfg *Config) {
	builtin := Default()
	if cfg.Panels.MaxPanels == 0 {
		cfg.Panels.MaxPanels = builtin.Panels.MaxPanels
	}
	if cfg.Panels.Strategy == "" {
		cfg.Panels.Strategy = builtin.Panels.Strategy
	}
	if cfg.Master.Gain == 0 {
		cfg.Master.Gain = builtin.Master.Gain
	}
	if cfg.Presets.Path == "" {
		cfg.Presets.Path = builtin.Presets.Path
	}
	for i := range cfg.Channels {
		if cfg.Channels[i].Gain == 0 {
			cfg.Channels[i].Gain = mixer.DefaultChannelGain
		}
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ValidateConfigurationFormat validates the configuration file format
// and returns the parsed root config.
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("CASTPANEL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateDefinitions(rootConfig.Definitions); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}

	for configName, configProfile := range rootConfig.Configs {
		if err := validateProfile(configProfile, rootConfig.Definitions); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

func validateDefinitions(definitions *DefinitionsConfig) error {
	if definitions == nil {
		return fmt.Errorf("definitions section is required")
	}
	if len(definitions.Channels) == 0 {
		return fmt.Errorf("definitions.channels cannot be empty")
	}

	seenIDs := make(map[string]bool)
	for i, def := range definitions.Channels {
		if def.ID == "" {
			return fmt.Errorf("definitions.channels[%d]: 'id' is required", i)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("definitions.channels[%d]: duplicate ID '%s'", i, def.ID)
		}
		seenIDs[def.ID] = true

		if err := validateChannelDefinition(def, fmt.Sprintf("definitions.channels[%d]", i)); err != nil {
			return err
		}
	}

	return nil
}

func validateChannelDefinition(def ChannelDefinition, prefix string) error {
	if def.Name == "" {
		return fmt.Errorf("%s: 'name' is required", prefix)
	}
	if def.Gain < 0 || def.Gain > 100 {
		return fmt.Errorf("%s: 'gain' must be within 0-100, got: %.2f", prefix, def.Gain)
	}
	if def.Pan < -100 || def.Pan > 100 {
		return fmt.Errorf("%s: 'pan' must be within -100..100, got: %.2f", prefix, def.Pan)
	}

	seenIDs := make(map[string]bool)
	for j, proc := range def.Processors {
		procPrefix := fmt.Sprintf("%s.processors[%d]", prefix, j)
		if err := validateProcessorDefinition(proc, procPrefix); err != nil {
			return err
		}
		if seenIDs[proc.ID] {
			return fmt.Errorf("%s: duplicate processor ID '%s'", procPrefix, proc.ID)
		}
		seenIDs[proc.ID] = true
	}

	return nil
}

func validateProcessorDefinition(proc ProcessorDefinition, prefix string) error {
	if proc.ID == "" {
		return fmt.Errorf("%s: 'id' is required", prefix)
	}
	procType := mixer.ProcessorType(proc.Type)
	if !procType.Valid() {
		return fmt.Errorf("%s: unknown processor type '%s'", prefix, proc.Type)
	}
	if procType == mixer.TypePlugin && proc.PluginID == "" {
		return fmt.Errorf("%s: plugin processors require 'plugin_id'", prefix)
	}
	if procType != mixer.TypePlugin && proc.PluginID != "" {
		return fmt.Errorf("%s: 'plugin_id' is only valid on plugin processors", prefix)
	}
	return nil
}

func validateProfile(profile *ConfigProfile, definitions *DefinitionsConfig) error {
	for i, chRef := range profile.Channels {
		prefix := fmt.Sprintf("channels[%d]", i)

		if chRef.Ref == "" {
			return fmt.Errorf("%s: 'ref' is required", prefix)
		}

		found := false
		if definitions != nil {
			for _, def := range definitions.Channels {
				if def.ID == chRef.Ref {
					found = true
					break
				}
			}
		}
		if !found {
			return fmt.Errorf("%s: references undefined channel definition '%s'", prefix, chRef.Ref)
		}

		if chRef.Gain != nil && (*chRef.Gain < 0 || *chRef.Gain > 100) {
			return fmt.Errorf("%s: gain override must be within 0-100, got %.2f", prefix, *chRef.Gain)
		}
		if chRef.Pan != nil && (*chRef.Pan < -100 || *chRef.Pan > 100) {
			return fmt.Errorf("%s: pan override must be within -100..100, got %.2f", prefix, *chRef.Pan)
		}
	}

	return validatePanels(profile.Panels)
}

func validatePanels(panels PanelsConfig) error {
	if panels.MaxPanels < 0 {
		return fmt.Errorf("panels.max_panels must be >= 1, got %d", panels.MaxPanels)
	}
	if panels.Strategy != "" {
		s := panel.Strategy(panels.Strategy)
		if s != panel.StrategyFIFO && s != panel.StrategyLRU {
			return fmt.Errorf("panels.strategy must be 'fifo' or 'lru', got: %s", panels.Strategy)
		}
	}
	for i, name := range panels.InitialPanels {
		if !panel.Kind(name).Valid() {
			return fmt.Errorf("panels.initial_panels[%d]: unknown panel '%s'", i, name)
		}
	}
	return nil
}

// validateResolved checks the invariants a resolved config must satisfy.
func validateResolved(cfg *Config) error {
	if len(cfg.Channels) == 0 {
		return fmt.Errorf("resolved config must have at least one channel")
	}
	for i, ch := range cfg.Channels {
		if err := validateChannelDefinition(ch, fmt.Sprintf("channels[%d]", i)); err != nil {
			return err
		}
	}
	for j, proc := range cfg.Master.Processors {
		prefix := fmt.Sprintf("master.processors[%d]", j)
		if err := validateProcessorDefinition(proc, prefix); err != nil {
			return err
		}
	}
	return validatePanels(cfg.Panels)
}

// MixerChannels converts the configured channel definitions into the
// desk's channel model.
func (c *Config) MixerChannels() []mixer.Channel {
	channels := make([]mixer.Channel, len(c.Channels))
	for i, def := range c.Channels {
		channels[i] = mixer.Channel{
			ID:         def.ID,
			Name:       def.Name,
			DeviceID:   def.Device,
			Gain:       def.Gain,
			Pan:        def.Pan,
			Processors: convertProcessors(def.Processors),
		}
	}
	return channels
}

// MixerMaster converts the master bus configuration into the desk's
// master model.
func (c *Config) MixerMaster() mixer.Master {
	return mixer.Master{
		Gain:       c.Master.Gain,
		Processors: convertProcessors(c.Master.Processors),
	}
}

func convertProcessors(defs []ProcessorDefinition) []mixer.Processor {
	procs := make([]mixer.Processor, len(defs))
	for i, def := range defs {
		procType := mixer.ProcessorType(def.Type)
		settings := mixer.DefaultSettings(procType)
		if len(def.Settings) > 0 {
			settings = settings.Merge(mixer.NormalizeSettings(mixer.Settings(def.Settings)))
		}

		enabled := true
		if def.Enabled != nil {
			enabled = *def.Enabled
		}

		procs[i] = mixer.Processor{
			ID:       def.ID,
			Type:     procType,
			Enabled:  enabled,
			Settings: settings,
			PluginID: def.PluginID,
		}
	}
	return procs
}

// PanelOptions converts the panel configuration into manager options.
func (c *Config) PanelOptions() panel.Options {
	initial := make(map[panel.Kind]bool, len(c.Panels.InitialPanels))
	for _, name := range c.Panels.InitialPanels {
		initial[panel.Kind(name)] = true
	}
	return panel.Options{
		MaxPanels:     c.Panels.MaxPanels,
		Strategy:      panel.Strategy(c.Panels.Strategy),
		InitialPanels: initial,
	}
}
