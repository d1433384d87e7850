package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-audio/audio"

	"github.com/audiolibrelab/castpanel/internal/config"
	"github.com/audiolibrelab/castpanel/internal/graph"
	"github.com/audiolibrelab/castpanel/internal/mixer"
	"github.com/audiolibrelab/castpanel/internal/panel"
	"github.com/audiolibrelab/castpanel/internal/plugins"
)

// Service represents the core castpanel control surface interface
type Service interface {
	// Lifecycle operations
	Start(ctx context.Context) error
	Stop()
	Running() bool

	// Panel operations
	OpenPanel(kind string) error
	OpenPanelExclusive(kind string) error
	ClosePanel(kind string) error
	TogglePanel(kind string) error
	FocusPanel(kind string) error
	PanelStates() []PanelState

	// Mixer operations
	Channels() []mixer.Channel
	MasterBus() mixer.Master
	AddChannel(ctx context.Context, channel mixer.Channel) (mixer.Channel, error)
	SetChannelGain(channelID string, gain float64)
	SetChannelPan(channelID string, pan float64)
	ToggleChannelMute(channelID string) (bool, bool)
	ToggleChannelSolo(channelID string) (bool, bool)
	SetProcessorSettings(channelID, processorID string, delta mixer.Settings)
	ToggleProcessor(channelID, processorID string)
	AddProcessor(channelID, procType string) (mixer.Processor, error)
	RemoveProcessor(channelID, processorID string)
	SelectChannel(channelID string)
	SelectProcessor(processorID string)
	Selection() (channelID, processorID string)

	// Preset operations
	ListPresets() []mixer.Preset
	SavePreset(name string) (mixer.Preset, error)
	ApplyPreset(presetID string) error
	DeletePreset(presetID string) error

	// Plugin operations
	ListPlugins() []plugins.Plugin
	PickPlugin(ctx context.Context, pluginID string) (mixer.Processor, error)
	SetPluginParameter(pluginID, paramID string, value float64) error

	// Meter operations
	ChannelMeter(channelID string) *audio.FloatBuffer
	MasterMeter() *audio.FloatBuffer

	// Configuration operations
	LoadProfile(ctx context.Context, profile string) error
	GetConfig() *config.Config
	GetLastError() string
}

// PanelState is one panel's visibility snapshot for API consumers
type PanelState struct {
	Kind       string `json:"kind"`
	Open       bool   `json:"open"`
	OpenedAt   int64  `json:"opened_at,omitempty"`
	LastUsedAt int64  `json:"last_used_at,omitempty"`
}

// CastpanelService is the main service implementation
type CastpanelService struct {
	mu         sync.Mutex
	cfg        *config.Config
	configFile string

	desk       *mixer.Desk
	controller *mixer.Controller
	presets    *mixer.PresetStore
	catalogue  *plugins.Registry
	runtime    *graph.Runtime
	panels     *panel.Manager

	running bool

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a new castpanel service instance
func New(cfg *config.Config, configFile string) (Service, error) {
	s := &CastpanelService{
		cfg:        cfg,
		configFile: configFile,
	}
	if err := s.build(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// build wires the desk, controller, graph runtime and panel manager
// from a resolved configuration. Caller holds s.mu when rebuilding.
func (s *CastpanelService) build(cfg *config.Config) error {
	panels, err := panel.NewManager(cfg.PanelOptions())
	if err != nil {
		return fmt.Errorf("failed to create panel manager: %w", err)
	}

	s.cfg = cfg
	s.desk = mixer.NewDesk(cfg.MixerChannels(), cfg.MixerMaster())
	s.presets = mixer.NewPresetStore(cfg.Presets.Path)
	s.catalogue = plugins.NewRegistry(cfg.Plugins.ScanPaths...)
	s.runtime = graph.NewRuntime(s.catalogue)
	s.controller = mixer.NewController(s.desk, s.presets, s.onSettingsChanged)
	s.panels = panels
	return nil
}

// LoadProfile swaps every component under s.mu. Readers go through
// these accessors so an in-flight request keeps one coherent build
// instead of mixing old and new pointers.
func (s *CastpanelService) getDesk() *mixer.Desk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desk
}

func (s *CastpanelService) getController() *mixer.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controller
}

func (s *CastpanelService) getRuntime() *graph.Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime
}

func (s *CastpanelService) getPanels() *panel.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panels
}

func (s *CastpanelService) getPresets() *mixer.PresetStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presets
}

func (s *CastpanelService) getCatalogue() *plugins.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalogue
}

// onSettingsChanged forwards desk state changes to the live graph.
// Processor parameter deltas stay on the desk model; the graph realizes
// them on the next processor creation.
func (s *CastpanelService) onSettingsChanged(targetID, subTargetID string, delta mixer.Settings) {
	runtime := s.getRuntime()

	switch subTargetID {
	case "gain":
		gain, ok := delta["gain"].(float64)
		if !ok {
			return
		}
		if targetID == mixer.MasterID {
			runtime.SetMasterGain(gain)
		} else {
			runtime.SetChannelGain(targetID, gain)
		}
	case "mute":
		if muted, ok := delta["muted"].(bool); ok {
			runtime.SetChannelMute(targetID, muted)
		}
	case "channel":
		// A channel preset replaced the whole strip, re-sync the graph
		// from the desk state.
		if ch, ok := s.getDesk().Channel(targetID); ok {
			runtime.SetChannelGain(targetID, ch.Gain)
			runtime.SetChannelMute(targetID, ch.Muted)
		}
	}
}

// Start initializes the plugin catalogue and the audio graph, then
// realizes every configured channel.
func (s *CastpanelService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.clearLastError()

	if err := s.presets.Load(); err != nil {
		slog.Error("Service.Start preset load failed", "error", err)
		s.setLastError(fmt.Sprintf("Failed to load presets: %v", err))
		return err
	}

	if err := s.catalogue.Initialize(ctx); err != nil {
		slog.Error("Service.Start catalogue init failed", "error", err)
		s.setLastError(fmt.Sprintf("Failed to initialize plugin catalogue: %v", err))
		return err
	}

	if err := s.runtime.Initialize(ctx); err != nil {
		slog.Error("Service.Start graph init failed", "error", err)
		s.setLastError(fmt.Sprintf("Failed to initialize audio graph: %v", err))
		return err
	}

	s.runtime.SetMasterGain(s.desk.Master().Gain)
	for _, ch := range s.desk.Channels() {
		if err := s.runtime.CreateChannel(ctx, ch); err != nil {
			slog.Error("Service.Start channel create failed", "channel_id", ch.ID, "error", err)
			s.setLastError(fmt.Sprintf("Failed to create channel %s: %v", ch.ID, err))
			return err
		}
	}

	s.running = true
	slog.Info("Service started", "channels", len(s.desk.Channels()), "plugins", len(s.catalogue.Plugins()))
	return nil
}

// Stop tears the audio graph down. Safe to call repeatedly.
func (s *CastpanelService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.runtime.Dispose()
	s.running = false
	slog.Info("Service stopped")
}

// Running reports whether the graph is live.
func (s *CastpanelService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ===== PANEL SERVICE METHODS =====

func (s *CastpanelService) panelKind(kind string) (panel.Kind, error) {
	k := panel.Kind(kind)
	if !k.Valid() {
		return "", fmt.Errorf("unknown panel kind: %s", kind)
	}
	return k, nil
}

// OpenPanel makes a panel visible, evicting another if at capacity.
func (s *CastpanelService) OpenPanel(kind string) error {
	k, err := s.panelKind(kind)
	if err != nil {
		return err
	}
	s.getPanels().Open(k)
	return nil
}

// OpenPanelExclusive makes a panel the only visible one.
func (s *CastpanelService) OpenPanelExclusive(kind string) error {
	k, err := s.panelKind(kind)
	if err != nil {
		return err
	}
	s.getPanels().OpenExclusive(k)
	return nil
}

// ClosePanel hides a panel.
func (s *CastpanelService) ClosePanel(kind string) error {
	k, err := s.panelKind(kind)
	if err != nil {
		return err
	}
	s.getPanels().Close(k)
	return nil
}

// TogglePanel flips a panel's visibility.
func (s *CastpanelService) TogglePanel(kind string) error {
	k, err := s.panelKind(kind)
	if err != nil {
		return err
	}
	s.getPanels().Toggle(k)
	return nil
}

// FocusPanel marks an open panel as most recently used.
func (s *CastpanelService) FocusPanel(kind string) error {
	k, err := s.panelKind(kind)
	if err != nil {
		return err
	}
	s.getPanels().Focus(k)
	return nil
}

// PanelStates returns the visibility snapshot for every known panel in
// declaration order.
func (s *CastpanelService) PanelStates() []PanelState {
	snapshot := s.getPanels().Snapshot()

	states := make([]PanelState, 0, len(snapshot))
	for _, kind := range panel.AllKinds() {
		slot := snapshot[kind]
		state := PanelState{Kind: string(kind), Open: slot.Open}
		if slot.Open {
			state.OpenedAt = slot.OpenedAt.UnixMilli()
			state.LastUsedAt = slot.LastUsedAt.UnixMilli()
		}
		states = append(states, state)
	}
	return states
}

// ===== MIXER SERVICE METHODS =====

// Channels returns the current desk channel strips.
func (s *CastpanelService) Channels() []mixer.Channel {
	return s.getDesk().Channels()
}

// MasterBus returns the master bus state.
func (s *CastpanelService) MasterBus() mixer.Master {
	return s.getDesk().Master()
}

// AddChannel appends a new channel strip to the desk and realizes it in
// the live graph.
func (s *CastpanelService) AddChannel(ctx context.Context, channel mixer.Channel) (mixer.Channel, error) {
	if channel.ID == "" {
		return mixer.Channel{}, fmt.Errorf("channel id is required")
	}
	if channel.ID == mixer.MasterID {
		return mixer.Channel{}, fmt.Errorf("channel id '%s' is reserved", mixer.MasterID)
	}

	s.mu.Lock()
	desk, runtime := s.desk, s.runtime
	s.mu.Unlock()

	if _, exists := desk.Channel(channel.ID); exists {
		return mixer.Channel{}, fmt.Errorf("channel already exists: %s", channel.ID)
	}

	desk.AddChannel(channel)
	added, _ := desk.Channel(channel.ID)

	if err := runtime.CreateChannel(ctx, added); err != nil {
		slog.Warn("Channel added to desk but graph realization failed",
			"channel_id", channel.ID, "error", err)
	}
	return added, nil
}

// SetChannelGain updates a channel fader, "master" targets the bus.
func (s *CastpanelService) SetChannelGain(channelID string, gain float64) {
	s.getController().SetChannelGain(channelID, gain)
}

// SetChannelPan updates a channel's stereo position.
func (s *CastpanelService) SetChannelPan(channelID string, pan float64) {
	s.getController().SetChannelPan(channelID, pan)
}

// ToggleChannelMute flips a channel's mute state.
func (s *CastpanelService) ToggleChannelMute(channelID string) (bool, bool) {
	return s.getController().ToggleChannelMute(channelID)
}

// ToggleChannelSolo flips a channel's solo state.
func (s *CastpanelService) ToggleChannelSolo(channelID string) (bool, bool) {
	return s.getController().ToggleChannelSolo(channelID)
}

// SetProcessorSettings merges a parameter delta into a processor.
func (s *CastpanelService) SetProcessorSettings(channelID, processorID string, delta mixer.Settings) {
	s.getController().SetProcessorSettings(channelID, processorID, delta)
}

// ToggleProcessor flips a processor's bypass state.
func (s *CastpanelService) ToggleProcessor(channelID, processorID string) {
	s.getController().ToggleProcessor(channelID, processorID)
}

// AddProcessor appends a processor to a channel strip and realizes it
// in the live graph.
func (s *CastpanelService) AddProcessor(channelID, procType string) (mixer.Processor, error) {
	t := mixer.ProcessorType(procType)
	if !t.Valid() {
		return mixer.Processor{}, fmt.Errorf("unknown processor type: %s", procType)
	}

	s.mu.Lock()
	controller, runtime := s.controller, s.runtime
	s.mu.Unlock()

	proc, ok := controller.AddProcessor(channelID, t)
	if !ok {
		return mixer.Processor{}, fmt.Errorf("channel not found: %s", channelID)
	}

	if err := runtime.CreateProcessor(context.Background(), channelID, proc); err != nil {
		slog.Warn("Processor added to desk but graph realization failed",
			"channel_id", channelID, "processor_id", proc.ID, "error", err)
	}
	return proc, nil
}

// RemoveProcessor removes a processor from a channel strip.
func (s *CastpanelService) RemoveProcessor(channelID, processorID string) {
	s.getController().RemoveProcessor(channelID, processorID)
}

// SelectChannel sets the channel the control surface is focused on.
func (s *CastpanelService) SelectChannel(channelID string) {
	s.getController().SelectChannel(channelID)
}

// SelectProcessor sets the processor the control surface is focused on.
func (s *CastpanelService) SelectProcessor(processorID string) {
	s.getController().SelectProcessor(processorID)
}

// Selection returns the current channel and processor selection.
func (s *CastpanelService) Selection() (string, string) {
	return s.getController().Selection()
}

// ===== PRESET SERVICE METHODS =====

// ListPresets returns all saved presets.
func (s *CastpanelService) ListPresets() []mixer.Preset {
	return s.getPresets().List()
}

// SavePreset snapshots the current selection into a named preset.
func (s *CastpanelService) SavePreset(name string) (mixer.Preset, error) {
	preset, ok := s.getController().SavePreset(name)
	if !ok {
		return mixer.Preset{}, fmt.Errorf("nothing selected to save")
	}
	return preset, nil
}

// ApplyPreset applies a saved preset to the current selection.
func (s *CastpanelService) ApplyPreset(presetID string) error {
	s.mu.Lock()
	controller, presets := s.controller, s.presets
	s.mu.Unlock()

	if _, exists := presets.Get(presetID); !exists {
		return fmt.Errorf("preset not found: %s", presetID)
	}
	if !controller.ApplyPreset(presetID) {
		return fmt.Errorf("preset %s does not match the current selection", presetID)
	}
	return nil
}

// DeletePreset removes a saved preset.
func (s *CastpanelService) DeletePreset(presetID string) error {
	removed, err := s.getPresets().Remove(presetID)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to delete preset %s: %v", presetID, err))
		return err
	}
	if !removed {
		return fmt.Errorf("preset not found: %s", presetID)
	}
	return nil
}

// ===== PLUGIN SERVICE METHODS =====

// ListPlugins returns the catalogue contents.
func (s *CastpanelService) ListPlugins() []plugins.Plugin {
	return s.getCatalogue().Plugins()
}

// PickPlugin loads a plugin and inserts it on the selected channel.
func (s *CastpanelService) PickPlugin(ctx context.Context, pluginID string) (mixer.Processor, error) {
	s.mu.Lock()
	catalogue, controller, runtime := s.catalogue, s.controller, s.runtime
	s.mu.Unlock()

	plugin, err := catalogue.LoadPlugin(ctx, pluginID)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to load plugin %s: %v", pluginID, err))
		return mixer.Processor{}, fmt.Errorf("failed to load plugin %s: %w", pluginID, err)
	}
	if plugin == nil {
		return mixer.Processor{}, fmt.Errorf("plugin not found: %s", pluginID)
	}

	proc, ok := controller.PickPlugin(*plugin)
	if !ok {
		return mixer.Processor{}, fmt.Errorf("no channel selected")
	}

	channelID, _ := controller.Selection()
	if err := runtime.CreateProcessor(ctx, channelID, proc); err != nil {
		slog.Warn("Plugin inserted on desk but graph realization failed",
			"channel_id", channelID, "plugin_id", pluginID, "error", err)
	}
	return proc, nil
}

// SetPluginParameter updates one plugin parameter in the catalogue.
func (s *CastpanelService) SetPluginParameter(pluginID, paramID string, value float64) error {
	if !s.getCatalogue().UpdateParameter(pluginID, paramID, value) {
		return fmt.Errorf("plugin parameter not found or out of range: %s/%s", pluginID, paramID)
	}
	return nil
}

// ===== METER SERVICE METHODS =====

// ChannelMeter returns the latest analysis window for a channel, nil
// when the channel does not exist or the graph is down.
func (s *CastpanelService) ChannelMeter(channelID string) *audio.FloatBuffer {
	return s.getRuntime().ChannelMeter(channelID)
}

// MasterMeter returns the latest analysis window for the master bus.
func (s *CastpanelService) MasterMeter() *audio.FloatBuffer {
	return s.getRuntime().MasterMeter()
}

// ===== CONFIGURATION SERVICE METHODS =====

// LoadProfile switches to another configuration profile, rebuilding the
// desk and the graph.
func (s *CastpanelService) LoadProfile(ctx context.Context, profile string) error {
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	s.mu.Lock()
	wasRunning := s.running
	s.runtime.Dispose()
	s.running = false
	if err := s.build(newCfg); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if wasRunning {
		return s.Start(ctx)
	}
	return nil
}

// GetConfig returns the current configuration
func (s *CastpanelService) GetConfig() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// GetLastError returns the last error message (thread-safe)
func (s *CastpanelService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *CastpanelService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *CastpanelService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
