package mixer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/castpanel/internal/plugins"
)

// SettingsChangedFunc receives every externally observable mixer change.
// targetID is a channel id or MasterID; subTargetID is "gain", "mute",
// "pan", "solo" or a processor id; delta carries the changed fields.
// Fire-and-forget, the return value is not consumed.
type SettingsChangedFunc func(targetID, subTargetID string, delta Settings)

// Controller translates discrete user gestures into desk updates and an
// outward settings-changed notification. It also tracks the current
// channel/processor selection driving preset save and apply.
type Controller struct {
	mu       sync.Mutex
	desk     *Desk
	presets  *PresetStore
	onChange SettingsChangedFunc

	selectedChannel   string
	selectedProcessor string

	nextProcessorID int
}

// NewController wires a controller to the desk and preset store. onChange
// may be nil when no outward notification is needed.
func NewController(desk *Desk, presets *PresetStore, onChange SettingsChangedFunc) *Controller {
	return &Controller{
		desk:            desk,
		presets:         presets,
		onChange:        onChange,
		nextProcessorID: 1,
	}
}

// Desk exposes the underlying desk for read access.
func (c *Controller) Desk() *Desk {
	return c.desk
}

func (c *Controller) notify(targetID, subTargetID string, delta Settings) {
	if c.onChange != nil {
		c.onChange(targetID, subTargetID, delta)
	}
}

// clampGain bounds a gain percentage to the fader range.
func clampGain(gain float64) float64 {
	if gain < 0 {
		return 0
	}
	if gain > 100 {
		return 100
	}
	return gain
}

// SetChannelGain updates a channel fader. The value is clamped to 0-100.
func (c *Controller) SetChannelGain(channelID string, gain float64) {
	gain = clampGain(gain)
	if channelID == MasterID {
		c.desk.SetMasterGain(gain)
		c.notify(MasterID, "gain", Settings{"gain": gain})
		return
	}
	if c.desk.SetChannelGain(channelID, gain) {
		c.notify(channelID, "gain", Settings{"gain": gain})
	}
}

// SetChannelPan updates a channel's pan position.
func (c *Controller) SetChannelPan(channelID string, pan float64) {
	if c.desk.SetChannelPan(channelID, pan) {
		c.notify(channelID, "pan", Settings{"pan": pan})
	}
}

// ToggleChannelMute flips a channel's mute and reports the new state.
func (c *Controller) ToggleChannelMute(channelID string) (muted bool, ok bool) {
	muted, ok = c.desk.ToggleChannelMute(channelID)
	if ok {
		c.notify(channelID, "mute", Settings{"muted": muted})
	}
	return muted, ok
}

// ToggleChannelSolo flips a channel's solo and reports the new state.
func (c *Controller) ToggleChannelSolo(channelID string) (solo bool, ok bool) {
	solo, ok = c.desk.ToggleChannelSolo(channelID)
	if ok {
		c.notify(channelID, "solo", Settings{"solo": solo})
	}
	return solo, ok
}

// SetProcessorSettings merges delta into a processor's settings.
func (c *Controller) SetProcessorSettings(channelID, processorID string, delta Settings) {
	if c.desk.SetProcessorSettings(channelID, processorID, delta) {
		c.notify(channelID, processorID, delta.Clone())
	}
}

// ToggleProcessor flips a processor's enabled flag.
func (c *Controller) ToggleProcessor(channelID, processorID string) {
	if enabled, ok := c.desk.ToggleProcessor(channelID, processorID); ok {
		c.notify(channelID, processorID, Settings{"enabled": enabled})
	}
}

// RemoveProcessor drops a processor from a channel. A removed processor
// that is currently selected clears the processor selection.
func (c *Controller) RemoveProcessor(channelID, processorID string) {
	if !c.desk.RemoveProcessor(channelID, processorID) {
		return
	}

	c.mu.Lock()
	if c.selectedProcessor == processorID {
		c.selectedProcessor = ""
	}
	c.mu.Unlock()

	c.notify(channelID, processorID, Settings{"removed": true})
}

// AddProcessor appends a processor of the given type with default
// settings to the channel and selects it. The created processor is
// returned.
func (c *Controller) AddProcessor(channelID string, procType ProcessorType) (Processor, bool) {
	if !procType.Valid() {
		slog.Debug("Add processor with unknown type", "type", procType)
		return Processor{}, false
	}

	proc := Processor{
		ID:       c.newProcessorID(),
		Type:     procType,
		Enabled:  true,
		Settings: DefaultSettings(procType),
	}
	if !c.desk.AddProcessor(channelID, proc) {
		return Processor{}, false
	}

	c.mu.Lock()
	c.selectedChannel = channelID
	c.selectedProcessor = proc.ID
	c.mu.Unlock()

	c.notify(channelID, proc.ID, Settings{"added": string(procType)})
	return proc, true
}

func (c *Controller) newProcessorID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := fmt.Sprintf("proc_%d", c.nextProcessorID)
	c.nextProcessorID++
	return id
}

// SelectChannel records the channel the next preset or plugin operation
// targets. Passing an empty id clears the selection.
func (c *Controller) SelectChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedChannel = channelID
	c.selectedProcessor = ""
}

// SelectProcessor records the processor selection within the currently
// selected channel.
func (c *Controller) SelectProcessor(processorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedProcessor = processorID
}

// Selection returns the current channel and processor selection.
func (c *Controller) Selection() (channelID, processorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedChannel, c.selectedProcessor
}

// PickPlugin constructs a plugin processor from a catalogue entry,
// appends it to the selected channel's signal path and selects it for
// editing. Without a channel selection this does nothing.
func (c *Controller) PickPlugin(plugin plugins.Plugin) (Processor, bool) {
	c.mu.Lock()
	channelID := c.selectedChannel
	c.mu.Unlock()

	if channelID == "" {
		slog.Debug("Plugin picked without a channel selection", "plugin", plugin.ID)
		return Processor{}, false
	}

	settings := make(Settings, len(plugin.Parameters))
	for _, param := range plugin.Parameters {
		settings[param.ID] = param.Value
	}

	proc := Processor{
		ID:       c.newProcessorID(),
		Type:     TypePlugin,
		Enabled:  true,
		Settings: settings,
		PluginID: plugin.ID,
	}
	if !c.desk.AddProcessor(channelID, proc) {
		return Processor{}, false
	}

	c.mu.Lock()
	c.selectedProcessor = proc.ID
	c.mu.Unlock()

	c.notify(channelID, proc.ID, Settings{"added": string(TypePlugin), "plugin": plugin.ID})
	return proc, true
}

// SavePreset snapshots the currently selected entity into a new named
// preset. With a processor selected the processor's settings are saved
// under its type tag; with only a channel selected the whole strip is
// saved as a channel preset. Without a usable selection this is a no-op
// and returns false.
func (c *Controller) SavePreset(name string) (Preset, bool) {
	c.mu.Lock()
	channelID, processorID := c.selectedChannel, c.selectedProcessor
	c.mu.Unlock()

	if channelID == "" {
		slog.Debug("Preset save without a selection")
		return Preset{}, false
	}

	if processorID != "" {
		proc, ok := c.findProcessor(channelID, processorID)
		if !ok {
			slog.Debug("Preset save for missing processor",
				"channel", channelID, "processor", processorID)
			return Preset{}, false
		}
		preset, err := c.presets.Add(Preset{
			Name:     name,
			Type:     string(proc.Type),
			Settings: proc.Settings,
		})
		if err != nil {
			slog.Error("Failed to persist preset", "name", name, "error", err)
			return Preset{}, false
		}
		return preset, true
	}

	if channelID == MasterID {
		master := c.desk.Master()
		preset, err := c.presets.Add(Preset{
			Name:     name,
			Type:     PresetTypeMaster,
			Settings: Settings{"gain": master.Gain},
		})
		if err != nil {
			slog.Error("Failed to persist preset", "name", name, "error", err)
			return Preset{}, false
		}
		return preset, true
	}

	ch, ok := c.desk.Channel(channelID)
	if !ok {
		slog.Debug("Preset save for missing channel", "channel", channelID)
		return Preset{}, false
	}
	preset, err := c.presets.Add(Preset{
		Name: name,
		Type: PresetTypeChannel,
		Channel: &ChannelSnapshot{
			Gain:       ch.Gain,
			Pan:        ch.Pan,
			Processors: ch.Processors,
		},
	})
	if err != nil {
		slog.Error("Failed to persist preset", "name", name, "error", err)
		return Preset{}, false
	}
	return preset, true
}

// ApplyPreset applies a stored preset to the current selection. The
// preset's type tag must match the kind implied by the selection: a
// channel preset needs a selected channel, a processor preset needs a
// selected processor of the same type, and a limiter preset may also
// target a selected master bus processor. Mismatches are ignored.
func (c *Controller) ApplyPreset(presetID string) bool {
	preset, ok := c.presets.Get(presetID)
	if !ok {
		slog.Debug("Apply of unknown preset", "preset", presetID)
		return false
	}

	c.mu.Lock()
	channelID, processorID := c.selectedChannel, c.selectedProcessor
	c.mu.Unlock()

	switch preset.Type {
	case PresetTypeChannel:
		if channelID == "" || channelID == MasterID || preset.Channel == nil {
			slog.Debug("Channel preset needs a selected channel", "preset", presetID)
			return false
		}
		if !c.desk.ReplaceChannel(channelID, preset.Channel.Gain, preset.Channel.Pan, preset.Channel.Processors) {
			return false
		}
		c.notify(channelID, "channel", Settings{"preset": preset.ID})
		return true

	case PresetTypeMaster:
		gain, ok := preset.Settings["gain"].(float64)
		if !ok {
			slog.Debug("Master preset without gain", "preset", presetID)
			return false
		}
		c.desk.SetMasterGain(clampGain(gain))
		c.notify(MasterID, "gain", Settings{"gain": gain})
		return true

	default:
		if channelID == "" || processorID == "" {
			slog.Debug("Processor preset needs a full selection", "preset", presetID)
			return false
		}
		proc, ok := c.findProcessor(channelID, processorID)
		if !ok {
			slog.Debug("Processor preset target missing",
				"channel", channelID, "processor", processorID)
			return false
		}
		// A limiter preset may target a master bus processor; every
		// other processor preset needs a regular channel selection.
		if channelID == MasterID && preset.Type != string(TypeLimiter) {
			slog.Debug("Only limiter presets apply to the master bus", "preset", presetID)
			return false
		}
		if string(proc.Type) != preset.Type {
			slog.Debug("Preset type does not match selected processor",
				"preset", presetID, "preset_type", preset.Type, "processor_type", proc.Type)
			return false
		}
		if !c.desk.ReplaceProcessorSettings(channelID, processorID, preset.Settings) {
			return false
		}
		c.notify(channelID, processorID, preset.Settings.Clone())
		return true
	}
}

func (c *Controller) findProcessor(channelID, processorID string) (Processor, bool) {
	var procs []Processor
	if channelID == MasterID {
		procs = c.desk.Master().Processors
	} else {
		ch, ok := c.desk.Channel(channelID)
		if !ok {
			return Processor{}, false
		}
		procs = ch.Processors
	}
	for _, p := range procs {
		if p.ID == processorID {
			return p, true
		}
	}
	return Processor{}, false
}
