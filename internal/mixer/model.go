package mixer

import (
	"log/slog"
	"sync"
)

// ProcessorType tags a processor with the effect it implements. The set is
// closed; Valid rejects anything else.
type ProcessorType string

const (
	TypeCompressor ProcessorType = "compressor"
	TypeLimiter    ProcessorType = "limiter"
	TypeEqualizer  ProcessorType = "equalizer"
	TypeGate       ProcessorType = "gate"
	TypeDeEsser    ProcessorType = "deesser"
	TypePlugin     ProcessorType = "plugin"
)

// Valid reports whether t is one of the known processor types.
func (t ProcessorType) Valid() bool {
	switch t {
	case TypeCompressor, TypeLimiter, TypeEqualizer, TypeGate, TypeDeEsser, TypePlugin:
		return true
	}
	return false
}

// EQ band shapes.
const (
	ShapeLowShelf  = "lowshelf"
	ShapeHighShelf = "highshelf"
	ShapePeaking   = "peaking"
)

// EQBand is a single equalizer band. Bands are kept in an ordered list and
// replaced wholesale on update, never merged element-wise.
type EQBand struct {
	ID        string  `json:"id" yaml:"id"`
	Frequency float64 `json:"frequency" yaml:"frequency"` // Hz
	Gain      float64 `json:"gain" yaml:"gain"`           // dB
	Q         float64 `json:"q" yaml:"q"`
	Shape     string  `json:"shape" yaml:"shape"` // lowshelf, highshelf, peaking
}

// Settings is a processor's parameter payload. The keys present depend on
// the processor type; see DefaultSettings.
type Settings map[string]any

// Clone returns a copy of s that shares no mutable state with the
// original. Band slices are copied, scalar values are carried over.
func (s Settings) Clone() Settings {
	if s == nil {
		return nil
	}
	out := make(Settings, len(s))
	for k, v := range s {
		if bands, ok := v.([]EQBand); ok {
			copied := make([]EQBand, len(bands))
			copy(copied, bands)
			out[k] = copied
			continue
		}
		out[k] = v
	}
	return out
}

// Merge returns settings with delta applied by shallow key overwrite.
// Slice-valued entries (EQ bands) in delta replace the prior value
// wholesale. Neither input is modified.
func (s Settings) Merge(delta Settings) Settings {
	out := s.Clone()
	if out == nil {
		out = make(Settings, len(delta))
	}
	for k, v := range delta {
		if bands, ok := v.([]EQBand); ok {
			copied := make([]EQBand, len(bands))
			copy(copied, bands)
			out[k] = copied
			continue
		}
		out[k] = v
	}
	return out
}

// DefaultSettings returns the full parameter payload for a processor type
// with every field at its default.
func DefaultSettings(t ProcessorType) Settings {
	switch t {
	case TypeCompressor:
		return Settings{
			"threshold":  -24.0, // dB
			"ratio":      4.0,
			"attack":     10.0,  // ms
			"release":    250.0, // ms
			"knee":       6.0,   // dB
			"makeupGain": 0.0,   // dB
		}
	case TypeLimiter:
		return Settings{
			"threshold": -3.0,  // dB
			"release":   100.0, // ms
		}
	case TypeGate:
		return Settings{
			"threshold": -40.0, // dB
			"attack":    5.0,   // ms
			"release":   150.0, // ms
		}
	case TypeDeEsser:
		return Settings{
			"frequency": 6000.0, // Hz
			"threshold": -18.0,  // dB
			"ratio":     3.0,
		}
	case TypeEqualizer:
		return Settings{
			"bands": []EQBand{
				{ID: "low", Frequency: 100, Gain: 0, Q: 0.7, Shape: ShapeLowShelf},
				{ID: "mid", Frequency: 1000, Gain: 0, Q: 1.0, Shape: ShapePeaking},
				{ID: "high", Frequency: 8000, Gain: 0, Q: 0.7, Shape: ShapeHighShelf},
			},
		}
	case TypePlugin:
		return Settings{}
	}
	return Settings{}
}

// Processor is a single effect stage in a channel's signal path.
type Processor struct {
	ID       string        `json:"id" yaml:"id"`
	Type     ProcessorType `json:"type" yaml:"type"`
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Settings Settings      `json:"settings" yaml:"settings"`

	// PluginID references an external catalogue plugin when Type is
	// TypePlugin, empty otherwise.
	PluginID string `json:"plugin_id,omitempty" yaml:"plugin_id,omitempty"`
}

func (p Processor) clone() Processor {
	p.Settings = p.Settings.Clone()
	return p
}

func cloneProcessors(procs []Processor) []Processor {
	if procs == nil {
		return nil
	}
	out := make([]Processor, len(procs))
	for i, p := range procs {
		out[i] = p.clone()
	}
	return out
}

// Channel is an independently mixed input path. Processor order is the
// signal-path order and is preserved on every update.
type Channel struct {
	ID         string      `json:"id" yaml:"id"`
	Name       string      `json:"name" yaml:"name"`
	DeviceID   string      `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	Gain       float64     `json:"gain" yaml:"gain"` // 0-100, percentage of full scale
	Pan        float64     `json:"pan" yaml:"pan"`   // signed, center 0
	Muted      bool        `json:"muted" yaml:"muted"`
	Solo       bool        `json:"solo" yaml:"solo"`
	Processors []Processor `json:"processors" yaml:"processors"`
}

func (c Channel) clone() Channel {
	c.Processors = cloneProcessors(c.Processors)
	return c
}

// Master is the single downstream mix point all channels feed into.
type Master struct {
	Gain       float64     `json:"gain" yaml:"gain"` // 0-100
	Processors []Processor `json:"processors" yaml:"processors"`
}

// MasterID is the target identifier the master bus answers to in
// processor operations and settings-changed notifications.
const MasterID = "master"

// DefaultChannelGain is used when a channel is created without an explicit
// gain.
const DefaultChannelGain = 75.0

// Desk holds the live channel/processor state. Mutation operations treat
// unknown channel or processor ids as silent no-ops: stale references are
// routine UI timing artifacts, not errors. They are logged at debug level
// for diagnosability. All methods are safe for concurrent use.
type Desk struct {
	mu       sync.RWMutex
	channels []Channel
	master   Master
}

// NewDesk creates a desk from the given channel set and master bus state.
func NewDesk(channels []Channel, master Master) *Desk {
	d := &Desk{
		channels: make([]Channel, len(channels)),
		master:   master,
	}
	for i, ch := range channels {
		d.channels[i] = ch.clone()
	}
	d.master.Processors = cloneProcessors(master.Processors)
	return d
}

// Channels returns a copy of every channel in declaration order.
func (d *Desk) Channels() []Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Channel, len(d.channels))
	for i, ch := range d.channels {
		out[i] = ch.clone()
	}
	return out
}

// Channel returns a copy of the channel with the given id.
func (d *Desk) Channel(channelID string) (Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, ch := range d.channels {
		if ch.ID == channelID {
			return ch.clone(), true
		}
	}
	return Channel{}, false
}

// Master returns a copy of the master bus state.
func (d *Desk) Master() Master {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m := d.master
	m.Processors = cloneProcessors(d.master.Processors)
	return m
}

// AddChannel appends a new channel. The model supports runtime creation
// even though the stock UI only ever seeds a fixed set at startup.
func (d *Desk) AddChannel(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch.Gain == 0 {
		ch.Gain = DefaultChannelGain
	}
	d.channels = append(d.channels, ch.clone())
}

func (d *Desk) findChannelLocked(channelID string) *Channel {
	for i := range d.channels {
		if d.channels[i].ID == channelID {
			return &d.channels[i]
		}
	}
	return nil
}

// processorsLocked resolves the processor list a channel id addresses,
// treating MasterID as the master bus.
func (d *Desk) processorsLocked(channelID string) *[]Processor {
	if channelID == MasterID {
		return &d.master.Processors
	}
	if ch := d.findChannelLocked(channelID); ch != nil {
		return &ch.Processors
	}
	return nil
}

// SetChannelGain replaces the gain on the matching channel. Clamping is
// the caller's responsibility.
func (d *Desk) SetChannelGain(channelID string, gain float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := d.findChannelLocked(channelID)
	if ch == nil {
		slog.Debug("Gain change for unknown channel", "channel", channelID)
		return false
	}
	ch.Gain = gain
	return true
}

// SetChannelPan replaces the pan on the matching channel.
func (d *Desk) SetChannelPan(channelID string, pan float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := d.findChannelLocked(channelID)
	if ch == nil {
		slog.Debug("Pan change for unknown channel", "channel", channelID)
		return false
	}
	ch.Pan = pan
	return true
}

// ToggleChannelMute flips the muted flag and returns the new value.
func (d *Desk) ToggleChannelMute(channelID string) (muted bool, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := d.findChannelLocked(channelID)
	if ch == nil {
		slog.Debug("Mute toggle for unknown channel", "channel", channelID)
		return false, false
	}
	ch.Muted = !ch.Muted
	return ch.Muted, true
}

// ToggleChannelSolo flips the solo flag and returns the new value.
func (d *Desk) ToggleChannelSolo(channelID string) (solo bool, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := d.findChannelLocked(channelID)
	if ch == nil {
		slog.Debug("Solo toggle for unknown channel", "channel", channelID)
		return false, false
	}
	ch.Solo = !ch.Solo
	return ch.Solo, true
}

// SetMasterGain replaces the master bus gain.
func (d *Desk) SetMasterGain(gain float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.master.Gain = gain
}

// SetProcessorSettings merges delta into the processor's settings by
// shallow key overwrite. Band lists in delta replace the prior list
// wholesale.
func (d *Desk) SetProcessorSettings(channelID, processorID string, delta Settings) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	procs := d.processorsLocked(channelID)
	if procs == nil {
		slog.Debug("Processor settings for unknown channel", "channel", channelID)
		return false
	}
	for i := range *procs {
		if (*procs)[i].ID == processorID {
			(*procs)[i].Settings = (*procs)[i].Settings.Merge(delta)
			return true
		}
	}
	slog.Debug("Settings for unknown processor",
		"channel", channelID, "processor", processorID)
	return false
}

// ReplaceProcessorSettings overwrites the processor's settings payload
// wholesale. Used by preset application.
func (d *Desk) ReplaceProcessorSettings(channelID, processorID string, settings Settings) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	procs := d.processorsLocked(channelID)
	if procs == nil {
		slog.Debug("Processor settings for unknown channel", "channel", channelID)
		return false
	}
	for i := range *procs {
		if (*procs)[i].ID == processorID {
			(*procs)[i].Settings = settings.Clone()
			return true
		}
	}
	slog.Debug("Settings for unknown processor",
		"channel", channelID, "processor", processorID)
	return false
}

// ToggleProcessor flips the enabled flag and returns the new value.
func (d *Desk) ToggleProcessor(channelID, processorID string) (enabled bool, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	procs := d.processorsLocked(channelID)
	if procs == nil {
		slog.Debug("Processor toggle for unknown channel", "channel", channelID)
		return false, false
	}
	for i := range *procs {
		if (*procs)[i].ID == processorID {
			(*procs)[i].Enabled = !(*procs)[i].Enabled
			return (*procs)[i].Enabled, true
		}
	}
	slog.Debug("Toggle for unknown processor",
		"channel", channelID, "processor", processorID)
	return false, false
}

// AddProcessor appends the processor to the channel's signal path.
func (d *Desk) AddProcessor(channelID string, proc Processor) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	procs := d.processorsLocked(channelID)
	if procs == nil {
		slog.Debug("Add processor for unknown channel", "channel", channelID)
		return false
	}
	*procs = append(*procs, proc.clone())
	return true
}

// RemoveProcessor removes the processor, preserving the relative order of
// the remaining ones.
func (d *Desk) RemoveProcessor(channelID, processorID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	procs := d.processorsLocked(channelID)
	if procs == nil {
		slog.Debug("Remove processor for unknown channel", "channel", channelID)
		return false
	}
	for i := range *procs {
		if (*procs)[i].ID == processorID {
			*procs = append((*procs)[:i], (*procs)[i+1:]...)
			return true
		}
	}
	slog.Debug("Remove for unknown processor",
		"channel", channelID, "processor", processorID)
	return false
}

// ReplaceChannel overwrites gain, pan and the full processor list of the
// channel. Used by channel preset application.
func (d *Desk) ReplaceChannel(channelID string, gain, pan float64, procs []Processor) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := d.findChannelLocked(channelID)
	if ch == nil {
		slog.Debug("Channel replace for unknown channel", "channel", channelID)
		return false
	}
	ch.Gain = gain
	ch.Pan = pan
	ch.Processors = cloneProcessors(procs)
	return true
}
