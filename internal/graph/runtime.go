package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-audio/audio"

	"github.com/audiolibrelab/castpanel/internal/mixer"
	"github.com/audiolibrelab/castpanel/internal/plugins"
)

var (
	// ErrNotInitialized is returned when a channel or processor is
	// created before Initialize has run.
	ErrNotInitialized = errors.New("graph runtime not initialized")

	// ErrChannelExists is returned when a channel id is realized twice.
	ErrChannelExists = errors.New("channel already exists in graph")

	// ErrUnknownChannel is returned when a processor targets a channel
	// the runtime has not realized.
	ErrUnknownChannel = errors.New("unknown channel in graph")
)

// channelHandle is the realized signal path of one channel: a gain
// control, a metering tap downstream of it, and the processor handles by
// processor id. Only the most recently created processor handle is
// actually wired between the gain node and the master bus; the rest are
// constructed and kept but not routed. This mirrors the behavior of the
// original panel rather than fully chaining the ordered list.
type channelHandle struct {
	gain       *gainNode
	analyser   *analyserNode
	processors map[string]Node
	active     Node
	gainPct    float64
	plugin     *plugins.Plugin
}

// Runtime realizes the abstract channel/processor model into live,
// connected signal-processing handles and exposes metering. Construct one
// per session and pass it to whatever owns the mixer; there is no
// package-level instance.
type Runtime struct {
	mu        sync.Mutex
	catalogue plugins.Catalogue

	initialized bool
	generation  uint64
	masterGain  *gainNode
	masterTap   *analyserNode
	channels    map[string]*channelHandle
}

// NewRuntime creates an uninitialized runtime. The catalogue resolves
// plugin references during processor creation; it may be nil when plugin
// processors will never be realized.
func NewRuntime(catalogue plugins.Catalogue) *Runtime {
	return &Runtime{catalogue: catalogue}
}

// Initialize sets up the master bus gain handle and the master metering
// tap. It must run before any channel is created; calling it again is a
// safe no-op.
func (r *Runtime) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		slog.Debug("Graph runtime already initialized")
		return nil
	}

	r.masterGain = newGainNode(1.0)
	r.masterTap = newAnalyserNode(r.masterLevel)
	r.masterGain.Connect(r.masterTap)
	r.channels = make(map[string]*channelHandle)
	r.initialized = true

	slog.Debug("Graph runtime initialized")
	return nil
}

// masterLevel is the metering level of the master bus: the master gain
// scaled by the strongest contributing channel.
func (r *Runtime) masterLevel() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	peak := 0.0
	for _, ch := range r.channels {
		if g := ch.gain.Gain(); g > peak {
			peak = g
		}
	}
	if r.masterGain == nil {
		return 0
	}
	return r.masterGain.Gain() * peak
}

// CreateChannel realizes a channel configuration: a gain handle, a
// metering tap wired downstream of it, and every configured processor in
// order. Channel gain defaults to 75% when the configuration carries no
// gain.
func (r *Runtime) CreateChannel(ctx context.Context, ch mixer.Channel) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		slog.Error("CreateChannel before Initialize", "channel", ch.ID)
		return ErrNotInitialized
	}
	if _, exists := r.channels[ch.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChannelExists, ch.ID)
	}

	gainPct := ch.Gain
	if gainPct == 0 {
		gainPct = mixer.DefaultChannelGain
	}

	handle := &channelHandle{
		gain:       newGainNode(gainPct / 100),
		processors: make(map[string]Node),
		gainPct:    gainPct,
	}
	handle.analyser = newAnalyserNode(handle.gain.Gain)
	handle.gain.Connect(r.masterGain)
	r.channels[ch.ID] = handle
	r.mu.Unlock()

	for _, proc := range ch.Processors {
		if err := r.CreateProcessor(ctx, ch.ID, proc); err != nil {
			return fmt.Errorf("failed to realize processor %s on channel %s: %w",
				proc.ID, ch.ID, err)
		}
	}

	slog.Debug("Channel realized", "channel", ch.ID, "processors", len(ch.Processors))
	return nil
}

// CreateProcessor dispatches on the processor type to construct the
// matching handle and wires the channel's signal path through it into the
// master bus, replacing any prior routing for the channel. Plugin
// processors resolve their reference through the catalogue first, which
// may block; a result arriving after Dispose is discarded.
func (r *Runtime) CreateProcessor(ctx context.Context, channelID string, proc mixer.Processor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		slog.Error("CreateProcessor before Initialize",
			"channel", channelID, "processor", proc.ID)
		return ErrNotInitialized
	}
	handle, ok := r.channels[channelID]
	if !ok {
		r.mu.Unlock()
		slog.Debug("Processor for unrealized channel",
			"channel", channelID, "processor", proc.ID)
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}
	generation := r.generation

	var node Node
	var loadedPlugin *plugins.Plugin
	switch proc.Type {
	case mixer.TypeCompressor:
		node = newCompressorNode(proc.Settings)
	case mixer.TypeLimiter:
		node = newLimiterNode(proc.Settings)
	case mixer.TypeEqualizer:
		node = newFilterNode(proc.Settings)
	case mixer.TypeGate, mixer.TypeDeEsser:
		// Gating and de-essing are not implemented; the handle passes
		// the signal through untouched.
		node = newPassNode(nil)
	case mixer.TypePlugin:
		if r.catalogue == nil {
			r.mu.Unlock()
			return fmt.Errorf("no plugin catalogue available for processor %s", proc.ID)
		}
		// Loading can suspend on catalogue readiness, so the lock is
		// released across the call and the generation re-checked after.
		r.mu.Unlock()
		plugin, err := r.catalogue.LoadPlugin(ctx, proc.PluginID)
		if err != nil {
			return fmt.Errorf("failed to load plugin %s: %w", proc.PluginID, err)
		}
		r.mu.Lock()
		if r.generation != generation || !r.initialized {
			r.mu.Unlock()
			slog.Debug("Discarding stale plugin load", "plugin", proc.PluginID)
			return nil
		}
		handle, ok = r.channels[channelID]
		if !ok {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
		}
		if plugin == nil {
			slog.Warn("Plugin missing from catalogue, inserting pass-through",
				"plugin", proc.PluginID)
		}
		loadedPlugin = plugin
		node = newPassNode(plugin)
	default:
		r.mu.Unlock()
		return fmt.Errorf("unknown processor type: %s", proc.Type)
	}

	// Rewire: gain -> processor -> master. The old routing is taken down
	// first; the two steps are sequential, not atomic.
	if handle.active != nil {
		handle.active.Disconnect()
	}
	handle.gain.Disconnect()
	handle.gain.Connect(node)
	node.Connect(r.masterGain)

	handle.processors[proc.ID] = node
	handle.active = node
	if loadedPlugin != nil {
		handle.plugin = loadedPlugin
	}
	r.mu.Unlock()

	slog.Debug("Processor realized",
		"channel", channelID, "processor", proc.ID, "type", proc.Type)
	return nil
}

// SetChannelGain updates the live gain handle from a 0-100 fader value.
func (r *Runtime) SetChannelGain(channelID string, gain float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle, ok := r.channels[channelID]
	if !ok {
		slog.Debug("Live gain for unknown channel", "channel", channelID)
		return
	}
	handle.gainPct = gain
	handle.gain.SetGain(gain / 100)
}

// SetChannelMute forces the live gain to zero while muted. Unmuting snaps
// the gain to full scale rather than restoring the prior fader value;
// the stored percentage is deliberately not consulted, matching the
// behavior the control panel has always had.
func (r *Runtime) SetChannelMute(channelID string, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle, ok := r.channels[channelID]
	if !ok {
		slog.Debug("Live mute for unknown channel", "channel", channelID)
		return
	}
	if muted {
		handle.gain.SetGain(0)
	} else {
		handle.gain.SetGain(1.0)
	}
}

// SetMasterGain updates the master bus gain from a 0-100 fader value.
func (r *Runtime) SetMasterGain(gain float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.masterGain == nil {
		slog.Debug("Master gain before Initialize")
		return
	}
	r.masterGain.SetGain(gain / 100)
}

// ChannelMeter returns the latest time-domain sample window from the
// channel's metering tap, or nil when the channel has no tap.
func (r *Runtime) ChannelMeter(channelID string) *audio.FloatBuffer {
	r.mu.Lock()
	handle, ok := r.channels[channelID]
	r.mu.Unlock()

	if !ok || handle.analyser == nil {
		return nil
	}
	return handle.analyser.Buffer()
}

// MasterMeter returns the master bus metering window, or nil before
// Initialize.
func (r *Runtime) MasterMeter() *audio.FloatBuffer {
	r.mu.Lock()
	tap := r.masterTap
	r.mu.Unlock()

	if tap == nil {
		return nil
	}
	return tap.Buffer()
}

// ChannelIDs returns the ids of every realized channel, sorted.
func (r *Runtime) ChannelIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ChannelPlugin returns the loaded plugin reference for a channel, if a
// plugin processor has been realized on it.
func (r *Runtime) ChannelPlugin(channelID string) *plugins.Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle, ok := r.channels[channelID]
	if !ok {
		return nil
	}
	return handle.plugin
}

// Initialized reports whether Initialize has run since the last Dispose.
func (r *Runtime) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// Dispose tears down every live handle and resets the runtime to its
// uninitialized state. In-flight asynchronous creations observe the
// generation bump and discard their results. Safe to call repeatedly.
func (r *Runtime) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized && r.channels == nil {
		return
	}

	r.generation++
	for _, handle := range r.channels {
		if handle.active != nil {
			handle.active.Disconnect()
		}
		handle.gain.Disconnect()
	}
	r.channels = nil
	if r.masterGain != nil {
		r.masterGain.Disconnect()
	}
	r.masterGain = nil
	r.masterTap = nil
	r.initialized = false

	slog.Debug("Graph runtime disposed")
}
