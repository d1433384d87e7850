package graph

import (
	"math"
	"sync"

	"github.com/go-audio/audio"

	"github.com/audiolibrelab/castpanel/internal/mixer"
	"github.com/audiolibrelab/castpanel/internal/plugins"
)

// Node is a live signal-processing handle. Nodes form a chain per channel
// feeding into the master bus; a node has at most one downstream target.
type Node interface {
	// Connect routes this node's output into target, replacing any
	// prior routing.
	Connect(target Node)

	// Disconnect removes the downstream routing.
	Disconnect()
}

// baseNode carries the downstream connection shared by every handle.
type baseNode struct {
	mu     sync.Mutex
	target Node
}

func (n *baseNode) Connect(target Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.target = target
}

func (n *baseNode) Disconnect() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.target = nil
}

func (n *baseNode) Target() Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target
}

// gainNode scales the signal. Gain is on the 0.0-1.0 scale; the desk's
// 0-100 fader percentage is converted before it reaches the node.
type gainNode struct {
	baseNode
	mu   sync.Mutex
	gain float64
}

func newGainNode(gain float64) *gainNode {
	return &gainNode{gain: gain}
}

func (n *gainNode) SetGain(gain float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gain = gain
}

func (n *gainNode) Gain() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gain
}

const (
	meterSampleRate = 48000
	meterFrames     = 512
)

// analyserNode is a metering tap. It exposes the latest time-domain
// sample window of the signal passing through it. Without a real audio
// backend the window is synthesized from the upstream gain level, which
// keeps meters honest about fader and mute state.
type analyserNode struct {
	baseNode
	mu    sync.Mutex
	level func() float64
	phase float64
}

func newAnalyserNode(level func() float64) *analyserNode {
	return &analyserNode{level: level}
}

// Buffer returns the current sample window. Every call advances the
// synthesis phase so consecutive reads animate.
func (n *analyserNode) Buffer() *audio.FloatBuffer {
	n.mu.Lock()
	defer n.mu.Unlock()

	level := n.level()
	data := make([]float64, meterFrames)
	step := 2 * math.Pi * 440 / meterSampleRate
	for i := range data {
		data[i] = level * math.Sin(n.phase)
		n.phase += step
	}
	n.phase = math.Mod(n.phase, 2*math.Pi)

	return &audio.FloatBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: meterSampleRate},
		Data:   data,
	}
}

// compressorNode is a dynamics handle. Parameters not present in the
// settings payload stay at the handle defaults.
type compressorNode struct {
	baseNode
	threshold  float64 // dB
	knee       float64 // dB
	ratio      float64
	attack     float64 // ms
	release    float64 // ms
	makeupGain float64 // dB
}

func newCompressorNode(settings mixer.Settings) *compressorNode {
	n := &compressorNode{
		threshold: -24,
		knee:      30,
		ratio:     12,
		attack:    3,
		release:   250,
	}
	if v, ok := floatSetting(settings, "threshold"); ok {
		n.threshold = v
	}
	if v, ok := floatSetting(settings, "knee"); ok {
		n.knee = v
	}
	if v, ok := floatSetting(settings, "ratio"); ok {
		n.ratio = v
	}
	if v, ok := floatSetting(settings, "attack"); ok {
		n.attack = v
	}
	if v, ok := floatSetting(settings, "release"); ok {
		n.release = v
	}
	if v, ok := floatSetting(settings, "makeupGain"); ok {
		n.makeupGain = v
	}
	return n
}

// newLimiterNode builds a dynamics handle pinned to limiting behavior:
// hard ratio, instant attack, threshold and release from the settings.
func newLimiterNode(settings mixer.Settings) *compressorNode {
	n := &compressorNode{
		threshold: -3,
		knee:      0,
		ratio:     20,
		attack:    0,
		release:   100,
	}
	if v, ok := floatSetting(settings, "threshold"); ok {
		n.threshold = v
	}
	if v, ok := floatSetting(settings, "release"); ok {
		n.release = v
	}
	return n
}

// filterNode is a single equalizer filter handle. It is configured from
// the first band of the equalizer's band list.
type filterNode struct {
	baseNode
	frequency float64 // Hz
	q         float64
	gain      float64 // dB
	shape     string
}

func newFilterNode(settings mixer.Settings) *filterNode {
	n := &filterNode{frequency: 350, q: 1, shape: mixer.ShapePeaking}
	bands, ok := settings["bands"].([]mixer.EQBand)
	if ok && len(bands) > 0 {
		band := bands[0]
		if band.Frequency > 0 {
			n.frequency = band.Frequency
		}
		if band.Q > 0 {
			n.q = band.Q
		}
		n.gain = band.Gain
		if band.Shape != "" {
			n.shape = band.Shape
		}
	}
	return n
}

// passNode is a pass-through placeholder for processor types whose
// processing is not implemented (gate, de-esser) and for external
// plugins, which keep their loaded reference alongside.
type passNode struct {
	baseNode
	plugin *plugins.Plugin
}

func newPassNode(plugin *plugins.Plugin) *passNode {
	return &passNode{plugin: plugin}
}

// floatSetting reads a numeric settings field, tolerating the int values
// yaml hands back for whole numbers.
func floatSetting(s mixer.Settings, key string) (float64, bool) {
	raw, ok := s[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
