package mixer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Preset type tags beyond the processor types.
const (
	PresetTypeChannel = "channel"
	PresetTypeMaster  = "master"
)

// ChannelSnapshot is the saved state of a whole channel strip: gain, pan
// and the full processor list.
type ChannelSnapshot struct {
	Gain       float64     `json:"gain" yaml:"gain"`
	Pan        float64     `json:"pan" yaml:"pan"`
	Processors []Processor `json:"processors" yaml:"processors"`
}

// Preset is a named, reusable snapshot of a processor's or channel's
// settings. Type is a processor type tag or one of the channel/master
// markers. Presets never expire.
type Preset struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Type     string    `json:"type" yaml:"type"`
	SavedAt  time.Time `json:"saved_at" yaml:"saved_at"`
	Settings Settings  `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Channel carries the snapshot when Type is PresetTypeChannel.
	Channel *ChannelSnapshot `json:"channel,omitempty" yaml:"channel,omitempty"`
}

// presetFile is the on-disk shape of the preset store.
type presetFile struct {
	Presets     []Preset  `yaml:"presets"`
	LastUpdated time.Time `yaml:"last_updated"`
}

// PresetStore keeps presets in memory and mirrors them to a yaml file so
// they survive restarts. A missing file means an empty store.
type PresetStore struct {
	mu      sync.RWMutex
	path    string
	presets []Preset
	nextID  int
	clock   func() time.Time
}

// NewPresetStore creates a store backed by the yaml file at path. An
// empty path keeps the store memory-only.
func NewPresetStore(path string) *PresetStore {
	return &PresetStore{path: path, nextID: 1, clock: time.Now}
}

// Load reads the backing file. A missing file is not an error.
func (s *PresetStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read preset store: %w", err)
	}

	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse preset store: %w", err)
	}

	for i := range file.Presets {
		file.Presets[i].Settings = NormalizeSettings(file.Presets[i].Settings)
		if file.Presets[i].Channel != nil {
			for j := range file.Presets[i].Channel.Processors {
				proc := &file.Presets[i].Channel.Processors[j]
				proc.Settings = NormalizeSettings(proc.Settings)
			}
		}
	}

	s.presets = file.Presets

	// Ids stay unique across restarts: the counter continues past the
	// highest id ever issued, not past the surviving count.
	s.nextID = 1
	for _, p := range file.Presets {
		if n, ok := presetIDNumber(p.ID); ok && n >= s.nextID {
			s.nextID = n + 1
		}
	}
	return nil
}

func presetIDNumber(id string) (int, bool) {
	suffix, found := strings.CutPrefix(id, "preset_")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NormalizeSettings restores the typed band list after a yaml or viper
// round trip, which otherwise leaves bands as generic maps.
func NormalizeSettings(s Settings) Settings {
	raw, ok := s["bands"]
	if !ok {
		return s
	}
	if _, typed := raw.([]EQBand); typed {
		return s
	}

	data, err := yaml.Marshal(raw)
	if err != nil {
		return s
	}
	var bands []EQBand
	if err := yaml.Unmarshal(data, &bands); err != nil {
		return s
	}
	s["bands"] = bands
	return s
}

// saveLocked writes the store to disk. Callers hold the write lock.
func (s *PresetStore) saveLocked() error {
	if s.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create preset directory: %w", err)
	}

	data, err := yaml.Marshal(presetFile{Presets: s.presets, LastUpdated: s.clock()})
	if err != nil {
		return fmt.Errorf("failed to marshal preset store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write preset store: %w", err)
	}
	return nil
}

// Add stores a new preset, assigns it a fresh id and persists the store.
// The populated preset is returned.
func (s *PresetStore) Add(preset Preset) (Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	preset.ID = fmt.Sprintf("preset_%d", s.nextID)
	s.nextID++
	preset.SavedAt = s.clock()
	preset.Settings = preset.Settings.Clone()
	if preset.Channel != nil {
		snapshot := *preset.Channel
		snapshot.Processors = cloneProcessors(preset.Channel.Processors)
		preset.Channel = &snapshot
	}

	s.presets = append(s.presets, preset)
	if err := s.saveLocked(); err != nil {
		return Preset{}, err
	}
	return preset, nil
}

// Get returns the preset with the given id.
func (s *PresetStore) Get(id string) (Preset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.presets {
		if p.ID == id {
			return clonePreset(p), true
		}
	}
	return Preset{}, false
}

// List returns every stored preset in save order.
func (s *PresetStore) List() []Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Preset, len(s.presets))
	for i, p := range s.presets {
		out[i] = clonePreset(p)
	}
	return out
}

// Remove deletes the preset with the given id and persists the store.
func (s *PresetStore) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.presets {
		if p.ID == id {
			s.presets = append(s.presets[:i], s.presets[i+1:]...)
			if err := s.saveLocked(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func clonePreset(p Preset) Preset {
	p.Settings = p.Settings.Clone()
	if p.Channel != nil {
		snapshot := *p.Channel
		snapshot.Processors = cloneProcessors(p.Channel.Processors)
		p.Channel = &snapshot
	}
	return p
}
