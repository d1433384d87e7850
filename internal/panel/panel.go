package panel

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Kind identifies one of the fixed set of control panels the UI can show.
type Kind string

const (
	KindAudioMixer Kind = "audio-mixer"
	KindScenes     Kind = "scenes"
	KindSources    Kind = "sources"
	KindDevices    Kind = "devices"
	KindStream     Kind = "stream-controls"
	KindLayout     Kind = "layout"
	KindBroadcast  Kind = "broadcast"
	KindRecordings Kind = "recordings"
)

// AllKinds returns every panel kind in declaration order. The order is
// stable and is used when seeding initial panel state.
func AllKinds() []Kind {
	return []Kind{
		KindAudioMixer,
		KindScenes,
		KindSources,
		KindDevices,
		KindStream,
		KindLayout,
		KindBroadcast,
		KindRecordings,
	}
}

// Valid reports whether k is one of the known panel kinds.
func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Strategy selects which open panel to close when opening a new one at
// capacity.
type Strategy string

const (
	StrategyFIFO Strategy = "fifo" // evict the panel opened earliest
	StrategyLRU  Strategy = "lru"  // evict the panel used least recently
)

// DefaultMaxPanels is the panel concurrency bound used when none is
// configured.
const DefaultMaxPanels = 4

// Slot holds the visibility state of a single panel kind. The timestamps
// are only meaningful while the slot is open.
type Slot struct {
	Open       bool      `json:"open"`
	OpenedAt   time.Time `json:"opened_at,omitempty"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// Options configures a Manager.
type Options struct {
	// MaxPanels bounds the number of simultaneously open panels.
	// Zero means DefaultMaxPanels.
	MaxPanels int

	// Strategy picks the eviction policy. Empty means StrategyFIFO.
	Strategy Strategy

	// InitialPanels seeds starting visibility. Kinds not listed start
	// closed. Unknown kinds are ignored.
	InitialPanels map[Kind]bool

	// Clock supplies timestamps; defaults to time.Now. Tests inject a
	// fake clock to get deterministic ordering.
	Clock func() time.Time
}

// Manager is a bounded registry of panel slots with a pluggable
// replacement strategy. All methods are safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	maxPanels int
	strategy  Strategy
	clock     func() time.Time
	slots     map[Kind]*Slot
}

// NewManager creates a panel manager from opts.
func NewManager(opts Options) (*Manager, error) {
	if opts.MaxPanels < 0 {
		return nil, fmt.Errorf("max panels must be >= 1, got %d", opts.MaxPanels)
	}
	maxPanels := opts.MaxPanels
	if maxPanels == 0 {
		maxPanels = DefaultMaxPanels
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyFIFO
	}
	if strategy != StrategyFIFO && strategy != StrategyLRU {
		return nil, fmt.Errorf("unknown replacement strategy: %s", strategy)
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	m := &Manager{
		maxPanels: maxPanels,
		strategy:  strategy,
		clock:     clock,
		slots:     make(map[Kind]*Slot, len(AllKinds())),
	}
	for _, kind := range AllKinds() {
		m.slots[kind] = &Slot{}
	}

	// Seed initial visibility in declaration order so the result is
	// deterministic even when more panels are requested than fit.
	for _, kind := range AllKinds() {
		if opts.InitialPanels[kind] {
			m.openLocked(kind, false)
		}
	}
	for kind := range opts.InitialPanels {
		if !kind.Valid() {
			slog.Debug("Ignoring unknown initial panel", "panel", kind)
		}
	}

	return m, nil
}

// Strategy returns the configured replacement strategy.
func (m *Manager) Strategy() Strategy {
	return m.strategy
}

// MaxPanels returns the configured concurrency bound.
func (m *Manager) MaxPanels() int {
	return m.maxPanels
}

// IsActive reports whether the panel is currently open.
func (m *Manager) IsActive(kind Kind) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slot, ok := m.slots[kind]
	return ok && slot.Open
}

// ActiveCount returns the number of currently open panels.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCountLocked()
}

func (m *Manager) activeCountLocked() int {
	count := 0
	for _, slot := range m.slots {
		if slot.Open {
			count++
		}
	}
	return count
}

// Open makes the panel visible, evicting another open panel per the
// configured strategy when the concurrency bound is reached. Opening an
// already-open panel only refreshes its last-used time.
func (m *Manager) Open(kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLocked(kind, false)
}

// OpenExclusive closes every other panel and opens only kind.
func (m *Manager) OpenExclusive(kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLocked(kind, true)
}

func (m *Manager) openLocked(kind Kind, exclusive bool) {
	slot, ok := m.slots[kind]
	if !ok {
		slog.Debug("Open requested for unknown panel", "panel", kind)
		return
	}

	now := m.clock()

	// Re-opening an open panel is a focus, not a transition. OpenedAt is
	// intentionally left untouched so FIFO ordering stays stable.
	if slot.Open {
		slot.LastUsedAt = now
		return
	}

	if exclusive {
		for other, otherSlot := range m.slots {
			if other != kind {
				otherSlot.Open = false
			}
		}
		slot.Open = true
		slot.OpenedAt = now
		slot.LastUsedAt = now
		return
	}

	if m.activeCountLocked() >= m.maxPanels {
		victim, ok := m.selectVictimLocked(kind)
		if ok {
			m.slots[victim].Open = false
			slog.Debug("Evicted panel to stay within bound",
				"evicted", victim, "opening", kind, "strategy", m.strategy)
		} else {
			// Defensive fallback: nothing to evict, open anyway and
			// transiently exceed the bound.
			slog.Debug("No eviction candidate found, opening past bound",
				"opening", kind, "max_panels", m.maxPanels)
		}
	}

	slot.Open = true
	slot.OpenedAt = now
	slot.LastUsedAt = now
}

// selectVictimLocked picks the open panel to close according to the
// strategy. Timestamp ties break on the kind name so the choice is
// reproducible.
func (m *Manager) selectVictimLocked(opening Kind) (Kind, bool) {
	candidates := make([]Kind, 0, len(m.slots))
	for kind, slot := range m.slots {
		if slot.Open && kind != opening {
			candidates = append(candidates, kind)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := m.slots[candidates[i]], m.slots[candidates[j]]
		var ta, tb time.Time
		switch m.strategy {
		case StrategyLRU:
			ta, tb = a.LastUsedAt, b.LastUsedAt
		default:
			ta, tb = a.OpenedAt, b.OpenedAt
		}
		if ta.Equal(tb) {
			return candidates[i] < candidates[j]
		}
		return ta.Before(tb)
	})

	return candidates[0], true
}

// Close hides the panel. Closing a panel that is not open does nothing.
func (m *Manager) Close(kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[kind]
	if !ok {
		slog.Debug("Close requested for unknown panel", "panel", kind)
		return
	}
	slot.Open = false
}

// Toggle closes the panel if open, otherwise opens it (non-exclusive).
func (m *Manager) Toggle(kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[kind]
	if !ok {
		slog.Debug("Toggle requested for unknown panel", "panel", kind)
		return
	}
	if slot.Open {
		slot.Open = false
		return
	}
	m.openLocked(kind, false)
}

// Focus marks an open panel as recently used so LRU eviction keeps it
// around. Focusing a closed or unknown panel does nothing.
func (m *Manager) Focus(kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[kind]
	if !ok || !slot.Open {
		slog.Debug("Focus requested for inactive panel", "panel", kind)
		return
	}
	slot.LastUsedAt = m.clock()
}

// State returns a copy of the slot for kind.
func (m *Manager) State(kind Kind) (Slot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slot, ok := m.slots[kind]
	if !ok {
		return Slot{}, false
	}
	return *slot, true
}

// Snapshot returns a copy of every slot keyed by kind.
func (m *Manager) Snapshot() map[Kind]Slot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[Kind]Slot, len(m.slots))
	for kind, slot := range m.slots {
		out[kind] = *slot
	}
	return out
}
