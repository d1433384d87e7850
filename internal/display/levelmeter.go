package display

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"code.rocketnine.space/tslocum/cview"
	"github.com/gdamore/tcell/v2"
)

// LevelMeter renders one vertical channel strip meter with peak hold.
type LevelMeter struct {
	*cview.Box

	emptyRune  rune
	emptyColor tcell.Color
	filledRune rune

	label string
	muted bool

	level          int
	peakLevel      int
	peakHoldTimeMs int
	lastPeakTime   int64
	maxHeldLevel   int

	maxLevel int
	minLevel int

	meterSteps []int

	mutedColor tcell.Color
	colorMap   map[int]tcell.Color

	sync.RWMutex
}

// NewLevelMeter returns a new level meter strip.
func NewLevelMeter(meterSteps []int, colorMap map[int]tcell.Color) *LevelMeter {
	m := &LevelMeter{
		Box:            cview.NewBox(),
		emptyRune:      rune(9617),
		emptyColor:     cview.Styles.PrimitiveBackgroundColor,
		filledRune:     rune(9607),
		maxLevel:       slices.Max(meterSteps),
		minLevel:       slices.Min(meterSteps),
		peakHoldTimeMs: 750,
		peakLevel:      silenceFloor,
		level:          silenceFloor,
		maxHeldLevel:   silenceFloor,
		mutedColor:     tcell.Color237,
		meterSteps:     meterSteps,
		colorMap:       colorMap,
	}
	m.SetBackgroundColor(cview.Styles.PrimitiveBackgroundColor)
	return m
}

// SetLabel sets the text shown above the meter bar.
func (m *LevelMeter) SetLabel(label string) {
	m.Lock()
	defer m.Unlock()

	m.label = label
}

// SetMuted dims the meter to reflect a muted channel.
func (m *LevelMeter) SetMuted(muted bool) {
	m.Lock()
	defer m.Unlock()

	m.muted = muted
}

func (m *LevelMeter) SetPeakHoldTime(ms int) {
	m.Lock()
	defer m.Unlock()

	m.peakHoldTimeMs = ms
}

// SetLevel sets the current level in dBFS.
func (m *LevelMeter) SetLevel(level int) {
	m.Lock()
	defer m.Unlock()

	m.level = level

	if m.level < m.minLevel {
		m.level = m.minLevel
	} else if m.level > m.maxLevel {
		m.level = m.maxLevel
	}

	if m.level > m.maxHeldLevel {
		m.maxHeldLevel = m.level
	}

	if m.level > m.peakLevel || (time.Now().UnixMilli()-m.lastPeakTime) > int64(m.peakHoldTimeMs) {
		m.peakLevel = m.level
		m.lastPeakTime = time.Now().UnixMilli()
	}
}

// GetLevel gets the current level.
func (m *LevelMeter) GetLevel() int {
	m.RLock()
	defer m.RUnlock()

	return m.level
}

// ResetHeldMax clears the long term maximum readout.
func (m *LevelMeter) ResetHeldMax() {
	m.Lock()
	defer m.Unlock()

	m.maxHeldLevel = silenceFloor
}

func levelColor(colorMap map[int]tcell.Color, level int) tcell.Color {
	keys := make([]int, 0, len(colorMap))
	for k := range colorMap {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(keys)))

	for _, mapLevel := range keys {
		if level >= mapLevel {
			return colorMap[mapLevel]
		}
	}

	return tcell.ColorPurple
}

// Draw draws this primitive onto the screen.
func (m *LevelMeter) Draw(screen tcell.Screen) {
	if !m.GetVisible() {
		return
	}

	m.Box.Draw(screen)

	m.Lock()
	defer m.Unlock()

	x, y, meterWidth, _ := m.GetInnerRect()
	foundPeak := false

	labelRunes := []rune(fmt.Sprintf(fmt.Sprintf("%%%dv", meterWidth), m.label))
	for w := 0; w < meterWidth && w < len(labelRunes); w++ {
		screen.SetContent(x+w, y, labelRunes[w], nil,
			tcell.StyleDefault.Bold(true).Background(m.GetBackgroundColor()))
	}

	y++

	for step, stepLevel := range m.meterSteps {
		doDraw := false
		foregroundColor := levelColor(m.colorMap, stepLevel)
		style := tcell.StyleDefault.Foreground(foregroundColor).Background(m.GetBackgroundColor())

		if !foundPeak && m.peakLevel >= stepLevel {
			foundPeak = true
			style = style.Bold(true)
			doDraw = true
		} else if m.level >= stepLevel {
			doDraw = true
		}

		if m.muted {
			style = style.Foreground(m.mutedColor)
		}

		if doDraw {
			for w := 0; w < meterWidth; w++ {
				screen.SetContent(x+w, y+step, m.filledRune, nil, style.Dim(m.muted))
			}
		} else {
			for w := 0; w < meterWidth; w++ {
				screen.SetContent(x+w, y+step, m.emptyRune, nil, style.Dim(true))
			}
		}
	}

	y += len(m.meterSteps)

	maxRunes := []rune(fmt.Sprintf(fmt.Sprintf("%%%dv", meterWidth), math.Abs(float64(m.maxHeldLevel))))
	maxColor := levelColor(m.colorMap, m.maxHeldLevel)
	for w := 0; w < meterWidth && w < len(maxRunes); w++ {
		screen.SetContent(x+w, y, maxRunes[w], nil,
			tcell.StyleDefault.Bold(true).Foreground(maxColor).Background(m.GetBackgroundColor()))
	}
}
