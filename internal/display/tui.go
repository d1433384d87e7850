package display

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"code.rocketnine.space/tslocum/cview"
	"github.com/gdamore/tcell/v2"

	"github.com/go-audio/audio"

	"github.com/audiolibrelab/castpanel/internal/service"
)

const (
	layoutMeterWidth      = 4
	layoutMeterLabelWidth = 5

	// Level reported for silence and used to initialize meters.
	silenceFloor = -150

	refreshInterval = 50 * time.Millisecond
)

var (
	meterSteps = []int{
		0, -1, -2, -3, -4, -6, -8,
		-10, -12, -15, -18, -21, -24, -27,
		-30, -36, -42, -48, -54, -60}

	levelColors = map[int]tcell.Color{
		0:            tcell.Color124,
		-2:           tcell.Color131,
		-6:           tcell.Color142,
		-18:          tcell.Color71,
		silenceFloor: tcell.Color72,
	}
)

// Tui is a terminal meter bridge over the running mixer.
type Tui struct {
	app             *cview.Application
	service         service.Service
	shutdownChannel chan bool

	gridApp       *cview.Grid
	gridMeters    *cview.Grid
	channelMeters []*LevelMeter
	channelIDs    []string
	masterMeter   *LevelMeter

	tvHeader *cview.TextView
	tvLogs   *cview.TextView
}

// NewTui creates a meter bridge for the given service.
func NewTui(svc service.Service) *Tui {
	return &Tui{
		service:         svc,
		shutdownChannel: make(chan bool, 1),
		channelMeters:   make([]*LevelMeter, 0),
	}
}

// Initialize builds the terminal layout. Must be called before Start.
func (tui *Tui) Initialize() {
	tui.app = cview.NewApplication()
	defer tui.app.HandlePanic()

	meterRowHeight := len(meterSteps) + 2

	tui.gridApp = cview.NewGrid()
	tui.gridApp.SetPadding(0, 0, 0, 0)
	tui.gridApp.SetColumns(-1)
	tui.gridApp.SetBorders(true)
	tui.gridApp.SetRows(1, meterRowHeight, -1)
	tui.gridApp.SetBackgroundColor(cview.Styles.PrimitiveBackgroundColor)

	tui.tvHeader = cview.NewTextView()
	tui.tvHeader.SetPadding(0, 0, 1, 1)
	tui.tvHeader.SetDynamicColors(true)
	tui.gridApp.AddItem(tui.tvHeader, 0, 0, 1, 1, 0, 0, false)

	tui.gridMeters = cview.NewGrid()
	tui.gridMeters.SetPadding(0, 0, 0, 0)
	tui.gridMeters.SetColumns(-1)
	tui.gridApp.AddItem(tui.gridMeters, 1, 0, 1, 1, 0, 0, false)

	tui.tvLogs = cview.NewTextView()
	tui.tvLogs.SetPadding(0, 0, 0, 0)
	tui.tvLogs.SetDynamicColors(true)
	tui.gridApp.AddItem(tui.tvLogs, 2, 0, 1, 1, 0, 0, true)

	tui.buildMeterStrips()

	tui.app.SetRoot(tui.gridApp, true)
}

// buildMeterStrips lays out one strip per channel plus the master bus.
func (tui *Tui) buildMeterStrips() {
	channels := tui.service.Channels()
	stripCount := len(channels) + 1

	tui.channelMeters = make([]*LevelMeter, len(channels))
	tui.channelIDs = make([]string, len(channels))

	columns := make([]int, stripCount+2)
	columns[0] = layoutMeterLabelWidth
	for i := 0; i < stripCount; i++ {
		columns[i+1] = layoutMeterWidth
	}
	columns[stripCount+1] = -1
	tui.gridMeters.SetColumns(columns...)

	stepLabel := cview.NewTextView()
	stepLabel.SetPadding(0, 0, 0, 0)
	stepLabel.Write([]byte(fmt.Sprintln()))
	for _, step := range meterSteps {
		stepLabel.Write([]byte(fmt.Sprintf("%3v\n", fmt.Sprintf("%d", step))))
	}
	tui.gridMeters.AddItem(stepLabel, 0, 0, 1, 1, 0, 0, false)

	for i, ch := range channels {
		meter := NewLevelMeter(meterSteps, levelColors)
		meter.SetBorder(false)
		meter.SetPadding(0, 0, 1, 1)
		meter.SetLabel(shortLabel(ch.Name))
		meter.SetMuted(ch.Muted)

		if i%2 == 1 {
			meter.SetBackgroundColor(tcell.Color234)
		}

		tui.channelMeters[i] = meter
		tui.channelIDs[i] = ch.ID
		tui.gridMeters.AddItem(meter, 0, i+1, 1, 1, 0, 0, false)
	}

	tui.masterMeter = NewLevelMeter(meterSteps, levelColors)
	tui.masterMeter.SetBorder(false)
	tui.masterMeter.SetPadding(0, 0, 1, 1)
	tui.masterMeter.SetLabel("MST")
	tui.gridMeters.AddItem(tui.masterMeter, 0, stripCount, 1, 1, 0, 0, false)
}

// Start runs the interface until the user quits or Shutdown is called.
func (tui *Tui) Start() {
	go func() {
		defer tui.app.HandlePanic()

		tui.app.SetInputCapture(tui.eventHandler)

		if err := tui.app.Run(); err != nil {
			panic(err)
		}

		tui.shutdownChannel <- true
	}()

	go tui.refreshLoop()
}

// Shutdown stops the interface and blocks until it has exited.
func (tui *Tui) Shutdown() {
	slog.Debug("Shutting down meter bridge")
	tui.app.Stop()
	tui.WaitForShutdown()
}

func (tui *Tui) IsShutdown() bool {
	return len(tui.shutdownChannel) > 0
}

func (tui *Tui) WaitForShutdown() {
	<-tui.shutdownChannel
}

func (tui *Tui) eventHandler(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyCtrlC, tcell.KeyEsc:
		tui.app.Stop()
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q':
			tui.app.Stop()
			return nil
		case 'r':
			for _, meter := range tui.channelMeters {
				meter.ResetHeldMax()
			}
			tui.masterMeter.ResetHeldMax()
			return nil
		}
	}

	return event
}

func (tui *Tui) refreshLoop() {
	defer tui.app.HandlePanic()

	slog.Debug("Meter bridge loop started")

	for {
		if len(tui.shutdownChannel) > 0 {
			tui.app.QueueUpdateDraw(func() {})
			break
		}

		tui.pollMeters()
		tui.app.QueueUpdateDraw(func() {})
		time.Sleep(refreshInterval)
	}
}

// pollMeters reads the latest analyser windows and updates every strip.
func (tui *Tui) pollMeters() {
	channels := tui.service.Channels()
	muted := make(map[string]bool, len(channels))
	for _, ch := range channels {
		muted[ch.ID] = ch.Muted
	}

	for i, channelID := range tui.channelIDs {
		tui.channelMeters[i].SetMuted(muted[channelID])
		tui.channelMeters[i].SetLevel(bufferLevel(tui.service.ChannelMeter(channelID)))
	}
	tui.masterMeter.SetLevel(bufferLevel(tui.service.MasterMeter()))

	tui.tvHeader.SetText(tui.headerLine())
}

func (tui *Tui) headerLine() string {
	openPanels := 0
	for _, p := range tui.service.PanelStates() {
		if p.Open {
			openPanels++
		}
	}

	return fmt.Sprintf("castpanel  |  channels: %d  |  panels open: %d  |  q to quit, r to reset peaks",
		len(tui.channelIDs), openPanels)
}

// bufferLevel reduces a sample window to its peak in whole dBFS.
func bufferLevel(buf *audio.FloatBuffer) int {
	if buf == nil || len(buf.Data) == 0 {
		return silenceFloor
	}

	var peak float64
	for _, sample := range buf.Data {
		abs := math.Abs(sample)
		if abs > peak {
			peak = abs
		}
	}

	if peak <= 0 {
		return silenceFloor
	}

	return int(math.Round(20 * math.Log10(peak)))
}

// WriteLevelLog appends a log line to the scrolling log view.
func (tui *Tui) WriteLevelLog(level slog.Level, message string) {
	color := "-"

	switch level {
	case slog.LevelWarn:
		color = "yellow"
	case slog.LevelError:
		color = "red::b"
	case slog.LevelDebug:
		color = "gray"
	}

	tui.tvLogs.Write([]byte(fmt.Sprintf("[%s]%s [%s] %s[-:-:-]\n",
		color, time.Now().Format("2006-01-02 15:04:05"), level.String(), message)))
}

func shortLabel(name string) string {
	runes := []rune(name)
	if len(runes) <= layoutMeterWidth {
		return name
	}
	return string(runes[:layoutMeterWidth])
}
