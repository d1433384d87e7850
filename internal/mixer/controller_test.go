package mixer

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/audiolibrelab/castpanel/internal/plugins"
)

type change struct {
	target    string
	subTarget string
	delta     Settings
}

type changeRecorder struct {
	changes []change
}

func (r *changeRecorder) record(targetID, subTargetID string, delta Settings) {
	r.changes = append(r.changes, change{targetID, subTargetID, delta})
}

func (r *changeRecorder) last(t *testing.T) change {
	t.Helper()
	if len(r.changes) == 0 {
		t.Fatal("Expected a settings-changed notification")
	}
	return r.changes[len(r.changes)-1]
}

func newTestController(t *testing.T) (*Controller, *changeRecorder) {
	t.Helper()
	rec := &changeRecorder{}
	desk := NewDesk(testChannels(), testMaster())
	store := NewPresetStore(filepath.Join(t.TempDir(), "presets.yaml"))
	return NewController(desk, store, rec.record), rec
}

func TestControllerSetChannelGainClampsAndNotifies(t *testing.T) {
	c, rec := newTestController(t)

	c.SetChannelGain("mic", 130)

	ch, _ := c.Desk().Channel("mic")
	if ch.Gain != 100 {
		t.Errorf("Expected gain clamped to 100, got %.1f", ch.Gain)
	}
	last := rec.last(t)
	if last.target != "mic" || last.subTarget != "gain" || last.delta["gain"] != 100.0 {
		t.Errorf("Unexpected notification: %+v", last)
	}
}

func TestControllerMasterGain(t *testing.T) {
	c, rec := newTestController(t)

	c.SetChannelGain(MasterID, 55)

	if c.Desk().Master().Gain != 55 {
		t.Errorf("Expected master gain 55, got %.1f", c.Desk().Master().Gain)
	}
	last := rec.last(t)
	if last.target != MasterID || last.subTarget != "gain" {
		t.Errorf("Unexpected notification: %+v", last)
	}
}

func TestControllerUnknownChannelDoesNotNotify(t *testing.T) {
	c, rec := newTestController(t)

	c.SetChannelGain("ghost", 50)
	c.SetProcessorSettings("ghost", "comp1", Settings{"ratio": 2.0})
	c.ToggleProcessor("mic", "ghost")

	if len(rec.changes) != 0 {
		t.Errorf("Expected no notifications for unknown targets, got %v", rec.changes)
	}
}

func TestControllerMuteNotification(t *testing.T) {
	c, rec := newTestController(t)

	muted, ok := c.ToggleChannelMute("mic")
	if !ok || !muted {
		t.Fatalf("Expected mute toggle, got muted=%v ok=%v", muted, ok)
	}
	last := rec.last(t)
	if last.subTarget != "mute" || last.delta["muted"] != true {
		t.Errorf("Unexpected notification: %+v", last)
	}
}

func TestControllerProcessorSettingsNotification(t *testing.T) {
	c, rec := newTestController(t)

	c.SetProcessorSettings("mic", "comp1", Settings{"ratio": 6.0})

	last := rec.last(t)
	if last.target != "mic" || last.subTarget != "comp1" {
		t.Errorf("Unexpected notification: %+v", last)
	}
	if last.delta["ratio"] != 6.0 {
		t.Errorf("Expected delta to carry the change, got %v", last.delta)
	}
}

func TestControllerAddProcessorSelects(t *testing.T) {
	c, _ := newTestController(t)

	proc, ok := c.AddProcessor("desktop", TypeGate)
	if !ok {
		t.Fatal("Expected processor added")
	}

	chID, procID := c.Selection()
	if chID != "desktop" || procID != proc.ID {
		t.Errorf("Expected selection (desktop, %s), got (%s, %s)", proc.ID, chID, procID)
	}

	ch, _ := c.Desk().Channel("desktop")
	if len(ch.Processors) != 1 || ch.Processors[0].Type != TypeGate {
		t.Errorf("Expected gate appended, got %+v", ch.Processors)
	}
}

func TestControllerRemoveProcessorClearsSelection(t *testing.T) {
	c, _ := newTestController(t)

	c.SelectChannel("mic")
	c.SelectProcessor("comp1")
	c.RemoveProcessor("mic", "comp1")

	_, procID := c.Selection()
	if procID != "" {
		t.Errorf("Expected processor selection cleared, got %q", procID)
	}
}

func TestPickPluginAppendsAndSelects(t *testing.T) {
	c, rec := newTestController(t)

	plugin := plugins.Plugin{
		ID:   "builtin.warmth",
		Name: "Warmth",
		Parameters: []plugins.Parameter{
			{ID: "drive", Name: "Drive", Value: 2.0, Min: 0, Max: 10},
		},
	}

	// Without a channel selection nothing happens.
	if _, ok := c.PickPlugin(plugin); ok {
		t.Error("Expected plugin pick without selection to be a no-op")
	}

	c.SelectChannel("mic")
	proc, ok := c.PickPlugin(plugin)
	if !ok {
		t.Fatal("Expected plugin pick to succeed")
	}
	if proc.Type != TypePlugin || proc.PluginID != "builtin.warmth" {
		t.Errorf("Unexpected processor: %+v", proc)
	}
	if proc.Settings["drive"] != 2.0 {
		t.Errorf("Expected plugin defaults copied into settings, got %v", proc.Settings)
	}

	ch, _ := c.Desk().Channel("mic")
	if ch.Processors[len(ch.Processors)-1].ID != proc.ID {
		t.Error("Expected plugin processor appended last")
	}
	_, procID := c.Selection()
	if procID != proc.ID {
		t.Errorf("Expected new plugin processor selected, got %q", procID)
	}
	last := rec.last(t)
	if last.subTarget != proc.ID {
		t.Errorf("Unexpected notification: %+v", last)
	}
}

func TestSavePresetRequiresSelection(t *testing.T) {
	c, _ := newTestController(t)

	if _, ok := c.SavePreset("nothing selected"); ok {
		t.Error("Expected preset save without selection to be a no-op")
	}
}

func TestPresetRoundTrip(t *testing.T) {
	// Saving a compressor preset and applying it to a different
	// compressor yields identical settings; the target's id and enabled
	// flag stay untouched.
	c, _ := newTestController(t)

	c.SetProcessorSettings("mic", "comp1", Settings{"ratio": 7.5, "threshold": -33.0})
	c.SelectChannel("mic")
	c.SelectProcessor("comp1")
	preset, ok := c.SavePreset("punchy")
	if !ok {
		t.Fatal("Expected preset saved")
	}
	if preset.Type != string(TypeCompressor) {
		t.Errorf("Expected compressor preset, got %s", preset.Type)
	}

	comp2, ok := c.AddProcessor("desktop", TypeCompressor)
	if !ok {
		t.Fatal("Expected second compressor added")
	}

	if !c.ApplyPreset(preset.ID) {
		t.Fatal("Expected preset applied")
	}

	src, _ := c.findProcessor("mic", "comp1")
	dst, _ := c.findProcessor("desktop", comp2.ID)
	if !reflect.DeepEqual(src.Settings, dst.Settings) {
		t.Errorf("Expected identical settings after apply:\n src=%v\n dst=%v", src.Settings, dst.Settings)
	}
	if dst.ID != comp2.ID || !dst.Enabled {
		t.Error("Expected target id and enabled flag untouched")
	}
}

func TestApplyPresetTypeMismatchIsIgnored(t *testing.T) {
	c, _ := newTestController(t)

	c.SelectChannel("mic")
	c.SelectProcessor("comp1")
	preset, ok := c.SavePreset("comp settings")
	if !ok {
		t.Fatal("Expected preset saved")
	}

	// Select the equalizer and try to apply the compressor preset.
	c.SelectProcessor("eq1")
	before, _ := c.findProcessor("mic", "eq1")
	if c.ApplyPreset(preset.ID) {
		t.Error("Expected type mismatch to be ignored")
	}
	after, _ := c.findProcessor("mic", "eq1")
	if !reflect.DeepEqual(before.Settings, after.Settings) {
		t.Error("Expected equalizer settings unchanged after mismatch")
	}
}

func TestChannelPresetRoundTrip(t *testing.T) {
	c, _ := newTestController(t)

	c.SetChannelGain("mic", 64)
	c.SetChannelPan("mic", -20)
	c.SelectChannel("mic")
	preset, ok := c.SavePreset("vocal strip")
	if !ok {
		t.Fatal("Expected channel preset saved")
	}
	if preset.Type != PresetTypeChannel {
		t.Fatalf("Expected channel preset, got %s", preset.Type)
	}

	c.SelectChannel("desktop")
	if !c.ApplyPreset(preset.ID) {
		t.Fatal("Expected channel preset applied")
	}

	src, _ := c.Desk().Channel("mic")
	dst, _ := c.Desk().Channel("desktop")
	if dst.Gain != 64 || dst.Pan != -20 {
		t.Errorf("Expected gain/pan applied, got gain=%.1f pan=%.1f", dst.Gain, dst.Pan)
	}
	if !reflect.DeepEqual(processorIDs(src.Processors), processorIDs(dst.Processors)) {
		t.Errorf("Expected processor list applied, got %v", processorIDs(dst.Processors))
	}
}

func TestLimiterPresetOnMasterBus(t *testing.T) {
	c, _ := newTestController(t)

	// Save a limiter preset from the master limiter, change the live
	// settings, then re-apply against the master selection.
	c.SelectChannel(MasterID)
	c.SelectProcessor("mlim")
	preset, ok := c.SavePreset("broadcast limit")
	if !ok {
		t.Fatal("Expected limiter preset saved")
	}
	if preset.Type != string(TypeLimiter) {
		t.Fatalf("Expected limiter preset, got %s", preset.Type)
	}

	c.SetProcessorSettings(MasterID, "mlim", Settings{"threshold": -12.0})
	if !c.ApplyPreset(preset.ID) {
		t.Fatal("Expected limiter preset applied to master processor")
	}

	proc, _ := c.findProcessor(MasterID, "mlim")
	if proc.Settings["threshold"] != -3.0 {
		t.Errorf("Expected threshold restored to -3.0, got %v", proc.Settings["threshold"])
	}
}

func TestChannelPresetNeedsChannelSelection(t *testing.T) {
	c, _ := newTestController(t)

	c.SelectChannel("mic")
	preset, _ := c.SavePreset("strip")

	c.SelectChannel("")
	if c.ApplyPreset(preset.ID) {
		t.Error("Expected channel preset without selection to be ignored")
	}

	c.SelectChannel(MasterID)
	if c.ApplyPreset(preset.ID) {
		t.Error("Expected channel preset against master selection to be ignored")
	}
}
