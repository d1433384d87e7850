package mixer

import (
	"reflect"
	"testing"
)

func testChannels() []Channel {
	return []Channel{
		{
			ID:   "mic",
			Name: "Microphone",
			Gain: 75,
			Processors: []Processor{
				{ID: "comp1", Type: TypeCompressor, Enabled: true, Settings: DefaultSettings(TypeCompressor)},
				{ID: "eq1", Type: TypeEqualizer, Enabled: true, Settings: DefaultSettings(TypeEqualizer)},
			},
		},
		{ID: "desktop", Name: "Desktop Audio", Gain: 60},
	}
}

func testMaster() Master {
	return Master{
		Gain: 80,
		Processors: []Processor{
			{ID: "mlim", Type: TypeLimiter, Enabled: true, Settings: DefaultSettings(TypeLimiter)},
		},
	}
}

func TestSetChannelGain(t *testing.T) {
	d := NewDesk(testChannels(), testMaster())

	if !d.SetChannelGain("mic", 42) {
		t.Fatal("Expected gain change on known channel")
	}
	ch, _ := d.Channel("mic")
	if ch.Gain != 42 {
		t.Errorf("Expected gain 42, got %.1f", ch.Gain)
	}
}

func TestToggleChannelMute(t *testing.T) {
	d := NewDesk(testChannels(), testMaster())

	muted, ok := d.ToggleChannelMute("mic")
	if !ok || !muted {
		t.Errorf("Expected first toggle to mute, got muted=%v ok=%v", muted, ok)
	}
	muted, ok = d.ToggleChannelMute("mic")
	if !ok || muted {
		t.Errorf("Expected second toggle to unmute, got muted=%v ok=%v", muted, ok)
	}
}

func TestUnknownChannelOperationsLeaveStateUnchanged(t *testing.T) {
	d := NewDesk(testChannels(), testMaster())
	before := d.Channels()
	beforeMaster := d.Master()

	if d.SetChannelGain("ghost", 10) {
		t.Error("Expected SetChannelGain on unknown channel to report not found")
	}
	if _, ok := d.ToggleChannelMute("ghost"); ok {
		t.Error("Expected ToggleChannelMute on unknown channel to report not found")
	}
	if d.SetProcessorSettings("ghost", "comp1", Settings{"ratio": 2.0}) {
		t.Error("Expected SetProcessorSettings on unknown channel to report not found")
	}
	if _, ok := d.ToggleProcessor("ghost", "comp1"); ok {
		t.Error("Expected ToggleProcessor on unknown channel to report not found")
	}
	if d.SetProcessorSettings("mic", "ghost", Settings{"ratio": 2.0}) {
		t.Error("Expected SetProcessorSettings on unknown processor to report not found")
	}

	if !reflect.DeepEqual(before, d.Channels()) {
		t.Error("Expected channel state unchanged after unknown-id operations")
	}
	if !reflect.DeepEqual(beforeMaster, d.Master()) {
		t.Error("Expected master state unchanged after unknown-id operations")
	}
}

func TestSetProcessorSettingsMergesScalars(t *testing.T) {
	d := NewDesk(testChannels(), testMaster())

	if !d.SetProcessorSettings("mic", "comp1", Settings{"ratio": 8.0, "threshold": -30.0}) {
		t.Fatal("Expected settings merge on known processor")
	}

	ch, _ := d.Channel("mic")
	got := ch.Processors[0].Settings
	if got["ratio"] != 8.0 || got["threshold"] != -30.0 {
		t.Errorf("Expected merged scalars, got %v", got)
	}
	// Untouched keys survive the merge.
	if got["attack"] != 10.0 {
		t.Errorf("Expected attack to survive merge, got %v", got["attack"])
	}
	if got["release"] != 250.0 {
		t.Errorf("Expected release to survive merge, got %v", got["release"])
	}
}

func TestSetProcessorSettingsReplacesBandsWholesale(t *testing.T) {
	d := NewDesk(testChannels(), testMaster())

	newBands := []EQBand{{ID: "only", Frequency: 2500, Gain: -4, Q: 2, Shape: ShapePeaking}}
	if !d.SetProcessorSettings("mic", "eq1", Settings{"bands": newBands}) {
		t.Fatal("Expected settings merge on equalizer")
	}

	ch, _ := d.Channel("mic")
	bands, ok := ch.Processors[1].Settings["bands"].([]EQBand)
	if !ok {
		t.Fatalf("Expected typed band list, got %T", ch.Processors[1].Settings["bands"])
	}
	if len(bands) != 1 || bands[0].ID != "only" {
		t.Errorf("Expected band array replaced wholesale, got %v", bands)
	}
}

func TestToggleProcessor(t *testing.T) {
	d := NewDesk(testChannels(), testMaster())

	enabled, ok := d.ToggleProcessor("mic", "comp1")
	if !ok || enabled {
		t.Errorf("Expected toggle to disable, got enabled=%v ok=%v", enabled, ok)
	}
	ch, _ := d.Channel("mic")
	if ch.Processors[0].Enabled {
		t.Error("Expected processor disabled after toggle")
	}
}

func TestAddProcessorAppends(t *testing.T) {
	d := NewDesk(testChannels(), testMaster())

	gate := Processor{ID: "gate1", Type: TypeGate, Enabled: true, Settings: DefaultSettings(TypeGate)}
	if !d.AddProcessor("mic", gate) {
		t.Fatal("Expected add on known channel")
	}

	ch, _ := d.Channel("mic")
	if len(ch.Processors) != 3 {
		t.Fatalf("Expected 3 processors, got %d", len(ch.Processors))
	}
	if ch.Processors[2].ID != "gate1" {
		t.Errorf("Expected new processor appended last, got order %v", processorIDs(ch.Processors))
	}
}

func TestRemoveProcessorPreservesOrder(t *testing.T) {
	channels := testChannels()
	channels[0].Processors = append(channels[0].Processors,
		Processor{ID: "gate1", Type: TypeGate, Enabled: true, Settings: DefaultSettings(TypeGate)})
	d := NewDesk(channels, testMaster())

	if !d.RemoveProcessor("mic", "eq1") {
		t.Fatal("Expected remove on known processor")
	}

	ch, _ := d.Channel("mic")
	got := processorIDs(ch.Processors)
	want := []string{"comp1", "gate1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected order %v after remove, got %v", want, got)
	}
}

func TestMasterProcessorOperations(t *testing.T) {
	d := NewDesk(testChannels(), testMaster())

	if !d.SetProcessorSettings(MasterID, "mlim", Settings{"threshold": -1.5}) {
		t.Fatal("Expected settings merge on master limiter")
	}
	m := d.Master()
	if m.Processors[0].Settings["threshold"] != -1.5 {
		t.Errorf("Expected master limiter threshold -1.5, got %v", m.Processors[0].Settings["threshold"])
	}

	if _, ok := d.ToggleProcessor(MasterID, "mlim"); !ok {
		t.Error("Expected toggle on master limiter")
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	d := NewDesk(testChannels(), testMaster())

	ch, _ := d.Channel("mic")
	ch.Processors[0].Settings["ratio"] = 99.0
	ch.Gain = 1

	fresh, _ := d.Channel("mic")
	if fresh.Processors[0].Settings["ratio"] == 99.0 {
		t.Error("Expected settings mutation on a copy not to leak into the desk")
	}
	if fresh.Gain == 1 {
		t.Error("Expected gain mutation on a copy not to leak into the desk")
	}
}

func TestSettingsMergeDoesNotModifyInputs(t *testing.T) {
	base := Settings{"a": 1.0, "bands": []EQBand{{ID: "x"}}}
	delta := Settings{"a": 2.0}

	merged := base.Merge(delta)
	if base["a"] != 1.0 {
		t.Error("Expected Merge to leave the receiver untouched")
	}
	if merged["a"] != 2.0 {
		t.Errorf("Expected merged value 2.0, got %v", merged["a"])
	}

	mergedBands := merged["bands"].([]EQBand)
	mergedBands[0].ID = "changed"
	if base["bands"].([]EQBand)[0].ID != "x" {
		t.Error("Expected band list copied, not aliased")
	}
}

func processorIDs(procs []Processor) []string {
	ids := make([]string, len(procs))
	for i, p := range procs {
		ids[i] = p.ID
	}
	return ids
}
