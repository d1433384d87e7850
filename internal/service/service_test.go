package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/audiolibrelab/castpanel/internal/config"
	"github.com/audiolibrelab/castpanel/internal/mixer"
)

func newTestService(t *testing.T) Service {
	t.Helper()

	cfg := config.Default()
	cfg.Presets.Path = filepath.Join(t.TempDir(), "presets.yaml")
	cfg.Plugins.ScanPaths = nil

	svc, err := New(cfg, "")
	if err != nil {
		t.Fatalf("Expected no error creating service, got: %v", err)
	}
	return svc
}

func newStartedService(t *testing.T) Service {
	t.Helper()

	svc := newTestService(t)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Expected no error starting service, got: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

func TestServiceStartAndStop(t *testing.T) {
	svc := newTestService(t)

	if svc.Running() {
		t.Error("Expected service not running before Start")
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !svc.Running() {
		t.Error("Expected service running after Start")
	}

	// Start is idempotent.
	if err := svc.Start(context.Background()); err != nil {
		t.Errorf("Expected repeated Start to succeed, got: %v", err)
	}

	svc.Stop()
	if svc.Running() {
		t.Error("Expected service stopped after Stop")
	}
	svc.Stop()
}

func TestServiceStartRealizesChannels(t *testing.T) {
	svc := newStartedService(t)

	for _, ch := range svc.Channels() {
		if svc.ChannelMeter(ch.ID) == nil {
			t.Errorf("Expected live meter for channel %s", ch.ID)
		}
	}
	if svc.MasterMeter() == nil {
		t.Error("Expected live master meter")
	}
}

func TestServicePanelOperations(t *testing.T) {
	svc := newStartedService(t)

	if err := svc.OpenPanel("scenes"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := svc.OpenPanel("backstage"); err == nil {
		t.Error("Expected error for unknown panel kind")
	}

	states := svc.PanelStates()
	open := map[string]bool{}
	for _, st := range states {
		open[st.Kind] = st.Open
	}
	if !open["audio-mixer"] || !open["scenes"] {
		t.Errorf("Expected audio-mixer and scenes open, got %v", open)
	}

	if err := svc.OpenPanelExclusive("devices"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	count := 0
	for _, st := range svc.PanelStates() {
		if st.Open {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 panel open after exclusive open, got %d", count)
	}

	if err := svc.TogglePanel("devices"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for _, st := range svc.PanelStates() {
		if st.Open {
			t.Errorf("Expected all panels closed, %s still open", st.Kind)
		}
	}
}

func TestServiceMixerOperations(t *testing.T) {
	svc := newStartedService(t)

	svc.SetChannelGain("mic", 40)
	channels := svc.Channels()
	var mic mixer.Channel
	for _, ch := range channels {
		if ch.ID == "mic" {
			mic = ch
		}
	}
	if mic.Gain != 40 {
		t.Errorf("Expected mic gain 40, got %.1f", mic.Gain)
	}

	muted, ok := svc.ToggleChannelMute("mic")
	if !ok || !muted {
		t.Errorf("Expected mic muted, got muted=%v ok=%v", muted, ok)
	}

	svc.SetChannelGain(mixer.MasterID, 65)
	if svc.MasterBus().Gain != 65 {
		t.Errorf("Expected master gain 65, got %.1f", svc.MasterBus().Gain)
	}
}

func TestServiceAddChannel(t *testing.T) {
	svc := newStartedService(t)

	added, err := svc.AddChannel(context.Background(), mixer.Channel{ID: "guest", Name: "Guest Mic"})
	if err != nil {
		t.Fatalf("Expected no error adding channel, got: %v", err)
	}
	if added.Gain != mixer.DefaultChannelGain {
		t.Errorf("Expected default gain %.0f, got %.0f", mixer.DefaultChannelGain, added.Gain)
	}

	found := false
	for _, ch := range svc.Channels() {
		if ch.ID == "guest" {
			found = true
		}
	}
	if !found {
		t.Error("Expected new channel on the desk")
	}
	if svc.ChannelMeter("guest") == nil {
		t.Error("Expected new channel realized in the graph")
	}

	if _, err := svc.AddChannel(context.Background(), mixer.Channel{ID: "guest", Name: "Again"}); err == nil {
		t.Error("Expected error for duplicate channel id")
	}
	if _, err := svc.AddChannel(context.Background(), mixer.Channel{ID: mixer.MasterID, Name: "Nope"}); err == nil {
		t.Error("Expected error for reserved channel id")
	}
	if _, err := svc.AddChannel(context.Background(), mixer.Channel{Name: "No id"}); err == nil {
		t.Error("Expected error for missing channel id")
	}
}

func TestServiceAddProcessor(t *testing.T) {
	svc := newStartedService(t)

	proc, err := svc.AddProcessor("desktop", "compressor")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if proc.Type != mixer.TypeCompressor {
		t.Errorf("Expected compressor, got %s", proc.Type)
	}

	if _, err := svc.AddProcessor("desktop", "flanger"); err == nil {
		t.Error("Expected error for unknown processor type")
	}
	if _, err := svc.AddProcessor("ghost", "compressor"); err == nil {
		t.Error("Expected error for unknown channel")
	}
}

func TestServicePresetRoundTrip(t *testing.T) {
	svc := newStartedService(t)

	svc.SelectChannel("mic")
	channels := svc.Channels()
	var procID string
	for _, ch := range channels {
		if ch.ID == "mic" {
			procID = ch.Processors[1].ID // mic-comp
		}
	}
	svc.SelectProcessor(procID)

	svc.SetProcessorSettings("mic", procID, mixer.Settings{"threshold": -30.0})
	preset, err := svc.SavePreset("Voice Squash")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	presets := svc.ListPresets()
	if len(presets) != 1 || presets[0].Name != "Voice Squash" {
		t.Errorf("Expected saved preset listed, got %+v", presets)
	}

	if err := svc.ApplyPreset(preset.ID); err != nil {
		t.Errorf("Expected no error applying preset, got: %v", err)
	}
	if err := svc.ApplyPreset("preset_999"); err == nil {
		t.Error("Expected error for unknown preset")
	}

	if err := svc.DeletePreset(preset.ID); err != nil {
		t.Errorf("Expected no error deleting preset, got: %v", err)
	}
	if err := svc.DeletePreset(preset.ID); err == nil {
		t.Error("Expected error deleting preset twice")
	}
}

func TestServicePluginFlow(t *testing.T) {
	svc := newStartedService(t)

	plugins := svc.ListPlugins()
	if len(plugins) == 0 {
		t.Fatal("Expected built-in plugins in the catalogue")
	}

	// No channel selected yet.
	if _, err := svc.PickPlugin(context.Background(), plugins[0].ID); err == nil {
		t.Error("Expected error picking plugin without a selected channel")
	}

	svc.SelectChannel("music")
	proc, err := svc.PickPlugin(context.Background(), plugins[0].ID)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if proc.Type != mixer.TypePlugin || proc.PluginID != plugins[0].ID {
		t.Errorf("Expected plugin processor for %s, got %+v", plugins[0].ID, proc)
	}

	if _, err := svc.PickPlugin(context.Background(), "builtin.nonexistent"); err == nil {
		t.Error("Expected error for unknown plugin")
	}

	param := plugins[0].Parameters[0]
	if err := svc.SetPluginParameter(plugins[0].ID, param.ID, param.Max); err != nil {
		t.Errorf("Expected no error setting parameter, got: %v", err)
	}
	if err := svc.SetPluginParameter(plugins[0].ID, param.ID, param.Max+1); err == nil {
		t.Error("Expected error for out-of-range parameter value")
	}
}

func TestServiceGainChangesReachGraph(t *testing.T) {
	svc := newStartedService(t)

	svc.SetChannelGain("mic", 0)
	muted, _ := svc.ToggleChannelMute("mic")
	if !muted {
		t.Fatal("Expected mic muted")
	}

	// Unmuting snaps the live gain to full scale even though the desk
	// fader still reads 0.
	svc.ToggleChannelMute("mic")
	buf := svc.ChannelMeter("mic")
	if buf == nil {
		t.Fatal("Expected mic meter")
	}
	peak := 0.0
	for _, sample := range buf.Data {
		if sample > peak {
			peak = sample
		}
	}
	if peak < 0.9 {
		t.Errorf("Expected near full-scale meter after unmute, got peak %.3f", peak)
	}
}

const profileSwitchConfig = `
globals:
  presets:
    path: %s

definitions:
  channels:
    - id: mic
      name: Microphone
      gain: 75
    - id: desktop
      name: Desktop Audio
      gain: 60

configs:
  default:
    channels:
      - ref: mic
      - ref: desktop
    panels:
      max_panels: 4
      strategy: fifo
    master:
      gain: 80

  studio:
    channels:
      - ref: mic
        gain: 85
`

func TestServiceProfileSwitchDuringReads(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "castpanel.yaml")
	content := fmt.Sprintf(profileSwitchConfig, filepath.Join(dir, "presets.yaml"))
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := config.LoadWithProfile(configPath, "default")
	if err != nil {
		t.Fatalf("Expected no error loading config, got: %v", err)
	}
	svc, err := New(cfg, configPath)
	if err != nil {
		t.Fatalf("Expected no error creating service, got: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Expected no error starting service, got: %v", err)
	}
	t.Cleanup(svc.Stop)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for _, ch := range svc.Channels() {
					if ch.ID == "" {
						t.Error("Read a channel with an empty id during profile switch")
					}
				}
				svc.MasterBus()
				svc.PanelStates()
				svc.ChannelMeter("mic")
				svc.MasterMeter()
			}
		}()
	}

	for i := 0; i < 25; i++ {
		profile := "studio"
		if i%2 == 0 {
			profile = "default"
		}
		if err := svc.LoadProfile(context.Background(), profile); err != nil {
			t.Fatalf("Expected no error switching to %s, got: %v", profile, err)
		}
	}
	close(done)
	wg.Wait()

	if !svc.Running() {
		t.Error("Expected service running after profile switches")
	}
	found := false
	for _, ch := range svc.Channels() {
		if ch.ID == "mic" && ch.Gain == 75 {
			found = true
		}
	}
	if !found {
		t.Error("Expected final state to reflect the default profile")
	}
}

func TestServiceLastError(t *testing.T) {
	svc := newStartedService(t)

	if svc.GetLastError() != "" {
		t.Errorf("Expected no error after clean start, got %s", svc.GetLastError())
	}

	// A failing plugin load records the error.
	if _, err := svc.PickPlugin(context.Background(), "builtin.nonexistent"); err == nil {
		t.Error("Expected error for unknown plugin")
	}
}
