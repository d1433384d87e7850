package mixer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPresetStoreAddAssignsIDs(t *testing.T) {
	store := NewPresetStore(filepath.Join(t.TempDir(), "presets.yaml"))

	first, err := store.Add(Preset{Name: "one", Type: string(TypeCompressor), Settings: Settings{"ratio": 4.0}})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	second, err := store.Add(Preset{Name: "two", Type: string(TypeGate), Settings: Settings{"threshold": -40.0}})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if first.ID == second.ID {
		t.Errorf("Expected distinct preset ids, got %s twice", first.ID)
	}
	if first.ID != "preset_1" || second.ID != "preset_2" {
		t.Errorf("Expected sequential ids, got %s and %s", first.ID, second.ID)
	}
}

func TestPresetStorePersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")

	store := NewPresetStore(path)
	saved, err := store.Add(Preset{
		Name: "eq curve",
		Type: string(TypeEqualizer),
		Settings: Settings{
			"bands": []EQBand{
				{ID: "low", Frequency: 120, Gain: 3, Q: 0.7, Shape: ShapeLowShelf},
				{ID: "high", Frequency: 9000, Gain: -2, Q: 0.8, Shape: ShapeHighShelf},
			},
		},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	reloaded := NewPresetStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	got, ok := reloaded.Get(saved.ID)
	if !ok {
		t.Fatal("Expected preset to survive reload")
	}
	if got.Name != "eq curve" || got.Type != string(TypeEqualizer) {
		t.Errorf("Unexpected preset after reload: %+v", got)
	}

	bands, ok := got.Settings["bands"].([]EQBand)
	if !ok {
		t.Fatalf("Expected typed band list after reload, got %T", got.Settings["bands"])
	}
	if len(bands) != 2 || bands[0].Frequency != 120 || bands[1].Shape != ShapeHighShelf {
		t.Errorf("Unexpected bands after reload: %v", bands)
	}
}

func TestPresetStoreMissingFileIsEmpty(t *testing.T) {
	store := NewPresetStore(filepath.Join(t.TempDir(), "nope.yaml"))

	if err := store.Load(); err != nil {
		t.Fatalf("Load of missing file should succeed, got %v", err)
	}
	if len(store.List()) != 0 {
		t.Errorf("Expected empty store, got %d presets", len(store.List()))
	}
}

func TestPresetStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	if err := os.WriteFile(path, []byte("\t not yaml {"), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	store := NewPresetStore(path)
	if err := store.Load(); err == nil {
		t.Error("Expected parse error for corrupt preset file")
	}
}

func TestPresetStoreRemove(t *testing.T) {
	store := NewPresetStore(filepath.Join(t.TempDir(), "presets.yaml"))

	saved, err := store.Add(Preset{Name: "gone soon", Type: string(TypeGate)})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	removed, err := store.Remove(saved.ID)
	if err != nil || !removed {
		t.Fatalf("Expected removal, got removed=%v err=%v", removed, err)
	}
	if _, ok := store.Get(saved.ID); ok {
		t.Error("Expected preset gone after removal")
	}

	removed, err = store.Remove("preset_999")
	if err != nil || removed {
		t.Errorf("Expected removal of unknown id to report false, got removed=%v err=%v", removed, err)
	}
}

func TestPresetStoreIDsStayUniqueAfterRemoveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")

	store := NewPresetStore(path)
	first, err := store.Add(Preset{Name: "one", Type: string(TypeCompressor)})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	second, err := store.Add(Preset{Name: "two", Type: string(TypeGate)})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if removed, err := store.Remove(first.ID); err != nil || !removed {
		t.Fatalf("Expected removal, got removed=%v err=%v", removed, err)
	}

	reloaded := NewPresetStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	third, err := reloaded.Add(Preset{Name: "three", Type: string(TypeLimiter)})
	if err != nil {
		t.Fatalf("Add after reload failed: %v", err)
	}
	if third.ID == second.ID {
		t.Fatalf("New preset reused the id of a surviving preset: %s", third.ID)
	}

	got, ok := reloaded.Get(third.ID)
	if !ok {
		t.Fatal("Expected new preset reachable by id")
	}
	if got.Name != "three" {
		t.Errorf("Get(%s) resolved to the wrong preset: %q", third.ID, got.Name)
	}
}

func TestPresetStoreMemoryOnly(t *testing.T) {
	store := NewPresetStore("")

	if _, err := store.Add(Preset{Name: "ephemeral", Type: string(TypeDeEsser)}); err != nil {
		t.Fatalf("Add to memory-only store failed: %v", err)
	}
	if len(store.List()) != 1 {
		t.Errorf("Expected 1 preset, got %d", len(store.List()))
	}
}
