package models

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDeviceState_EmptyEncodesAsObject(t *testing.T) {
	var s DeviceState
	if !s.IsEmpty() {
		t.Fatal("zero state should be empty")
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("got %s, want {}", data)
	}
}

func TestDeviceState_PowerOffIsNotEmpty(t *testing.T) {
	var s DeviceState
	if err := json.Unmarshal([]byte(`{"power":false}`), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s.IsEmpty() {
		t.Error("state with power=false must not be empty")
	}
}

func TestDeviceState_Clone(t *testing.T) {
	seed := DefaultSeed()
	orig := seed.State
	orig.Effects.Settings = map[string]EffectSettings{
		"2": {"speed": 3.0, "colors": []interface{}{"red"}},
	}

	clone := orig.Clone()
	if !reflect.DeepEqual(orig, clone) {
		t.Fatal("clone differs from original")
	}

	*clone.Brightness = 1
	clone.Environment.CO2.History24h[0] = 99
	clone.Effects.Settings["2"]["speed"] = 9.0
	clone.Settings.MQTT.Host = "elsewhere"

	if *orig.Brightness != 100 {
		t.Errorf("brightness leaked into original: %d", *orig.Brightness)
	}
	if orig.Environment.CO2.History24h[0] != 0 {
		t.Error("history leaked into original")
	}
	if orig.Effects.Settings["2"]["speed"] != 3.0 {
		t.Error("effect settings leaked into original")
	}
	if orig.Settings.MQTT.Host != "localhost" {
		t.Error("mqtt settings leaked into original")
	}
}

func TestDeviceState_MatrixSize(t *testing.T) {
	tests := []struct {
		name          string
		state         DeviceState
		width, height int
	}{
		{"unknown", DeviceState{}, 64, 64},
		{"reported", DeviceState{Width: Int(32), Height: Int(16)}, 32, 16},
		{"zero ignored", DeviceState{Width: Int(0), Height: Int(78)}, 64, 78},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := tt.state.MatrixSize(64, 64)
			if w != tt.width || h != tt.height {
				t.Errorf("got %dx%d, want %dx%d", w, h, tt.width, tt.height)
			}
		})
	}
}

func TestDiff_AcceptsStringValue(t *testing.T) {
	var r Reading
	if err := json.Unmarshal([]byte(`{"value":21.5,"diff":{"type":1,"value":"0.4","inverse":false}}`), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if r.Diff.Value.String() != "0.4" {
		t.Errorf("diff value = %q, want 0.4", r.Diff.Value)
	}
	if r.Diff.Type != DiffUp {
		t.Errorf("diff type = %d, want up", r.Diff.Type)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"aquarium": ModeAquarium, "Effect": ModeEffect, "2": ModeImage, " text ": ModeText} {
		got, err := ParseMode(in)
		if err != nil {
			t.Errorf("ParseMode(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseMode(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseMode("disco"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestImageRef_JSON(t *testing.T) {
	t.Run("number", func(t *testing.T) {
		var st ImageState
		if err := json.Unmarshal([]byte(`{"selected":3}`), &st); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if st.Selected.ByName() || st.Selected.ID != 3 {
			t.Errorf("got %+v, want id 3", *st.Selected)
		}
	})

	t.Run("string", func(t *testing.T) {
		var st ImageState
		if err := json.Unmarshal([]byte(`{"selected":"cat"}`), &st); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if !st.Selected.ByName() || st.Selected.Name != "cat" {
			t.Errorf("got %+v, want name cat", *st.Selected)
		}
		out, _ := json.Marshal(st)
		if string(out) != `{"selected":"cat"}` {
			t.Errorf("round trip = %s", out)
		}
	})

	t.Run("bool rejected", func(t *testing.T) {
		var ref ImageRef
		if err := json.Unmarshal([]byte(`true`), &ref); err == nil {
			t.Error("expected error for boolean reference")
		}
	})
}

func TestParseImageRef(t *testing.T) {
	if ref := ParseImageRef("7"); ref.ByName() || ref.ID != 7 {
		t.Errorf("ParseImageRef(7) = %+v", ref)
	}
	if ref := ParseImageRef("sunset"); !ref.ByName() {
		t.Errorf("ParseImageRef(sunset) = %+v", ref)
	}
	if body := ImageByID(3).Body(); body["id"] != 3 {
		t.Errorf("body = %v", body)
	}
}

func TestDefaultSeed(t *testing.T) {
	seed := DefaultSeed()
	if len(seed.Images) != 5 {
		t.Fatalf("got %d images, want 5", len(seed.Images))
	}
	if seed.State.Brightness == nil || *seed.State.Brightness != 100 {
		t.Errorf("brightness = %v, want 100", seed.State.Brightness)
	}
	if seed.State.Mode == nil || *seed.State.Mode != ModeAquarium {
		t.Errorf("mode = %v, want aquarium", seed.State.Mode)
	}
	if seed.State.Settings.EDMX.Timeout != 5000 {
		t.Errorf("edmx timeout = %d", seed.State.Settings.EDMX.Timeout)
	}
	if len(seed.State.Environment.Temperature.History24h) != 24 {
		t.Errorf("history length = %d", len(seed.State.Environment.Temperature.History24h))
	}
}

func TestLoadSeed_WithImageFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.gif"), []byte("GIF89a-fake"), 0644)
	content := "state:\n  power: true\nimages:\n  - name: a\n    file: a.gif\n"
	os.WriteFile(filepath.Join(dir, "seed.yaml"), []byte(content), 0644)

	seed, err := LoadSeed(filepath.Join(dir, "seed.yaml"))
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if seed.State.Power == nil || !*seed.State.Power {
		t.Error("power should be true")
	}
	if seed.Images[0].Size != int64(len("GIF89a-fake")) {
		t.Errorf("size = %d", seed.Images[0].Size)
	}
}

func TestLoadSeed_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadSeed(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(": : bad yaml [[["), 0644)
	if _, err := LoadSeed(filepath.Join(dir, "bad.yaml")); err == nil {
		t.Error("expected error for invalid YAML")
	}

	os.WriteFile(filepath.Join(dir, "noname.yaml"), []byte("images:\n  - size: 3\n"), 0644)
	if _, err := LoadSeed(filepath.Join(dir, "noname.yaml")); err == nil {
		t.Error("expected error for unnamed image")
	}

	os.WriteFile(filepath.Join(dir, "nofile.yaml"), []byte("images:\n  - name: x\n    file: nope.gif\n"), 0644)
	if _, err := LoadSeed(filepath.Join(dir, "nofile.yaml")); err == nil {
		t.Error("expected error for missing image file")
	}
}
