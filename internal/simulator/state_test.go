package simulator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/homebus/internal/device"
)

func TestStateFile_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", SensorsFile)
	f := NewStateFile[float64](path)

	if _, ok, err := f.Load("redes2/2312/1/sensor_1"); ok || err != nil {
		t.Fatalf("Load() on missing file = ok %v, err %v; want false, nil", ok, err)
	}

	if err := f.Save("redes2/2312/1/sensor_1", 24); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := f.Save("redes2/2312/1/sensor_5", 21.5); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	tests := []struct {
		key  string
		want float64
	}{
		{key: "redes2/2312/1/sensor_1", want: 24},
		{key: "redes2/2312/1/sensor_5", want: 21.5},
	}
	for _, tt := range tests {
		got, ok, err := f.Load(tt.key)
		if err != nil || !ok || got != tt.want {
			t.Errorf("Load(%s) = %v, %v, %v; want %v", tt.key, got, ok, err, tt.want)
		}
	}
}

func TestStateFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), SwitchesFile)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("writing corrupt file: %v", err)
	}
	f := NewStateFile[bool](path)

	if _, _, err := f.Load("k"); !errors.Is(err, ErrCorruptState) {
		t.Errorf("Load() error = %v, want ErrCorruptState", err)
	}

	// Save replaces the corrupt file.
	if err := f.Save("k", true); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if on, ok, err := f.Load("k"); err != nil || !ok || !on {
		t.Errorf("Load() after Save = %v, %v, %v; want true", on, ok, err)
	}
}

func TestStateFile_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ClocksFile)
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("writing empty file: %v", err)
	}

	if _, ok, err := NewStateFile[string](path).Load("k"); ok || err != nil {
		t.Errorf("Load() on empty file = ok %v, err %v; want false, nil", ok, err)
	}
}

func TestStateFileName(t *testing.T) {
	tests := map[device.Kind]string{
		device.KindSensor: "sensors.json",
		device.KindSwitch: "switches.json",
		device.KindWatch:  "clocks.json",
	}
	for kind, want := range tests {
		if got := StateFileName(kind); got != want {
			t.Errorf("StateFileName(%s) = %q, want %q", kind, got, want)
		}
	}
}
