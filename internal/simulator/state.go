package simulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nerrad567/homebus/internal/device"
)

// State file names per kind, inside the simulator data directory.
const (
	SensorsFile  = "sensors.json"
	SwitchesFile = "switches.json"
	ClocksFile   = "clocks.json"
)

// StateFileName returns the state file used by simulators of kind.
func StateFileName(kind device.Kind) string {
	switch kind {
	case device.KindSensor:
		return SensorsFile
	case device.KindSwitch:
		return SwitchesFile
	default:
		return ClocksFile
	}
}

// StateFile is a JSON object mapping a device topic to its simulated state.
//
// Several simulator processes of the same kind share one file, each owning
// the entry for its own topic.
type StateFile[T any] struct {
	path string
}

// NewStateFile creates a state file handle for path.
func NewStateFile[T any](path string) *StateFile[T] {
	return &StateFile[T]{path: path}
}

// Path returns the file path.
func (f *StateFile[T]) Path() string {
	return f.path
}

// Load returns the entry for key. A missing file or entry reports ok=false
// with a nil error; an unreadable file returns the error.
func (f *StateFile[T]) Load(key string) (value T, ok bool, err error) {
	entries, err := f.read()
	if err != nil {
		return value, false, err
	}
	value, ok = entries[key]
	return value, ok, nil
}

// Save stores value under key, keeping the other entries. A corrupt file
// is replaced.
func (f *StateFile[T]) Save(key string, value T) error {
	entries, err := f.read()
	if err != nil {
		entries = make(map[string]T)
	}
	entries[key] = value

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding simulator state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck // Already failing
		os.Remove(tmpPath) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("writing simulator state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("closing simulator state: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("replacing simulator state: %w", err)
	}
	return nil
}

func (f *StateFile[T]) read() (map[string]T, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]T), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading simulator state: %w", err)
	}

	entries := make(map[string]T)
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptState, f.path, err)
	}
	return entries, nil
}
