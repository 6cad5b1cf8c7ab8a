package device

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/homebus/internal/infrastructure/config"
	"github.com/nerrad567/homebus/internal/infrastructure/database"
	_ "github.com/nerrad567/homebus/migrations" // Registers the registry schema
)

func openSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "homebus.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db)
}

// storeFactories runs the shared store contract against both backends.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store {
			return NewFileStore(filepath.Join(t.TempDir(), "data", "devices.json"))
		},
		"sqlite": func(t *testing.T) Store {
			return openSQLiteStore(t)
		},
	}
}

func TestStore_EmptyReturnsNoSnapshot(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			_, err := newStore(t).Load(context.Background())
			if !errors.Is(err, ErrNoSnapshot) {
				t.Errorf("Load() error = %v, want ErrNoSnapshot", err)
			}
		})
	}
}

func TestStore_SaveLoad(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			want := Snapshot{LastID: 6, Devices: map[string]Kind{"1": KindSensor, "4": KindSwitch, "6": KindWatch}}
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			assertSameState(t, want, got)

			// A second save replaces, not merges.
			want = Snapshot{LastID: 7, Devices: map[string]Kind{"7": KindSwitch}}
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("second Save() error = %v", err)
			}
			got, err = store.Load(ctx)
			if err != nil {
				t.Fatalf("second Load() error = %v", err)
			}
			assertSameState(t, want, got)
		})
	}
}

func TestStore_RegistryRoundTrip(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			r := NewRegistry(store, DefaultSnapshot(3))
			r.Add(ctx, "switch")
			r.Add(ctx, "watch")
			r.Remove(ctx, "2")

			fresh := NewRegistry(store, DefaultSnapshot(0))
			if !fresh.Load(ctx) {
				t.Fatal("Load() = false, want true")
			}
			assertSameState(t, r.Snapshot(), fresh.Snapshot())
		})
	}
}

func TestFileStore_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	store := NewFileStore(path)

	if err := store.Save(context.Background(), DefaultSnapshot(3)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	if raw["device_last_id"] != float64(3) {
		t.Errorf("device_last_id = %v, want 3", raw["device_last_id"])
	}
	devices, ok := raw["devices"].(map[string]any)
	if !ok || devices["2"] != "switch" {
		t.Errorf("devices = %v, want 2 -> switch", raw["devices"])
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the snapshot", len(entries))
	}
}

func TestFileStore_ReadsHandWrittenSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	content := `{"device_last_id": 3, "devices": {"1": "sensor", "2": "switch", "3": "watch"}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	snap, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	assertSameState(t, DefaultSnapshot(3), snap)
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := NewFileStore(path).Load(context.Background())
	if err == nil || errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Load() error = %v, want decode error", err)
	}

	// The registry treats it as unreadable and keeps its defaults.
	r := NewRegistry(NewFileStore(path), DefaultSnapshot(3))
	if r.Load(context.Background()) {
		t.Error("Registry.Load() = true for corrupt snapshot")
	}
	if r.Count() != 3 {
		t.Errorf("Count() = %d, want 3", r.Count())
	}
}

func TestFileStore_SaveToUnwritableDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	// The parent "directory" is a regular file.
	store := NewFileStore(filepath.Join(blocker, "devices.json"))
	if err := store.Save(context.Background(), DefaultSnapshot(3)); err == nil {
		t.Error("Save() error = nil, want error")
	}
}
