package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// finalSaveTimeout bounds the flush RunAutosave performs after its context ends.
const finalSaveTimeout = 5 * time.Second

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry owns the set of known devices and the id counter.
//
// Ids are decimal strings produced by an increasing counter and are never
// reused. Every mutation is persisted through the Store; persistence errors
// are logged and never fail the mutation.
//
// All public methods are thread-safe.
type Registry struct {
	store  Store
	logger Logger

	mu      sync.RWMutex // Protects nextID and devices
	nextID  int
	devices map[string]Kind

	// saveMu serialises writes to the store. The snapshot is taken while
	// holding it, so the last write to finish carries the newest state.
	saveMu sync.Mutex
}

// NewRegistry creates a registry holding defaults until Load is called.
func NewRegistry(store Store, defaults Snapshot) *Registry {
	r := &Registry{
		store:  store,
		logger: noopLogger{},
	}
	r.apply(defaults)
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Load replaces the in-memory state with the persisted snapshot.
//
// Loading is best effort: a missing or unreadable snapshot keeps the current
// state and logs a warning. Entries with an unknown kind are skipped. The
// counter is raised to at least the largest numeric id present, so a
// hand-edited snapshot cannot cause an id to be handed out twice.
//
// It reports whether a snapshot was applied.
func (r *Registry) Load(ctx context.Context) bool {
	snap, err := r.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			r.logger.Warn("no device snapshot found, using defaults")
		} else {
			r.logger.Warn("device snapshot unreadable, using defaults", "error", err)
		}
		return false
	}

	for id, kind := range snap.Devices {
		if !kind.Valid() {
			r.logger.Warn("skipping device with unknown kind", "id", id, "kind", kind)
			delete(snap.Devices, id)
		}
	}

	r.apply(snap)

	r.mu.RLock()
	count, lastID := len(r.devices), r.nextID
	r.mu.RUnlock()
	r.logger.Info("device registry loaded", "count", count, "last_id", lastID)
	return true
}

// apply installs snap as the current state.
func (r *Registry) apply(snap Snapshot) {
	snap = snap.Clone()

	lastID := snap.LastID
	if lastID < 0 {
		lastID = 0
	}
	for id := range snap.Devices {
		if n, err := strconv.Atoi(id); err == nil && n > lastID {
			lastID = n
		}
	}

	r.mu.Lock()
	r.nextID = lastID
	r.devices = snap.Devices
	r.mu.Unlock()
}

// Save writes the current state to the store.
//
// The error is logged and returned; mutations call it and ignore the result.
func (r *Registry) Save(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	snap := r.Snapshot()
	if err := r.store.Save(ctx, snap); err != nil {
		r.logger.Warn("saving device registry failed", "error", err)
		return fmt.Errorf("saving device registry: %w", err)
	}

	r.logger.Debug("device registry saved", "count", len(snap.Devices), "last_id", snap.LastID)
	return nil
}

// Add registers a new device of the given kind and persists the registry.
//
// The kind is parsed with ParseKind; an unknown kind returns ErrInvalidKind
// and leaves the registry untouched. isSwitch reports whether the new
// device is a switch, which callers announce on the bus.
func (r *Registry) Add(ctx context.Context, kind string) (dev Device, isSwitch bool, err error) {
	k, err := ParseKind(kind)
	if err != nil {
		return Device{}, false, err
	}

	r.mu.Lock()
	id := r.allocateID()
	r.devices[id] = k
	r.mu.Unlock()

	r.logger.Info("device added", "id", id, "kind", k)
	_ = r.Save(ctx) //nolint:errcheck // Logged by Save

	return Device{ID: id, Kind: k}, k == KindSwitch, nil
}

// allocateID advances the counter past any id already in use.
// Caller must hold r.mu.
func (r *Registry) allocateID() string {
	for {
		r.nextID++
		id := strconv.Itoa(r.nextID)
		if _, taken := r.devices[id]; !taken {
			return id
		}
	}
}

// Remove deletes a device and persists the registry.
//
// Removing an unknown id is a no-op; removed reports whether anything changed.
// The counter is not decremented.
func (r *Registry) Remove(ctx context.Context, id string) (removed bool) {
	r.mu.Lock()
	kind, ok := r.devices[id]
	if ok {
		delete(r.devices, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.logger.Info("device removed", "id", id, "kind", kind)
	_ = r.Save(ctx) //nolint:errcheck // Logged by Save
	return true
}

// Get returns a device by id, or ErrDeviceNotFound.
func (r *Registry) Get(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kind, ok := r.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return Device{ID: id, Kind: kind}, nil
}

// List returns every device ordered by id.
func (r *Registry) List() []Device {
	return r.filter(func(Kind) bool { return true })
}

// ListByKind returns the devices of one kind ordered by id.
func (r *Registry) ListByKind(kind Kind) []Device {
	return r.filter(func(k Kind) bool { return k == kind })
}

func (r *Registry) filter(keep func(Kind) bool) []Device {
	r.mu.RLock()
	devices := make([]Device, 0, len(r.devices))
	for id, kind := range r.devices {
		if keep(kind) {
			devices = append(devices, Device{ID: id, Kind: kind})
		}
	}
	r.mu.RUnlock()

	sortDevices(devices)
	return devices
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// LastID returns the last id handed out.
func (r *Registry) LastID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextID
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{LastID: r.nextID, Devices: r.devices}.Clone()
}

// RunAutosave saves the registry every interval until ctx ends, then saves
// once more. A non-positive interval only performs the final save.
func (r *Registry) RunAutosave(ctx context.Context, interval time.Duration) {
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				_ = r.Save(ctx) //nolint:errcheck // Logged by Save
			}
		}
	} else {
		<-ctx.Done()
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
	defer cancel()
	_ = r.Save(flushCtx) //nolint:errcheck // Logged by Save
}

// sortDevices orders by numeric id; non-numeric ids sort last, lexically.
func sortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		a, errA := strconv.Atoi(devices[i].ID)
		b, errB := strconv.Atoi(devices[j].ID)
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return devices[i].ID < devices[j].ID
		}
	})
}
