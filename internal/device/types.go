package device

import (
	"fmt"
	"strings"
)

// Kind is the type of a device.
type Kind string

// Known device kinds.
const (
	KindSensor Kind = "sensor"
	KindSwitch Kind = "switch"
	KindWatch  Kind = "watch"
)

// Kinds returns every known kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindSensor, KindSwitch, KindWatch}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSensor, KindSwitch, KindWatch:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind converts user input to a Kind. Matching is case-insensitive and
// ignores surrounding whitespace.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// Device is a registered device.
type Device struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// Snapshot is the persisted state of the registry.
type Snapshot struct {
	// LastID is the last id handed out.
	LastID int `json:"device_last_id"`

	// Devices maps id to kind.
	Devices map[string]Kind `json:"devices"`
}

// DefaultSnapshot is the registry used when nothing has been persisted yet:
// one device of each kind with ids 1 to 3.
func DefaultSnapshot(seedLastID int) Snapshot {
	return Snapshot{
		LastID: seedLastID,
		Devices: map[string]Kind{
			"1": KindSensor,
			"2": KindSwitch,
			"3": KindWatch,
		},
	}
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	devices := make(map[string]Kind, len(s.Devices))
	for id, kind := range s.Devices {
		devices[id] = kind
	}
	return Snapshot{LastID: s.LastID, Devices: devices}
}
