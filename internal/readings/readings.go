// Package readings keeps the last value reported by each device.
//
// Every payload seen on a registered device topic that is not a request verb
// is recorded, keyed by device id. Sensor payloads are parsed as numbers so
// the controller can apply its threshold rule; clocks and switches keep the
// raw text.
package readings

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/nerrad567/homebus/internal/device"
	"github.com/nerrad567/homebus/internal/infrastructure/config"
)

const (
	// bufferItems is the number of keys per Get buffer.
	bufferItems = 64

	// entryOverhead approximates the struct cost added to each payload.
	entryOverhead = 100

	// temperaturePrefix and temperatureUnit frame the legacy sensor payload,
	// "Temperature: 26 °C".
	temperaturePrefix = "Temperature:"
	temperatureUnit   = "°C"
)

// Reading is one value reported by a device.
type Reading struct {
	DeviceID   string
	Kind       device.Kind
	Payload    string
	Value      float64
	Numeric    bool
	ReceivedAt time.Time
}

// New builds a Reading from a raw payload, parsing it as a number if possible.
func New(id string, kind device.Kind, payload []byte, at time.Time) Reading {
	value, ok := ParseValue(payload)
	return Reading{
		DeviceID:   id,
		Kind:       kind,
		Payload:    string(payload),
		Value:      value,
		Numeric:    ok,
		ReceivedAt: at,
	}
}

// ParseValue extracts a number from a sensor payload.
//
// Plain numbers ("26", "21.5") and the legacy "Temperature: 26 °C" form are
// accepted. Anything else reports ok=false.
func ParseValue(payload []byte) (value float64, ok bool) {
	s := strings.TrimSpace(string(payload))
	if rest, found := strings.CutPrefix(s, temperaturePrefix); found {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), temperatureUnit))
	}
	if s == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Stats is a summary of cache activity.
type Stats struct {
	Hits        uint64
	Misses      uint64
	KeysAdded   uint64
	KeysEvicted uint64
	HitRatio    float64
}

// Cache holds the last reading per device id.
//
// It is bounded by cost (roughly bytes), so an unbounded number of devices
// cannot grow it without limit. Safe for concurrent use, including calls
// racing with Close: after Close every operation is a miss.
type Cache struct {
	mu     sync.RWMutex // Held for reading across Set+Wait; Close takes it exclusively
	closed bool
	cache  *ristretto.Cache
}

// NewCache creates a reading cache sized by cfg.
func NewCache(cfg config.ReadingsConfig) (*Cache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: bufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating readings cache: %w", err)
	}
	return &Cache{cache: cache}, nil
}

// Record stores r as the latest reading for its device. The write is
// visible to Last once Record returns. It reports whether the cache
// admitted the entry.
func (c *Cache) Record(r Reading) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}

	cost := int64(len(r.Payload) + len(r.DeviceID) + entryOverhead)
	if !c.cache.Set(r.DeviceID, r, cost) {
		return false
	}
	c.cache.Wait()
	return true
}

// Last returns the latest reading for a device id.
func (c *Cache) Last(id string) (Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return Reading{}, false
	}

	value, found := c.cache.Get(id)
	if !found {
		return Reading{}, false
	}
	r, ok := value.(Reading)
	return r, ok
}

// Forget drops the reading for a removed device.
func (c *Cache) Forget(id string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.closed {
		c.cache.Del(id)
	}
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	m := c.cache.Metrics
	return Stats{
		Hits:        m.Hits(),
		Misses:      m.Misses(),
		KeysAdded:   m.KeysAdded(),
		KeysEvicted: m.KeysEvicted(),
		HitRatio:    m.Ratio(),
	}
}

// Close waits for in-flight calls and releases the cache. It is safe to
// call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cache.Close()
}
