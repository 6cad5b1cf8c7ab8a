package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/homebus/internal/device"
	"github.com/nerrad567/homebus/internal/infrastructure/config"
	"github.com/nerrad567/homebus/internal/infrastructure/mqtt"
)

// ClockLayout is the format clocks publish, HH:MM:SS.
const ClockLayout = "15:04:05"

// Bus is the part of the MQTT client a simulator needs.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger defines the logging interface used by a Simulator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Config describes one simulated device.
type Config struct {
	Kind   device.Kind
	ID     string
	Topics mqtt.Topics
	QoS    byte

	// StateDir holds the per-kind state files. Empty disables persistence.
	StateDir string

	// Sensor: the value walks Min..Max by Increment every Interval.
	Min       float64
	Max       float64
	Increment float64
	Interval  time.Duration

	// Switch: chance (0-1) that a TOGGLE is dropped without a reply.
	FailureProbability float64

	// Watch: the clock starts at Start (HH:MM:SS, empty for now) and
	// advances by Step every Rate.
	Start string
	Step  time.Duration
	Rate  time.Duration
}

// ConfigFromSettings builds the Config of device kind/id from the loaded
// configuration.
func ConfigFromSettings(kind device.Kind, id string, cfg *config.Config) Config {
	sim := cfg.Simulator
	return Config{
		Kind:               kind,
		ID:                 id,
		Topics:             mqtt.TopicsFromConfig(cfg.Topics),
		QoS:                byte(cfg.MQTT.QoS), //nolint:gosec // Validated to 0-2
		StateDir:           sim.DataDir,
		Min:                sim.Sensor.Min,
		Max:                sim.Sensor.Max,
		Increment:          sim.Sensor.Increment,
		Interval:           time.Duration(sim.Sensor.IntervalMS) * time.Millisecond,
		FailureProbability: sim.Switch.FailureProbability,
		Start:              sim.Watch.Start,
		Step:               time.Duration(sim.Watch.IncrementSeconds) * time.Second,
		Rate:               time.Duration(sim.Watch.RateMS) * time.Millisecond,
	}
}

// Simulator plays one device on the bus.
//
// Sensors and watches publish their value periodically; every kind answers
// request verbs on its device topic. Safe for concurrent use.
type Simulator struct {
	cfg    Config
	topic  string
	bus    Bus
	logger Logger
	random func() float64

	mu    sync.Mutex
	value float64   // Sensor
	on    bool      // Switch
	clock time.Time // Watch, only the time of day is meaningful
}

// New validates cfg and creates a simulator in its initial state. Call
// LoadState to resume from the state file.
func New(cfg Config, bus Bus, logger Logger) (*Simulator, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.ID == "" || strings.ContainsAny(cfg.ID, "/+#") {
		return nil, fmt.Errorf("%w: device id %q", ErrInvalidConfig, cfg.ID)
	}

	s := &Simulator{
		cfg:    cfg,
		topic:  cfg.Topics.Device(string(cfg.Kind), cfg.ID),
		bus:    bus,
		logger: logger,
		random: rand.Float64,
	}

	switch cfg.Kind {
	case device.KindSensor:
		if cfg.Min > cfg.Max || cfg.Increment <= 0 || cfg.Interval <= 0 {
			return nil, fmt.Errorf("%w: sensor needs min <= max and positive increment and interval", ErrInvalidConfig)
		}
		s.value = cfg.Min

	case device.KindSwitch:
		if cfg.FailureProbability < 0 || cfg.FailureProbability > 1 {
			return nil, fmt.Errorf("%w: failure probability %v", ErrInvalidConfig, cfg.FailureProbability)
		}

	case device.KindWatch:
		if cfg.Rate <= 0 {
			return nil, fmt.Errorf("%w: watch rate must be positive", ErrInvalidConfig)
		}
		start := time.Now().Format(ClockLayout)
		if cfg.Start != "" {
			start = cfg.Start
		}
		clock, err := time.Parse(ClockLayout, start)
		if err != nil {
			return nil, fmt.Errorf("%w: start time %q: %w", ErrInvalidConfig, start, err)
		}
		s.clock = clock

	default:
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, device.ErrInvalidKind)
	}

	return s, nil
}

// Topic returns the device topic the simulator publishes and listens on.
func (s *Simulator) Topic() string {
	return s.topic
}

// Value returns the current state as it would be published.
func (s *Simulator) Value() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current()
}

// current formats the state. Caller must hold s.mu.
func (s *Simulator) current() string {
	switch s.cfg.Kind {
	case device.KindSensor:
		return strconv.FormatFloat(s.value, 'f', -1, 64)
	case device.KindSwitch:
		if s.on {
			return device.StateOn
		}
		return device.StateOff
	default:
		return s.clock.Format(ClockLayout)
	}
}

// Run subscribes to the device topic and, for sensors and watches, publishes
// the value every period until ctx ends. The state is saved on return.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.bus.Subscribe(s.topic, s.cfg.QoS, s.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.topic, err)
	}
	s.logger.Info("simulator running", "kind", s.cfg.Kind, "id", s.cfg.ID, "topic", s.topic)

	defer func() {
		if err := s.SaveState(); err != nil {
			s.logger.Warn("saving simulator state failed", "error", err)
		}
	}()

	period := s.period()
	if period <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		if err := s.Tick(); err != nil {
			s.logger.Warn("publishing simulated value failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Simulator) period() time.Duration {
	switch s.cfg.Kind {
	case device.KindSensor:
		return s.cfg.Interval
	case device.KindWatch:
		return s.cfg.Rate
	default:
		return 0
	}
}

// Tick publishes the current value and advances it. Switches have no
// periodic value and Tick does nothing for them.
func (s *Simulator) Tick() error {
	s.mu.Lock()
	var payload string
	switch s.cfg.Kind {
	case device.KindSensor:
		payload = s.current()
		next := math.Round((s.value+s.cfg.Increment)*1000) / 1000
		if next > s.cfg.Max {
			next = s.cfg.Min
		}
		s.value = next
	case device.KindWatch:
		payload = s.current()
		s.clock = s.clock.Add(s.cfg.Step)
	default:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.bus.Publish(s.topic, []byte(payload), s.cfg.QoS, false)
}

// HandleMessage answers request verbs on the device topic. Anything else,
// including the simulator's own publications, is ignored.
func (s *Simulator) HandleMessage(topic string, payload []byte) error {
	if !device.IsRequest(payload) {
		return nil
	}
	verb := strings.TrimSpace(string(payload))

	reply, ok := s.respond(verb)
	if !ok {
		return nil
	}

	if err := s.bus.Publish(topic, []byte(reply), s.cfg.QoS, false); err != nil {
		return fmt.Errorf("replying to %s: %w", verb, err)
	}
	s.logger.Debug("request answered", "topic", topic, "request", verb, "reply", reply)
	return nil
}

// respond applies verb to the state and returns the reply, if any.
func (s *Simulator) respond(verb string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case verb == device.RequestRead:
		return s.current(), true

	case verb == device.RequestToggle && s.cfg.Kind == device.KindSwitch:
		if s.random() < s.cfg.FailureProbability {
			s.logger.Info("simulating switch failure, no reply", "id", s.cfg.ID)
			return "", false
		}
		s.on = !s.on
		return s.current(), true

	default:
		return "", false
	}
}

// statePath returns the state file path, or "" when persistence is off.
func (s *Simulator) statePath() string {
	if s.cfg.StateDir == "" {
		return ""
	}
	return filepath.Join(s.cfg.StateDir, StateFileName(s.cfg.Kind))
}

// LoadState resumes from the state file. Loading is best effort: a missing
// entry keeps the initial state, an unreadable file is logged.
func (s *Simulator) LoadState() {
	path := s.statePath()
	if path == "" {
		return
	}

	var (
		found bool
		err   error
	)

	s.mu.Lock()
	switch s.cfg.Kind {
	case device.KindSensor:
		var v float64
		if v, found, err = NewStateFile[float64](path).Load(s.topic); found {
			s.value = min(max(v, s.cfg.Min), s.cfg.Max)
		}
	case device.KindSwitch:
		var on bool
		if on, found, err = NewStateFile[bool](path).Load(s.topic); found {
			s.on = on
		}
	case device.KindWatch:
		var text string
		if text, found, err = NewStateFile[string](path).Load(s.topic); found {
			clock, parseErr := time.Parse(ClockLayout, text)
			if parseErr != nil {
				found, err = false, fmt.Errorf("%w: clock %q", ErrCorruptState, text)
			} else {
				s.clock = clock
			}
		}
	}
	state := s.current()
	s.mu.Unlock()

	switch {
	case err != nil:
		s.logger.Warn("simulator state unreadable, using defaults", "path", path, "error", err)
	case !found:
		s.logger.Info("no saved simulator state, using defaults", "path", path)
	default:
		s.logger.Info("simulator state loaded", "path", path, "state", state)
	}
}

// SaveState writes the current state to the state file.
func (s *Simulator) SaveState() error {
	path := s.statePath()
	if path == "" {
		return nil
	}

	s.mu.Lock()
	value, on, clock := s.value, s.on, s.clock.Format(ClockLayout)
	s.mu.Unlock()

	var err error
	switch s.cfg.Kind {
	case device.KindSensor:
		err = NewStateFile[float64](path).Save(s.topic, value)
	case device.KindSwitch:
		err = NewStateFile[bool](path).Save(s.topic, on)
	case device.KindWatch:
		err = NewStateFile[string](path).Save(s.topic, clock)
	}
	if err != nil {
		return err
	}

	s.logger.Debug("simulator state saved", "path", path)
	return nil
}
