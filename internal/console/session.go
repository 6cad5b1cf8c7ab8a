package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nerrad567/homebus/internal/controller"
	"github.com/nerrad567/homebus/internal/correlator"
	"github.com/nerrad567/homebus/internal/device"
	"github.com/nerrad567/homebus/internal/readings"
)

// Commander is the part of the controller a session drives.
type Commander interface {
	ListDevices() []device.Device
	AddDevice(ctx context.Context, kind string) (device.Device, error)
	RemoveDevice(ctx context.Context, id string) error
	QueryDevice(ctx context.Context, kind device.Kind, id string) (controller.Result, error)
	Request(ctx context.Context, kind device.Kind, id, verb string) (controller.Result, error)
	BroadcastToKind(ctx context.Context, kind device.Kind, verb string) []controller.Result
	LastReading(id string) (readings.Reading, bool)
}

// Logger defines the logging interface used by a Session.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Session executes console commands against a controller.
type Session struct {
	ctrl   Commander
	logger Logger
	now    func() time.Time
}

// NewSession creates a session. logger may be nil.
func NewSession(ctrl Commander, logger Logger) *Session {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Session{ctrl: ctrl, logger: logger, now: time.Now}
}

// Run reads commands from in, one per line, and writes each response to out.
//
// Lines that are not commands are ignored. Run returns nil when in is
// exhausted or ctx ends, and the read error otherwise. Commands run one at
// a time; a command in progress is not interrupted by new input.
func (s *Session) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("reading console input: %w", err)
					}
				default:
				}
				return nil
			}

			response, handled := s.Handle(ctx, line)
			if !handled {
				continue
			}
			if _, err := fmt.Fprintln(out, response); err != nil {
				return fmt.Errorf("writing console output: %w", err)
			}
		}
	}
}

// Handle parses and executes one line. handled is false for lines that are
// not commands, which get no response.
func (s *Session) Handle(ctx context.Context, line string) (response string, handled bool) {
	cmd, err := Parse(line)
	switch {
	case errors.Is(err, ErrNotCommand):
		return "", false
	case errors.Is(err, device.ErrInvalidKind):
		return invalidKind, true
	case err != nil:
		return err.Error(), true
	}

	s.logger.Debug("console command", "op", cmd.Op, "kind", cmd.Kind, "id", cmd.ID)
	return s.Execute(ctx, cmd), true
}

const invalidKind = "invalid device kind, use sensor, switch or watch"

// Execute runs a parsed command and returns the text to show the user.
func (s *Session) Execute(ctx context.Context, cmd Command) string {
	switch cmd.Op {
	case OpDevices:
		return s.devices()

	case OpAddDevice:
		dev, err := s.ctrl.AddDevice(ctx, cmd.Kind)
		if errors.Is(err, device.ErrInvalidKind) {
			return invalidKind
		}
		if err != nil {
			return "adding device failed: " + err.Error()
		}
		return fmt.Sprintf("device %s (%s) added", dev.ID, dev.Kind)

	case OpDelDevice:
		if err := s.ctrl.RemoveDevice(ctx, cmd.ID); err != nil {
			if errors.Is(err, controller.ErrUnknownDevice) {
				return "unknown device " + cmd.ID
			}
			return "removing device failed: " + err.Error()
		}
		return fmt.Sprintf("device %s removed", cmd.ID)

	case OpSwitch:
		res, _ := s.ctrl.Request(ctx, device.KindSwitch, cmd.ID, device.RequestToggle) //nolint:errcheck // Carried in Result.Err
		return formatResult(res)

	case OpQuery:
		res, _ := s.ctrl.QueryDevice(ctx, device.Kind(cmd.Kind), cmd.ID) //nolint:errcheck // Carried in Result.Err
		return formatResult(res)

	case OpSensor:
		return s.broadcast(ctx, device.KindSensor)

	case OpWatch:
		return s.broadcast(ctx, device.KindWatch)

	case OpStatus:
		return s.status()

	case OpHelp:
		return Help()
	}

	s.logger.Warn("console command not executable", "op", cmd.Op)
	return ErrUnknownCommand.Error()
}

func (s *Session) devices() string {
	devices := s.ctrl.ListDevices()
	if len(devices) == 0 {
		return "no devices"
	}

	lines := make([]string, 0, len(devices)+1)
	lines = append(lines, "devices:")
	for _, d := range devices {
		lines = append(lines, fmt.Sprintf("  %s %s", d.ID, d.Kind))
	}
	return strings.Join(lines, "\n")
}

func (s *Session) broadcast(ctx context.Context, kind device.Kind) string {
	results := s.ctrl.BroadcastToKind(ctx, kind, device.RequestRead)
	if len(results) == 0 {
		return fmt.Sprintf("no %s devices", kind)
	}

	lines := make([]string, len(results))
	for i, res := range results {
		lines[i] = formatResult(res)
	}
	return strings.Join(lines, "\n")
}

func (s *Session) status() string {
	devices := s.ctrl.ListDevices()
	if len(devices) == 0 {
		return "no devices"
	}

	now := s.now()
	lines := make([]string, len(devices))
	for i, d := range devices {
		r, ok := s.ctrl.LastReading(d.ID)
		if !ok {
			lines[i] = fmt.Sprintf("%s %s: no reading", d.Kind, d.ID)
			continue
		}
		age := now.Sub(r.ReceivedAt).Round(time.Second)
		lines[i] = fmt.Sprintf("%s %s: %s (%s ago)", d.Kind, d.ID, r.Payload, age)
	}
	return strings.Join(lines, "\n")
}

// formatResult renders one request outcome.
func formatResult(res controller.Result) string {
	name := fmt.Sprintf("%s %s", res.Kind, res.DeviceID)

	switch {
	case res.State == controller.StateCompleted:
		return name + ": " + res.Reply
	case res.State == controller.StateTimedOut:
		return name + ": no reply"
	case errors.Is(res.Err, controller.ErrUnknownDevice):
		return "unknown " + name
	case errors.Is(res.Err, correlator.ErrAlreadyAwaiting):
		return name + ": busy, a request is already in flight"
	default:
		return fmt.Sprintf("%s: failed: %v", name, res.Err)
	}
}
