package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/homebus/internal/infrastructure/config"
)

var (
	// ErrDisabled is returned by Connect when telemetry is switched off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps errors handed to the onError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")
)

// Measurement names.
const (
	MeasurementReadings = "device_readings"
	MeasurementCommands = "device_commands"
)

const (
	pingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client exports device readings and command outcomes. It satisfies
// controller.Telemetry.
//
// Writes are batched and never block the caller. Once Close starts, writes
// are dropped.
type Client struct {
	influx influxdb2.Client
	points api.WriteAPI
	done   chan struct{}

	mu   sync.RWMutex
	open bool
}

// Connect pings the server and starts the batching writer. onError, if not
// nil, receives every failed batch wrapped in ErrWriteFailed.
func Connect(cfg config.InfluxDBConfig, onError func(error)) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, batchOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 2*pingTimeout)
	defer cancel()
	if err := ping(ctx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		influx: influx,
		points: influx.WriteAPI(cfg.Org, cfg.Bucket),
		done:   make(chan struct{}),
		open:   true,
	}
	go c.forwardErrors(c.points.Errors(), onError)
	return c, nil
}

func batchOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	interval := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		interval = time.Duration(cfg.FlushInterval) * time.Second
	}
	// #nosec G115 -- both values are positive
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(interval.Milliseconds()))
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	healthy, err := influx.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return errors.New("server not healthy")
	}
	return nil
}

// forwardErrors drains errs until Close shuts the write API down.
func (c *Client) forwardErrors(errs <-chan error, onError func(error)) {
	defer close(c.done)
	for err := range errs {
		if onError != nil {
			onError(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// WriteReading queues a numeric value reported by a device.
func (c *Client) WriteReading(deviceID, kind string, value float64, at time.Time) {
	c.write(write.NewPoint(
		MeasurementReadings,
		map[string]string{"device_id": deviceID, "kind": kind},
		map[string]any{"value": value},
		at,
	))
}

// WriteCommand queues the terminal outcome of one request: the verb sent,
// the command state it ended in and the time it took.
func (c *Client) WriteCommand(deviceID, kind, verb, state string, latency time.Duration) {
	c.write(write.NewPoint(
		MeasurementCommands,
		map[string]string{"device_id": deviceID, "kind": kind, "verb": verb, "state": state},
		map[string]any{"latency_ms": float64(latency) / float64(time.Millisecond)},
		time.Now(),
	))
}

// write holds the read lock so Close cannot flush underneath it.
func (c *Client) write(p *write.Point) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.open {
		return
	}
	c.points.WritePoint(p)
}

// flush sends every queued point and waits for the result.
func (c *Client) flush() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.open {
		c.points.Flush()
	}
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	open := c.open
	c.mu.RUnlock()
	if !open {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Close flushes queued points and shuts the client down. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	c.mu.Unlock()

	c.points.Flush()
	c.influx.Close()
	<-c.done
	return nil
}
