// Package influxdb exports homebus telemetry to InfluxDB v2.
//
// When enabled, the controller writes every numeric sensor reading and the
// outcome of every correlated request. Writes are non-blocking and batched;
// failed batches reach the onError callback given to Connect.
//
// # Configuration
//
//	influxdb:
//	  enabled: true
//	  url: "http://localhost:8086"
//	  token: "..."          # or HOMEBUS_INFLUXDB_TOKEN
//	  org: "homebus"
//	  bucket: "devices"
//	  batch_size: 100
//	  flush_interval: 10    # seconds
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, func(err error) {
//	    log.Error("InfluxDB write error", "error", err)
//	})
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteReading("1", "sensor", 26, time.Now())
package influxdb
