// Package influxdb records Sphere Bridge telemetry in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library and exposes the few
// measurements the bridge produces:
//   - command: one point per resolved switch/dim command (transport, outcome, duration)
//   - presence: one point per accepted presence update
//   - mirror: one point per full mirror pass
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.RecordCommand("stone-1", "switch", "cloud", "ok", 230*time.Millisecond)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch errors are delivered to the SetOnError callback.
package influxdb
