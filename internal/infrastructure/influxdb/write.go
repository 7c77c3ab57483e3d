package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementCommand  = "command"
	MeasurementPresence = "presence"
	MeasurementMirror   = "mirror"
)

// RecordCommand writes the resolution of one device command.
//
//	client.RecordCommand("stone-1", "switch", "radio", "ok", 1200*time.Millisecond)
func (c *Client) RecordCommand(deviceID, class, transport, outcome string, took time.Duration) {
	c.writePoint(MeasurementCommand,
		map[string]string{
			"device_id": deviceID,
			"class":     class,
			"transport": transport,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"duration_ms": took.Milliseconds(),
		},
		c.now(),
	)
}

// RecordPresence writes an accepted presence update. An empty locationID
// means the user left every room of the sphere.
func (c *Client) RecordPresence(userID, sphereID, locationID, source string, at time.Time) {
	inRoom := 0
	if locationID != "" {
		inRoom = 1
	}
	c.writePoint(MeasurementPresence,
		map[string]string{
			"user_id":   userID,
			"sphere_id": sphereID,
			"source":    source,
		},
		map[string]interface{}{
			"location_id": locationID,
			"in_room":     inRoom,
		},
		at,
	)
}

// RecordMirror writes the outcome of one full mirror pass.
func (c *Client) RecordMirror(generation uint64, devices, failures int, took time.Duration) {
	c.writePoint(MeasurementMirror,
		nil,
		map[string]interface{}{
			"generation":  int64(generation), // #nosec G115 -- generation counts passes
			"devices":     devices,
			"failures":    failures,
			"duration_ms": took.Milliseconds(),
		},
		c.now(),
	)
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.writePoint(measurement, tags, fields, c.now())
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
