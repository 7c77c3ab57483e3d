// Package mqtt provides the local MQTT bus connection for Sphere Bridge.
//
// The bridge uses the bus in two directions:
//
//	Sphere Bridge → broker → home platform   (device availability, capabilities, trigger fires)
//	Sphere Bridge ↔ broker ↔ BLE gateway     (radio link request/response)
//
// This package manages:
//   - Connection with auto-reconnect and restored subscriptions
//   - Publishing with QoS and retained flags
//   - Last Will and Testament on the system status topic
//   - Topic builders rooted at a configurable prefix
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := client.Topics().DeviceAvailability("stone-1")
//	client.PublishRetained(topic, []byte(`{"available":true}`))
package mqtt
