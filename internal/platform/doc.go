// Package platform publishes Sphere Bridge devices and presence triggers to
// the home platform over MQTT.
//
// Topics (prefix from config, default "spherebridge"):
//
//	{prefix}/device/{id}/availability   retained  {"available":false,"reason":"..."}
//	{prefix}/device/{id}/capabilities   retained  {"capabilities":["dim","on_off"]}
//	{prefix}/trigger/{id}/fired                   {"trigger_id":"...","room_id":"..."}
//
// Publisher implements device.Platform and presence.TriggerSink.
package platform
