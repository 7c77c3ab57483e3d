package mqtt

import "fmt"

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "spherebridge"

// Topics provides builders for Sphere Bridge MQTT topics.
// Using these helpers keeps topic naming consistent between the platform
// publisher, the radio gateway link and anything listening on the bus.
//
//	topics := mqtt.NewTopics("spherebridge")
//	topics.DeviceAvailability("stone-1")
//	// Returns: "spherebridge/device/stone-1/availability"
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders rooted at prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// =============================================================================
// Platform device topics
// =============================================================================

// DeviceAvailability returns the retained availability topic of a device.
//
// Example: spherebridge/device/stone-1/availability
func (t Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/availability", t.prefix(), deviceID)
}

// DeviceCapabilities returns the retained capability-set topic of a device.
//
// Example: spherebridge/device/stone-1/capabilities
func (t Topics) DeviceCapabilities(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/capabilities", t.prefix(), deviceID)
}

// TriggerFired returns the topic a room-presence trigger fires on.
//
// Example: spherebridge/trigger/kitchen-enter/fired
func (t Topics) TriggerFired(triggerID string) string {
	return fmt.Sprintf("%s/trigger/%s/fired", t.prefix(), triggerID)
}

// =============================================================================
// Gateway bridge topics
// =============================================================================

// BridgeRequest returns the topic for requests to a gateway bridge.
//
// Example: spherebridge/request/ble/5b0c...
func (t Topics) BridgeRequest(protocol, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", t.prefix(), protocol, requestID)
}

// BridgeResponse returns the topic for responses from a gateway bridge.
//
// Example: spherebridge/response/ble/5b0c...
func (t Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", t.prefix(), protocol, requestID)
}

// AllBridgeResponses returns a pattern matching every response of one bridge.
//
// Pattern: spherebridge/response/ble/+
func (t Topics) AllBridgeResponses(protocol string) string {
	return fmt.Sprintf("%s/response/%s/+", t.prefix(), protocol)
}

// =============================================================================
// System topics
// =============================================================================

// SystemStatus returns the retained online/offline status topic.
//
// Example: spherebridge/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}
