package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := NewTopics("home")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"availability", topics.DeviceAvailability("stone-1"), "home/device/stone-1/availability"},
		{"capabilities", topics.DeviceCapabilities("stone-1"), "home/device/stone-1/capabilities"},
		{"trigger", topics.TriggerFired("kitchen"), "home/trigger/kitchen/fired"},
		{"request", topics.BridgeRequest("ble", "r1"), "home/request/ble/r1"},
		{"response", topics.BridgeResponse("ble", "r1"), "home/response/ble/r1"},
		{"all responses", topics.AllBridgeResponses("ble"), "home/response/ble/+"},
		{"status", topics.SystemStatus(), "home/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopicsDefaultPrefix(t *testing.T) {
	if got := NewTopics("").SystemStatus(); got != "spherebridge/system/status" {
		t.Errorf("NewTopics(\"\").SystemStatus() = %q", got)
	}
	if got := (Topics{}).DeviceAvailability("d"); got != "spherebridge/device/d/availability" {
		t.Errorf("zero Topics DeviceAvailability() = %q", got)
	}
}
