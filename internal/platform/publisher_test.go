package platform

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/sphere-bridge/internal/device"
	"github.com/nerrad567/sphere-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/sphere-bridge/internal/presence"
)

type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakeBus struct {
	msgs []message
	err  error
}

func (b *fakeBus) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if b.err != nil {
		return b.err
	}
	b.msgs = append(b.msgs, message{topic, payload, qos, retained})
	return nil
}

func (b *fakeBus) last(t *testing.T) message {
	t.Helper()
	if len(b.msgs) == 0 {
		t.Fatal("nothing published")
	}
	return b.msgs[len(b.msgs)-1]
}

func newTestPublisher() (*Publisher, *fakeBus) {
	bus := &fakeBus{}
	p := NewPublisher(bus, mqtt.NewTopics("home"), 1)
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return p, bus
}

func TestPublisher_Availability(t *testing.T) {
	p, bus := newTestPublisher()

	if err := p.SetUnavailable("stone-1", "locked"); err != nil {
		t.Fatalf("SetUnavailable() error = %v", err)
	}
	msg := bus.last(t)
	if msg.topic != "home/device/stone-1/availability" || !msg.retained || msg.qos != 1 {
		t.Errorf("published %s retained=%v qos=%d", msg.topic, msg.retained, msg.qos)
	}

	var got AvailabilityMessage
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	want := AvailabilityMessage{DeviceID: "stone-1", Reason: "locked", Timestamp: "2026-01-02T03:04:05Z"}
	if got != want {
		t.Errorf("payload = %+v, want %+v", got, want)
	}

	if err := p.SetAvailable("stone-1"); err != nil {
		t.Fatalf("SetAvailable() error = %v", err)
	}
	if err := json.Unmarshal(bus.last(t).payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !got.Available || got.Reason != "" {
		t.Errorf("payload = %+v, want available without reason", got)
	}
}

func TestPublisher_Capabilities(t *testing.T) {
	p, bus := newTestPublisher()

	if p.HasCapability("stone-1", device.CapDim) {
		t.Fatal("new device reports dim")
	}

	if err := p.AddCapability("stone-1", device.CapDim); err != nil {
		t.Fatalf("AddCapability() error = %v", err)
	}
	if !p.HasCapability("stone-1", device.CapDim) {
		t.Error("HasCapability() = false after add")
	}

	msg := bus.last(t)
	if msg.topic != "home/device/stone-1/capabilities" || !msg.retained {
		t.Errorf("published %s retained=%v", msg.topic, msg.retained)
	}
	var got CapabilitiesMessage
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(got.Capabilities) != 2 || got.Capabilities[0] != device.CapDim || got.Capabilities[1] != device.CapOnOff {
		t.Errorf("capabilities = %v, want [dim on_off]", got.Capabilities)
	}

	if err := p.RemoveCapability("stone-1", device.CapDim); err != nil {
		t.Fatalf("RemoveCapability() error = %v", err)
	}
	if p.HasCapability("stone-1", device.CapDim) {
		t.Error("HasCapability() = true after remove")
	}
	if caps := p.Capabilities("stone-1"); len(caps) != 1 || caps[0] != device.CapOnOff {
		t.Errorf("Capabilities() = %v, want [on_off]", caps)
	}
}

func TestPublisher_CapabilityRevertedOnFailure(t *testing.T) {
	p, bus := newTestPublisher()
	bus.err = errors.New("not connected")

	err := p.AddCapability("stone-1", device.CapDim)
	if !errors.Is(err, ErrPublish) {
		t.Fatalf("AddCapability() error = %v, want ErrPublish", err)
	}
	if p.HasCapability("stone-1", device.CapDim) {
		t.Error("capability kept after failed publish")
	}
}

func TestPublisher_RepublishCapabilities(t *testing.T) {
	p, bus := newTestPublisher()
	if err := p.AddCapability("stone-2", device.CapDim); err != nil {
		t.Fatalf("AddCapability() error = %v", err)
	}
	if err := p.AddCapability("stone-1", device.CapDim); err != nil {
		t.Fatalf("AddCapability() error = %v", err)
	}
	if err := p.RemoveCapability("stone-2", device.CapDim); err != nil {
		t.Fatalf("RemoveCapability() error = %v", err)
	}

	// The broker restarted and lost its retained messages.
	bus.msgs = nil
	if err := p.RepublishCapabilities(); err != nil {
		t.Fatalf("RepublishCapabilities() error = %v", err)
	}

	if len(bus.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(bus.msgs))
	}
	wantCaps := map[string]int{
		"home/device/stone-1/capabilities": 2,
		"home/device/stone-2/capabilities": 1,
	}
	for i, topic := range []string{"home/device/stone-1/capabilities", "home/device/stone-2/capabilities"} {
		msg := bus.msgs[i]
		if msg.topic != topic || !msg.retained {
			t.Errorf("message %d = %s retained=%v, want %s retained", i, msg.topic, msg.retained, topic)
			continue
		}
		var got CapabilitiesMessage
		if err := json.Unmarshal(msg.payload, &got); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if len(got.Capabilities) != wantCaps[topic] {
			t.Errorf("%s capabilities = %v", topic, got.Capabilities)
		}
	}

	bus.err = errors.New("not connected")
	if err := p.RepublishCapabilities(); !errors.Is(err, ErrPublish) {
		t.Errorf("RepublishCapabilities() error = %v, want ErrPublish", err)
	}
	if !p.HasCapability("stone-1", device.CapDim) {
		t.Error("failed republish changed the remembered set")
	}
}

func TestPublisher_FireTrigger(t *testing.T) {
	p, bus := newTestPublisher()

	state := presence.TriggerState{TriggerID: "t1", RoomID: "loc-1", RoomName: "Kitchen", UserID: "user-1"}
	if err := p.FireTrigger(context.Background(), state); err != nil {
		t.Fatalf("FireTrigger() error = %v", err)
	}

	msg := bus.last(t)
	if msg.topic != "home/trigger/t1/fired" || msg.retained {
		t.Errorf("published %s retained=%v", msg.topic, msg.retained)
	}

	var got map[string]string
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	for k, want := range map[string]string{
		"trigger_id": "t1",
		"room_id":    "loc-1",
		"room_name":  "Kitchen",
		"user_id":    "user-1",
		"timestamp":  "2026-01-02T03:04:05Z",
	} {
		if got[k] != want {
			t.Errorf("payload[%s] = %q, want %q", k, got[k], want)
		}
	}
}
