package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/sphere-bridge/internal/device"
	"github.com/nerrad567/sphere-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/sphere-bridge/internal/presence"
)

// ErrPublish is returned when a platform message cannot be published.
var ErrPublish = errors.New("platform: publish failed")

// Bus is the subset of the MQTT client the publisher needs.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Publisher exposes devices and presence triggers on the MQTT bus.
//
// Availability and capability sets are published retained so the platform
// sees current state after a restart; trigger fires are not retained.
// The capability set of each device is also kept in memory and answers
// HasCapability without touching the bus.
type Publisher struct {
	bus    Bus
	topics mqtt.Topics
	qos    byte

	mu   sync.Mutex
	caps map[string]map[device.Capability]bool

	now func() time.Time
}

var (
	_ device.Platform      = (*Publisher)(nil)
	_ presence.TriggerSink = (*Publisher)(nil)
)

// NewPublisher creates a publisher.
func NewPublisher(bus Bus, topics mqtt.Topics, qos byte) *Publisher {
	return &Publisher{
		bus:    bus,
		topics: topics,
		qos:    qos,
		caps:   make(map[string]map[device.Capability]bool),
		now:    time.Now,
	}
}

// AvailabilityMessage is the retained availability payload.
type AvailabilityMessage struct {
	DeviceID  string `json:"device_id"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// CapabilitiesMessage is the retained capability-set payload.
type CapabilitiesMessage struct {
	DeviceID     string              `json:"device_id"`
	Capabilities []device.Capability `json:"capabilities"`
	Timestamp    string              `json:"timestamp"`
}

// TriggerMessage is the payload of a trigger fire.
type TriggerMessage struct {
	presence.TriggerState
	Timestamp string `json:"timestamp"`
}

// SetAvailable marks a device available.
func (p *Publisher) SetAvailable(deviceID string) error {
	return p.publishAvailability(AvailabilityMessage{DeviceID: deviceID, Available: true})
}

// SetUnavailable marks a device unavailable with a reason for the user.
func (p *Publisher) SetUnavailable(deviceID, reason string) error {
	return p.publishAvailability(AvailabilityMessage{DeviceID: deviceID, Reason: reason})
}

func (p *Publisher) publishAvailability(msg AvailabilityMessage) error {
	msg.Timestamp = p.timestamp()
	return p.publish(p.topics.DeviceAvailability(msg.DeviceID), msg, true)
}

// AddCapability adds c to the device's capability set.
func (p *Publisher) AddCapability(deviceID string, c device.Capability) error {
	return p.updateCapability(deviceID, c, true)
}

// RemoveCapability removes c from the device's capability set.
func (p *Publisher) RemoveCapability(deviceID string, c device.Capability) error {
	return p.updateCapability(deviceID, c, false)
}

// HasCapability reports whether the device's published set includes c.
func (p *Publisher) HasCapability(deviceID string, c device.Capability) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps[deviceID][c]
}

// Capabilities returns the device's published capability set, sorted.
// Every device switches, so on_off is always present.
func (p *Publisher) Capabilities(deviceID string) []device.Capability {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capabilityList(deviceID)
}

func (p *Publisher) capabilityList(deviceID string) []device.Capability {
	list := []device.Capability{device.CapOnOff}
	for c, ok := range p.caps[deviceID] {
		if ok && c != device.CapOnOff {
			list = append(list, c)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

func (p *Publisher) updateCapability(deviceID string, c device.Capability, present bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	set := p.caps[deviceID]
	if set == nil {
		set = make(map[device.Capability]bool)
		p.caps[deviceID] = set
	}
	had := set[c]
	if present {
		set[c] = true
	} else {
		delete(set, c)
	}

	msg := CapabilitiesMessage{
		DeviceID:     deviceID,
		Capabilities: p.capabilityList(deviceID),
		Timestamp:    p.timestamp(),
	}
	if err := p.publish(p.topics.DeviceCapabilities(deviceID), msg, true); err != nil {
		// Keep the in-memory set in line with what the bus last accepted.
		if had {
			set[c] = true
		} else {
			delete(set, c)
		}
		return err
	}
	return nil
}

// RepublishCapabilities publishes every remembered capability set again.
// Used after a broker restart that lost its retained messages. The
// remembered sets are unchanged.
func (p *Publisher) RepublishCapabilities() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.caps))
	for id := range p.caps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		msg := CapabilitiesMessage{
			DeviceID:     id,
			Capabilities: p.capabilityList(id),
			Timestamp:    p.timestamp(),
		}
		if err := p.publish(p.topics.DeviceCapabilities(id), msg, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FireTrigger publishes a presence trigger fire.
func (p *Publisher) FireTrigger(_ context.Context, state presence.TriggerState) error {
	msg := TriggerMessage{TriggerState: state, Timestamp: p.timestamp()}
	return p.publish(p.topics.TriggerFired(state.TriggerID), msg, false)
}

func (p *Publisher) publish(topic string, msg any, retained bool) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrPublish, topic, err)
	}
	if err := p.bus.Publish(topic, payload, p.qos, retained); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublish, topic, err)
	}
	return nil
}

func (p *Publisher) timestamp() string {
	return p.now().UTC().Format(time.RFC3339)
}
