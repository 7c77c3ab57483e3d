package device

import "github.com/nerrad567/sphere-bridge/internal/mapper"

// Capability is a platform-visible device feature.
type Capability string

// Capabilities managed by the reconciler.
const (
	CapOnOff Capability = "on_off"
	CapDim   Capability = "dim"
)

// Dimmability is whether a device accepts dim levels.
type Dimmability int

const (
	// Fixed devices only switch on and off.
	Fixed Dimmability = iota
	// Dimmable devices also accept a dim level.
	Dimmable
)

func (d Dimmability) String() string {
	if d == Dimmable {
		return "dimmable"
	}
	return "fixed"
}

// DimmabilityOf returns the dimmability of a projected device.
func DimmabilityOf(d mapper.Device) Dimmability {
	if d.Dimmable {
		return Dimmable
	}
	return Fixed
}

// Platform is the surface that exposes devices to the home platform.
type Platform interface {
	SetAvailable(deviceID string) error
	SetUnavailable(deviceID, reason string) error
	AddCapability(deviceID string, c Capability) error
	RemoveCapability(deviceID string, c Capability) error
	HasCapability(deviceID string, c Capability) bool
}
