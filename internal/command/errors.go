package command

import "errors"

// Domain errors for the command package.
var (
	// ErrInFlight is returned when a command of the same class is still
	// resolving. The request is dropped, not queued.
	ErrInFlight = errors.New("command: another command of this class is in flight")

	// ErrDeviceNotFound is returned for device ids missing from the FastCache.
	ErrDeviceNotFound = errors.New("command: device not found")

	// ErrDeviceLocked is returned for locked devices; no transport is used.
	ErrDeviceLocked = errors.New("command: device locked")

	// ErrDiscoveryTimeout is returned when the radio does not hear the device
	// within the discovery bound.
	ErrDiscoveryTimeout = errors.New("command: radio discovery timed out")

	// ErrCommand is returned when every available transport failed.
	ErrCommand = errors.New("command: dispatch failed")
)
