// Package radio is the short-range radio fallback transport.
//
// Link is the surface the command dispatcher uses. MQTTLink implements it by
// exchanging JSON requests and responses with a radio gateway bridge on the
// local MQTT bus.
package radio

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for radio operations.
var (
	// ErrNotConnected is returned by device operations without a connection.
	ErrNotConnected = errors.New("radio: not connected")

	// ErrGateway is returned when the gateway rejects a request.
	ErrGateway = errors.New("radio: gateway error")

	// ErrTimeout is returned when the gateway does not answer in time.
	ErrTimeout = errors.New("radio: gateway timeout")
)

// Switch states accepted by SetSwitchState.
const (
	SwitchOff = 0
	SwitchOn  = 1
)

// Advertisement identifies a device heard over the radio.
type Advertisement struct {
	Address string `json:"address"`
	Handle  string `json:"handle"`
	RSSI    int    `json:"rssi"`
}

// Link is a connection-oriented radio transport.
//
// A Discover that hears nothing within timeout returns (nil, nil).
type Link interface {
	Discover(ctx context.Context, address string, timeout time.Duration) (*Advertisement, error)
	Connect(ctx context.Context, adv *Advertisement) error
	LoadKeys(admin, member, basic string)
	SetSwitchState(ctx context.Context, state int) error
	DisconnectControl(ctx context.Context) error
	Disconnect(ctx context.Context) error
}
