// Package cloudtest provides an in-memory cloud.Client for tests.
package cloudtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/sphere-bridge/internal/cloud"
)

// Fake is a scripted, concurrency-safe cloud.Client.
//
// Populate the exported maps (keyed by sphere or stone id) before use. Errors set in the *Err fields or
// maps are returned by the matching call. Every call is counted by name.
type Fake struct {
	mu sync.Mutex

	Email    string
	Password string
	UserID   string

	SphereList []cloud.Sphere
	Rooms      map[string][]cloud.Location
	Devices    map[string][]cloud.Stone
	Data       map[string]cloud.StoneData
	SphereKeys map[string][]cloud.SphereKey
	Presence   []cloud.SpherePresence

	LoginErr     error
	SpheresErr   error
	LocationsErr map[string]error
	StonesErr    map[string]error
	DataErr      map[string]error
	KeysErr      error
	PresenceErr  error
	SwitchErr    error

	// KeysGate, when set, blocks Keys until it is closed.
	KeysGate chan struct{}
	// SwitchGate, when set, blocks switch calls until it is closed.
	SwitchGate chan struct{}

	calls    map[string]int
	switches []Switch
}

// Switch records one switch command sent to the fake.
type Switch struct {
	StoneID    string
	Type       string
	Percentage int
}

var _ cloud.Client = (*Fake)(nil)

// New returns an empty fake accepting the given credentials.
func New(email, password string) *Fake {
	return &Fake{
		Email:        email,
		Password:     password,
		UserID:       "user-1",
		Rooms:        make(map[string][]cloud.Location),
		Devices:      make(map[string][]cloud.Stone),
		Data:         make(map[string]cloud.StoneData),
		SphereKeys:   make(map[string][]cloud.SphereKey),
		LocationsErr: make(map[string]error),
		StonesErr:    make(map[string]error),
		DataErr:      make(map[string]error),
		calls:        make(map[string]int),
	}
}

// Calls returns how many times the named method was called.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Switches returns the switch commands received so far.
func (f *Fake) Switches() []Switch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Switch, len(f.switches))
	copy(out, f.switches)
	return out
}

// Set runs fn with the fake locked, for changing state mid-test.
func (f *Fake) Set(fn func(f *Fake)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *Fake) count(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

func (f *Fake) Login(_ context.Context, email, password string) (cloud.Session, error) {
	f.count("Login")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LoginErr != nil {
		return cloud.Session{}, fmt.Errorf("%w: %w", cloud.ErrAuth, f.LoginErr)
	}
	if email != f.Email || password != f.Password {
		return cloud.Session{}, fmt.Errorf("%w: bad credentials", cloud.ErrAuth)
	}
	return cloud.Session{UserID: f.UserID, Token: "token-" + f.UserID}, nil
}

func (f *Fake) Spheres(context.Context) ([]cloud.Sphere, error) {
	f.count("Spheres")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SpheresErr != nil {
		return nil, f.SpheresErr
	}
	return append([]cloud.Sphere(nil), f.SphereList...), nil
}

func (f *Fake) Locations(_ context.Context, sphereID string) ([]cloud.Location, error) {
	f.count("Locations")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.LocationsErr[sphereID]; err != nil {
		return nil, err
	}
	return append([]cloud.Location(nil), f.Rooms[sphereID]...), nil
}

func (f *Fake) Stones(_ context.Context, sphereID string) ([]cloud.Stone, error) {
	f.count("Stones")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.StonesErr[sphereID]; err != nil {
		return nil, err
	}
	return append([]cloud.Stone(nil), f.Devices[sphereID]...), nil
}

func (f *Fake) StoneData(_ context.Context, stoneID string) (cloud.StoneData, error) {
	f.count("StoneData")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DataErr[stoneID]; err != nil {
		return cloud.StoneData{}, err
	}
	return f.Data[stoneID], nil
}

func (f *Fake) TurnOn(ctx context.Context, stoneID string) error {
	return f.recordSwitch(ctx, "TurnOn", Switch{StoneID: stoneID, Type: cloud.SwitchTurnOn})
}

func (f *Fake) TurnOff(ctx context.Context, stoneID string) error {
	return f.recordSwitch(ctx, "TurnOff", Switch{StoneID: stoneID, Type: cloud.SwitchTurnOff})
}

func (f *Fake) SetSwitch(ctx context.Context, stoneID string, percentage int) error {
	return f.recordSwitch(ctx, "SetSwitch", Switch{StoneID: stoneID, Type: cloud.SwitchPercentage, Percentage: percentage})
}

func (f *Fake) recordSwitch(ctx context.Context, method string, s Switch) error {
	f.count(method)

	f.mu.Lock()
	gate := f.SwitchGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SwitchErr != nil {
		return f.SwitchErr
	}
	f.switches = append(f.switches, s)
	return nil
}

func (f *Fake) Keys(ctx context.Context, sphereID string) ([]cloud.SphereKey, error) {
	f.count("Keys")

	f.mu.Lock()
	gate := f.KeysGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.KeysErr != nil {
		return nil, f.KeysErr
	}
	return append([]cloud.SphereKey(nil), f.SphereKeys[sphereID]...), nil
}

func (f *Fake) CurrentLocation(context.Context) ([]cloud.SpherePresence, error) {
	f.count("CurrentLocation")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PresenceErr != nil {
		return nil, f.PresenceErr
	}
	return append([]cloud.SpherePresence(nil), f.Presence...), nil
}
