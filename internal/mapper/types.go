package mapper

import (
	"strings"
	"sync/atomic"
	"time"
)

// UnknownRoomName is used for devices whose location is not in the raw snapshot.
const UnknownRoomName = "unknown"

// Device is the projected, query-ready view of one device.
type Device struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SphereID   string `json:"sphere_id"`
	LocationID string `json:"location_id"`
	RoomName   string `json:"room_name"`
	RoomKnown  bool   `json:"room_known"`
	Address    string `json:"address"`
	Locked     bool   `json:"locked"`
	Dimmable   bool   `json:"dimmable"`
	On         bool   `json:"on"`
	DimLevel   int    `json:"dim_level"`
}

// Room is a location known to the raw snapshot.
type Room struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SphereID string `json:"sphere_id"`
}

// Snapshot is one FastCache generation. It is immutable once published.
type Snapshot struct {
	Devices   map[string]Device
	ByAddress map[string]string

	// PresenceByLocation maps location id to sorted user ids. Users in no
	// room are listed under "".
	PresenceByLocation map[string][]string

	Rooms map[string]Room

	RawGeneration   uint64
	PresenceVersion uint64
	OverlayVersion  uint64
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Devices:            map[string]Device{},
		ByAddress:          map[string]string{},
		PresenceByLocation: map[string][]string{},
		Rooms:              map[string]Room{},
	}
}

// FastCache publishes projections. The mapper is its only writer.
type FastCache struct {
	current atomic.Pointer[Snapshot]
}

// NewFastCache returns a cache holding an empty projection.
func NewFastCache() *FastCache {
	c := &FastCache{}
	c.current.Store(emptySnapshot())
	return c
}

// Load returns the current projection. It is never nil.
func (c *FastCache) Load() *Snapshot {
	return c.current.Load()
}

// Device looks up a device by id.
func (c *FastCache) Device(id string) (Device, bool) {
	d, ok := c.Load().Devices[id]
	return d, ok
}

// DeviceByAddress looks up a device by radio address (case-insensitive).
func (c *FastCache) DeviceByAddress(address string) (Device, bool) {
	snap := c.Load()
	id, ok := snap.ByAddress[normalizeAddress(address)]
	if !ok {
		return Device{}, false
	}
	d, ok := snap.Devices[id]
	return d, ok
}

// UsersIn returns the users currently in a location.
func (c *FastCache) UsersIn(locationID string) []string {
	users := c.Load().PresenceByLocation[locationID]
	out := make([]string, len(users))
	copy(out, users)
	return out
}

func normalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// Field is one observed value and when it was observed.
type Field[T any] struct {
	Value T
	At    time.Time
	Set   bool
}

// Observed returns a set field.
func Observed[T any](v T, at time.Time) Field[T] {
	return Field[T]{Value: v, At: at, Set: true}
}

// newer reports whether f should replace cur.
func (f Field[T]) newer(cur Field[T]) bool {
	return f.Set && (!cur.Set || !f.At.Before(cur.At))
}

// validSince reports whether f applies on top of data fetched at t.
func (f Field[T]) validSince(t time.Time) bool {
	return f.Set && !f.At.Before(t)
}

// Observation is the latest out-of-band state seen for a device, from push
// events, command inference or the platform. Unset fields are ignored.
type Observation struct {
	Locked   Field[bool]
	Dimmable Field[bool]
	On       Field[bool]
	DimLevel Field[int]
}

func (o Observation) merge(in Observation) Observation {
	if in.Locked.newer(o.Locked) {
		o.Locked = in.Locked
	}
	if in.Dimmable.newer(o.Dimmable) {
		o.Dimmable = in.Dimmable
	}
	if in.On.newer(o.On) {
		o.On = in.On
	}
	if in.DimLevel.newer(o.DimLevel) {
		o.DimLevel = in.DimLevel
	}
	return o
}

// expired reports whether no field is newer than t.
func (o Observation) expired(t time.Time) bool {
	return !o.Locked.validSince(t) && !o.Dimmable.validSince(t) &&
		!o.On.validSince(t) && !o.DimLevel.validSince(t)
}

// Overlay holds observations by device id.
type Overlay map[string]Observation
