package mirror

import (
	"sync/atomic"
	"time"
)

// Sphere is an environment container.
type Sphere struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Location is a room within a sphere.
type Location struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SphereID string `json:"sphere_id"`
}

// DeviceRecord is a smart-plug device as last fetched from the cloud.
type DeviceRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SphereID   string `json:"sphere_id"`
	LocationID string `json:"location_id"`
	Address    string `json:"address"`
	Locked     bool   `json:"locked"`
	Dimmable   bool   `json:"dimmable"`
	On         bool   `json:"on"`
	DimLevel   int    `json:"dim_level"`

	// DetailsAt is when Locked, Dimmable, On and DimLevel were last fetched.
	// A record whose detail fetch failed keeps the time of the fetch its
	// values came from. Zero means the snapshot's FetchedAt.
	DetailsAt time.Time `json:"details_at,omitzero"`
}

// Snapshot is one complete generation of mirrored state.
//
// A Snapshot is immutable once published: readers share it and must not
// modify its maps.
type Snapshot struct {
	Generation uint64
	FetchedAt  time.Time

	Spheres   map[string]Sphere
	Locations map[string]Location
	Devices   map[string]DeviceRecord

	// Failures names the sub-resources that could not be fetched.
	Failures []string
}

// DetailsSince returns when the details of device id were last fetched.
// Observations at or after that time are newer than the record.
func (s *Snapshot) DetailsSince(id string) time.Time {
	if rec, ok := s.Devices[id]; ok && !rec.DetailsAt.IsZero() {
		return rec.DetailsAt
	}
	return s.FetchedAt
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Spheres:   map[string]Sphere{},
		Locations: map[string]Location{},
		Devices:   map[string]DeviceRecord{},
	}
}

// RawCache publishes mirror snapshots. The mirror is its only writer.
type RawCache struct {
	current atomic.Pointer[Snapshot]
}

// NewRawCache returns a cache holding an empty generation 0 snapshot.
func NewRawCache() *RawCache {
	c := &RawCache{}
	c.current.Store(emptySnapshot())
	return c
}

// Load returns the current snapshot. It is never nil.
func (c *RawCache) Load() *Snapshot {
	return c.current.Load()
}

func (c *RawCache) swap(s *Snapshot) {
	c.current.Store(s)
}
