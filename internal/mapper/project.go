package mapper

import (
	"sort"
	"time"

	"github.com/nerrad567/sphere-bridge/internal/mirror"
	"github.com/nerrad567/sphere-bridge/internal/presence"
)

// Project builds a FastCache snapshot from a raw snapshot, the presence
// entries and the observation overlay. It does not modify its inputs and
// equal inputs always give deeply equal output.
func Project(raw *mirror.Snapshot, people []presence.UserPresence, overlay Overlay) *Snapshot {
	out := emptySnapshot()
	out.RawGeneration = raw.Generation

	for id, loc := range raw.Locations {
		out.Rooms[id] = Room{ID: loc.ID, Name: loc.Name, SphereID: loc.SphereID}
	}

	for id, rec := range raw.Devices {
		d := Device{
			ID:         rec.ID,
			Name:       rec.Name,
			SphereID:   rec.SphereID,
			LocationID: rec.LocationID,
			Address:    rec.Address,
			Locked:     rec.Locked,
			Dimmable:   rec.Dimmable,
			On:         rec.On,
			DimLevel:   rec.DimLevel,
			RoomName:   UnknownRoomName,
		}
		if room, ok := raw.Locations[rec.LocationID]; ok {
			d.RoomName = room.Name
			d.RoomKnown = true
		}

		if obs, ok := overlay[id]; ok {
			applyObservation(&d, obs, raw.DetailsSince(id))
		}

		out.Devices[id] = d
		if rec.Address != "" {
			out.ByAddress[normalizeAddress(rec.Address)] = id
		}
	}

	for _, p := range people {
		key := ""
		if p.Location != nil {
			key = p.Location.ID
		}
		out.PresenceByLocation[key] = append(out.PresenceByLocation[key], p.UserID)
	}
	for key := range out.PresenceByLocation {
		sort.Strings(out.PresenceByLocation[key])
	}

	return out
}

func applyObservation(d *Device, obs Observation, since time.Time) {
	if obs.Locked.validSince(since) {
		d.Locked = obs.Locked.Value
	}
	if obs.Dimmable.validSince(since) {
		d.Dimmable = obs.Dimmable.Value
	}
	if obs.On.validSince(since) {
		d.On = obs.On.Value
	}
	if obs.DimLevel.validSince(since) {
		d.DimLevel = obs.DimLevel.Value
	}
}
