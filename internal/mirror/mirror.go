package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/sphere-bridge/internal/cloud"
	"github.com/nerrad567/sphere-bridge/internal/presence"
)

// stoneFetchLimit bounds concurrent per-device detail requests.
const stoneFetchLimit = 4

// Logger defines the logging interface used by the Mirror.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives mirror pass telemetry.
type Recorder interface {
	RecordMirror(generation uint64, devices, failures int, took time.Duration)
}

// Mirror pulls remote state into the RawCache and presence store.
type Mirror struct {
	cloud cloud.Client
	cache *RawCache
	store *presence.Store
	now   func() time.Time

	sessionMu sync.RWMutex
	session   cloud.Session

	// passMu serialises GetAll so generations are published in order.
	passMu     sync.Mutex
	generation uint64

	recorder Recorder
	logger   Logger
}

// New creates a mirror writing into cache and store.
func New(client cloud.Client, cache *RawCache, store *presence.Store) *Mirror {
	return &Mirror{
		cloud:  client,
		cache:  cache,
		store:  store,
		now:    time.Now,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the mirror.
func (m *Mirror) SetLogger(logger Logger) {
	m.logger = logger
}

// SetRecorder enables mirror telemetry.
func (m *Mirror) SetRecorder(r Recorder) {
	m.recorder = r
}

// SetClock replaces the time source.
func (m *Mirror) SetClock(now func() time.Time) {
	m.now = now
}

// Cache returns the RawCache the mirror publishes to.
func (m *Mirror) Cache() *RawCache {
	return m.cache
}

// Login authenticates against the cloud. On failure the previous session
// and all caches are left untouched and the error wraps cloud.ErrAuth.
func (m *Mirror) Login(ctx context.Context, email, password string) error {
	session, err := m.cloud.Login(ctx, email, password)
	if err != nil {
		if !errors.Is(err, cloud.ErrAuth) {
			err = fmt.Errorf("%w: %w", cloud.ErrAuth, err)
		}
		return err
	}

	m.sessionMu.Lock()
	m.session = session
	m.sessionMu.Unlock()

	m.logger.Info("logged in", "user_id", session.UserID)
	return nil
}

// Session returns the current cloud session.
func (m *Mirror) Session() cloud.Session {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()
	return m.session
}

// UserID returns the logged in account id, or "" before login.
func (m *Mirror) UserID() string {
	return m.Session().UserID
}

// GetAll fetches every sphere, location and device and publishes them as a
// new snapshot.
//
// Sub-resource failures are collected into the returned error and listed in
// Snapshot.Failures. The new snapshot is published as long as at least one
// sphere's devices could be listed; otherwise the previous snapshot stays
// current and an ErrFetch error is returned.
func (m *Mirror) GetAll(ctx context.Context) (*Snapshot, error) {
	if m.UserID() == "" {
		return nil, ErrNotLoggedIn
	}

	m.passMu.Lock()
	defer m.passMu.Unlock()

	start := m.now()
	prev := m.cache.Load()

	spheres, err := m.cloud.Spheres(ctx)
	if err != nil {
		m.logger.Warn("mirror: listing spheres failed", "error", err)
		return nil, fmt.Errorf("%w: spheres: %w", ErrFetch, err)
	}

	next := emptySnapshot()
	next.FetchedAt = start

	var errs []error
	fail := func(what string, err error) {
		next.Failures = append(next.Failures, what)
		errs = append(errs, fmt.Errorf("%w: %s: %w", ErrFetch, what, err))
		m.logger.Warn("mirror: fetch failed", "resource", what, "error", err)
	}

	succeeded := 0
	for _, s := range spheres {
		next.Spheres[s.ID] = Sphere{ID: s.ID, Name: s.Name}

		locations, err := m.cloud.Locations(ctx, s.ID)
		if err != nil {
			fail("sphere "+s.ID+" locations", err)
		}
		for _, l := range locations {
			next.Locations[l.ID] = Location{ID: l.ID, Name: l.Name, SphereID: s.ID}
		}

		stones, err := m.cloud.Stones(ctx, s.ID)
		if err != nil {
			fail("sphere "+s.ID+" devices", err)
			continue
		}
		succeeded++

		records, failed := m.fetchDevices(ctx, s.ID, stones, prev, start)
		for _, r := range records {
			next.Devices[r.ID] = r
		}
		for id, err := range failed {
			fail("device "+id+" data", err)
		}
	}

	if len(spheres) > 0 && succeeded == 0 {
		return nil, errors.Join(errs...)
	}

	m.generation++
	next.Generation = m.generation
	m.cache.swap(next)

	took := m.now().Sub(start)
	m.logger.Info("mirror pass complete",
		"generation", next.Generation,
		"spheres", len(next.Spheres),
		"devices", len(next.Devices),
		"failures", len(next.Failures),
	)
	if m.recorder != nil {
		m.recorder.RecordMirror(next.Generation, len(next.Devices), len(next.Failures), took)
	}

	return next, errors.Join(errs...)
}

// fetchDevices loads device details concurrently. A device whose details
// fail keeps the values, and the details time, from the previous snapshot.
func (m *Mirror) fetchDevices(ctx context.Context, sphereID string, stones []cloud.Stone, prev *Snapshot, start time.Time) ([]DeviceRecord, map[string]error) {
	records := make([]DeviceRecord, len(stones))
	errs := make([]error, len(stones))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(stoneFetchLimit)
	for i, stone := range stones {
		g.Go(func() error {
			record := DeviceRecord{
				ID:         stone.ID,
				Name:       stone.Name,
				SphereID:   sphereID,
				LocationID: stone.LocationID,
				Address:    stone.Address,
			}
			if old, ok := prev.Devices[stone.ID]; ok {
				record.Locked = old.Locked
				record.Dimmable = old.Dimmable
				record.On = old.On
				record.DimLevel = old.DimLevel
				record.DetailsAt = prev.DetailsSince(stone.ID)
			}

			data, err := m.cloud.StoneData(gctx, stone.ID)
			if err != nil {
				errs[i] = err
				records[i] = record
				return nil
			}
			record.DetailsAt = start
			record.Locked = data.Locked
			record.Dimmable = data.Dimmable()
			if data.SwitchState != nil {
				record.DimLevel = clampPercent(*data.SwitchState)
				record.On = record.DimLevel > 0
			}
			records[i] = record
			return nil
		})
	}
	// Failures are collected per device in errs; every goroutine returns nil.
	g.Wait() //nolint:errcheck // never fails

	failed := make(map[string]error)
	for i, err := range errs {
		if err != nil {
			failed[stones[i].ID] = err
		}
	}
	return records, failed
}

func clampPercent(v int) int {
	return max(0, min(100, v))
}

// GetPresence polls the logged in user's current location and applies it
// to the presence store. Device and location data are not touched.
func (m *Mirror) GetPresence(ctx context.Context) error {
	userID := m.UserID()
	if userID == "" {
		return ErrNotLoggedIn
	}

	entries, err := m.cloud.CurrentLocation(ctx)
	if err != nil {
		m.logger.Warn("mirror: presence poll failed", "error", err)
		return fmt.Errorf("%w: current location: %w", ErrFetch, err)
	}

	now := m.now()
	update := presence.UserPresence{
		UserID:    userID,
		UpdatedAt: now,
		Source:    presence.SourcePoll,
	}

	chosen, found := choosePresence(entries)
	switch {
	case found:
		update.SphereID = chosen.SphereID
		if chosen.LocationID != "" {
			update.Location = &presence.RoomRef{
				ID:   chosen.LocationID,
				Name: m.locationName(chosen.LocationID, chosen.LocationName),
			}
		}
	default:
		existing, ok := m.store.Get(userID)
		if !ok || existing.Location == nil {
			return nil
		}
		update.SphereID = existing.SphereID
	}

	m.store.Apply(ctx, update)
	return nil
}

// choosePresence prefers an entry that places the user in a room.
func choosePresence(entries []cloud.SpherePresence) (cloud.SpherePresence, bool) {
	for _, e := range entries {
		if e.LocationID != "" {
			return e, true
		}
	}
	if len(entries) > 0 {
		return entries[0], true
	}
	return cloud.SpherePresence{}, false
}

func (m *Mirror) locationName(id, reported string) string {
	if reported != "" {
		return reported
	}
	if loc, ok := m.cache.Load().Locations[id]; ok {
		return loc.Name
	}
	return ""
}
