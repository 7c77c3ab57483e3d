package mapper

import (
	"sync"

	"github.com/nerrad567/sphere-bridge/internal/mirror"
	"github.com/nerrad567/sphere-bridge/internal/presence"
)

// Logger defines the logging interface used by the Mapper.
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

// Mapper projects the RawCache, the presence store and the observation
// overlay into the FastCache.
type Mapper struct {
	raw   *mirror.RawCache
	store *presence.Store
	fast  *FastCache

	// mu serialises passes and guards the overlay.
	mu             sync.Mutex
	overlay        Overlay
	overlayVersion uint64

	logger Logger
}

// New creates a mapper with an empty FastCache.
func New(raw *mirror.RawCache, store *presence.Store) *Mapper {
	return &Mapper{
		raw:     raw,
		store:   store,
		fast:    NewFastCache(),
		overlay: make(Overlay),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the mapper.
func (m *Mapper) SetLogger(logger Logger) {
	m.logger = logger
}

// Cache returns the FastCache the mapper publishes to.
func (m *Mapper) Cache() *FastCache {
	return m.fast
}

// MapAll projects the current inputs into the FastCache. It reports whether
// a new projection was published; a pass over inputs identical to the last
// one publishes nothing.
func (m *Mapper) MapAll() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapAllLocked()
}

func (m *Mapper) mapAllLocked() bool {
	raw := m.raw.Load()
	people, presenceVersion := m.store.Snapshot()

	last := m.fast.Load()
	if last.RawGeneration == raw.Generation &&
		last.PresenceVersion == presenceVersion &&
		last.OverlayVersion == m.overlayVersion {
		return false
	}

	m.pruneOverlay(raw)

	next := Project(raw, people, m.overlay)
	next.PresenceVersion = presenceVersion
	next.OverlayVersion = m.overlayVersion
	m.fast.current.Store(next)

	m.logger.Debug("fast cache projected",
		"raw_generation", raw.Generation,
		"presence_version", presenceVersion,
		"devices", len(next.Devices),
	)
	return true
}

// pruneOverlay drops observations superseded by the raw snapshot. A device
// whose details were not refreshed by the pass keeps its observations. Pruned
// entries never affect a projection, so the overlay version is unchanged.
func (m *Mapper) pruneOverlay(raw *mirror.Snapshot) {
	for id, obs := range m.overlay {
		if obs.expired(raw.DetailsSince(id)) {
			delete(m.overlay, id)
		}
	}
}

// Observe records an out-of-band observation for a device and re-projects.
func (m *Mapper) Observe(deviceID string, obs Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.overlay[deviceID]
	merged := cur.merge(obs)
	if merged == cur {
		return
	}
	m.overlay[deviceID] = merged
	m.overlayVersion++
	m.mapAllLocked()
}
