package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// journalTimeout bounds a single journal write.
const journalTimeout = 5 * time.Second

// Store holds the last accepted presence per user.
//
// Push events and poll results both go through Apply, which enforces the
// monotonic-timestamp rule. All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]UserPresence
	version uint64

	repo     Repository
	recorder Recorder
	logger   Logger
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]UserPresence),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetRepository enables journaling of accepted updates.
func (s *Store) SetRepository(repo Repository) {
	s.repo = repo
}

// SetRecorder enables telemetry for accepted updates.
func (s *Store) SetRecorder(r Recorder) {
	s.recorder = r
}

// Load restores entries from the repository. Restored entries go through
// the same monotonic merge, so newer in-memory entries are kept.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	entries, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading presence journal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range entries {
		s.merge(p)
	}
	s.logger.Info("presence journal loaded", "count", len(entries))
	return nil
}

// Apply merges one update. It returns false when the update is older than
// the stored entry for the same user. Equal timestamps are accepted.
func (s *Store) Apply(ctx context.Context, p UserPresence) bool {
	if p.UserID == "" {
		return false
	}
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}

	s.mu.Lock()
	p, accepted := s.merge(p)
	s.mu.Unlock()

	if !accepted {
		s.logger.Debug("stale presence discarded",
			"user_id", p.UserID,
			"source", p.Source,
			"updated_at", p.UpdatedAt,
		)
		return false
	}

	s.journal(ctx, p)
	if s.recorder != nil {
		locationID := ""
		if p.Location != nil {
			locationID = p.Location.ID
		}
		s.recorder.RecordPresence(p.UserID, p.SphereID, locationID, string(p.Source), p.UpdatedAt)
	}
	return true
}

// merge must be called with mu held. An update without a sphere keeps the
// stored one. It returns the entry as stored.
func (s *Store) merge(p UserPresence) (UserPresence, bool) {
	current, ok := s.entries[p.UserID]
	if ok && p.UpdatedAt.Before(current.UpdatedAt) {
		return p, false
	}
	if ok && p.SphereID == "" {
		p.SphereID = current.SphereID
	}
	s.entries[p.UserID] = p
	s.version++
	return p, true
}

func (s *Store) journal(ctx context.Context, p UserPresence) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := s.repo.Save(ctx, p); err != nil {
		s.logger.Warn("presence journal write failed", "user_id", p.UserID, "error", err)
	}
}

// Get returns the stored presence of a user.
func (s *Store) Get(userID string) (UserPresence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.entries[userID]
	return copyPresence(p), ok
}

// All returns every stored entry sorted by user id.
func (s *Store) All() []UserPresence {
	out, _ := s.Snapshot()
	return out
}

// Snapshot returns every entry together with the version they belong to.
func (s *Store) Snapshot() ([]UserPresence, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]UserPresence, 0, len(s.entries))
	for _, p := range s.entries {
		out = append(out, copyPresence(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, s.version
}

// Version increases with every accepted update.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func copyPresence(p UserPresence) UserPresence {
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}
	return p
}
