package sphere

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/sphere-bridge/internal/mapper"
	"github.com/nerrad567/sphere-bridge/internal/mirror"
	"github.com/nerrad567/sphere-bridge/internal/presence"
	"github.com/nerrad567/sphere-bridge/internal/push"
)

// refreshKey is the singleflight key shared by every refresh.
const refreshKey = "refresh"

const (
	defaultFullInterval     = 10 * time.Minute
	defaultPresenceInterval = time.Minute

	// backgroundTimeout bounds refreshes the service starts on its own.
	backgroundTimeout = 2 * time.Minute
)

// Logger defines the logging interface used by the Service.
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

// DeviceUpdater pushes the FastCache to the platform.
type DeviceUpdater interface {
	UpdateDevices(ctx context.Context) error
}

// Config holds the polling intervals.
type Config struct {
	FullInterval     time.Duration
	PresenceInterval time.Duration
}

// Status is a point-in-time summary of the service.
type Status struct {
	LoggedIn      bool      `json:"logged_in"`
	UserID        string    `json:"user_id,omitempty"`
	PushConnected bool      `json:"push_connected"`
	Generation    uint64    `json:"generation"`
	LastRefresh   time.Time `json:"last_refresh,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
}

// Service drives the mirror → mapper → reconciler pipeline: on credential
// change, on its poll timers and on push events.
type Service struct {
	mirror   *mirror.Mirror
	mapper   *mapper.Mapper
	devices  DeviceUpdater
	presence *presence.Handler
	stream   Stream
	cfg      Config

	refreshes singleflight.Group

	// credMu serialises credential changes and guards session.
	credMu  sync.Mutex
	session Session

	statusMu    sync.RWMutex
	lastRefresh time.Time
	lastErr     error

	// ctx outlives individual requests; push sessions and background
	// refreshes run under it until Close.
	ctx    context.Context
	cancel context.CancelFunc

	logger Logger
	now    func() time.Time
}

// New creates a service. stream may be nil to run on polling alone.
func New(m *mirror.Mirror, mp *mapper.Mapper, devices DeviceUpdater, handler *presence.Handler, stream Stream, cfg Config) *Service {
	if cfg.FullInterval <= 0 {
		cfg.FullInterval = defaultFullInterval
	}
	if cfg.PresenceInterval <= 0 {
		cfg.PresenceInterval = defaultPresenceInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		mirror:   m,
		mapper:   mp,
		devices:  devices,
		presence: handler,
		stream:   stream,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetCredentials replaces the cloud credentials.
//
// The running push session is stopped first. After a successful login a new
// session is opened and a full refresh runs. On an authentication failure
// the caches are untouched, the error wraps cloud.ErrAuth, and push resumes
// on the previous session if there was one.
func (s *Service) SetCredentials(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return ErrCredentials
	}

	s.credMu.Lock()
	s.stopPushLocked()
	err := s.mirror.Login(ctx, email, password)
	if s.mirror.UserID() != "" {
		s.startPushLocked()
	}
	s.credMu.Unlock()

	if err != nil {
		s.logger.Warn("login failed", "error", err)
		return err
	}

	// A pass that started before the login must not stand in for this one.
	s.refreshes.Forget(refreshKey)
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("refresh after login failed", "error", err)
	}
	return nil
}

// Refresh runs GetAll, MapAll and UpdateDevices. Concurrent calls share one
// pass. Partial fetch failures are logged and do not fail the refresh; the
// returned error reports a pass that published nothing.
func (s *Service) Refresh(ctx context.Context) error {
	_, err, shared := s.refreshes.Do(refreshKey, func() (any, error) {
		return nil, s.refresh(ctx)
	})
	if shared {
		s.logger.Debug("refresh joined a running pass")
	}
	return err
}

func (s *Service) refresh(ctx context.Context) error {
	snap, err := s.mirror.GetAll(ctx)
	s.setRefreshResult(snap, err)
	if snap == nil {
		if err == nil {
			err = errors.New("sphere: mirror returned no snapshot")
		}
		s.logger.Warn("mirror pass failed", "error", err)
		return err
	}
	if err != nil {
		s.logger.Warn("mirror pass incomplete", "generation", snap.Generation, "failures", len(snap.Failures), "error", err)
	}

	s.mapper.MapAll()

	if s.devices != nil {
		if err := s.devices.UpdateDevices(ctx); err != nil {
			s.logger.Warn("device update failed", "error", err)
		}
	}
	return nil
}

func (s *Service) setRefreshResult(snap *mirror.Snapshot, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.lastErr = err
	if snap != nil {
		s.lastRefresh = s.now()
	}
}

// PollPresence polls the user's location and re-projects.
func (s *Service) PollPresence(ctx context.Context) error {
	if err := s.mirror.GetPresence(ctx); err != nil {
		return err
	}
	s.mapper.MapAll()
	return nil
}

// Run drives the poll timers until ctx ends. Ticks before the first login
// are skipped.
func (s *Service) Run(ctx context.Context) error {
	full := time.NewTicker(s.cfg.FullInterval)
	defer full.Stop()
	pres := time.NewTicker(s.cfg.PresenceInterval)
	defer pres.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-full.C:
			if s.mirror.UserID() == "" {
				continue
			}
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("scheduled refresh failed", "error", err)
			}
			s.ensurePush()
		case <-pres.C:
			if s.mirror.UserID() == "" {
				continue
			}
			if err := s.PollPresence(ctx); err != nil {
				s.logger.Warn("presence poll failed", "error", err)
			}
		}
	}
}

// Status returns a summary for health reporting.
func (s *Service) Status() Status {
	st := Status{
		UserID:     s.mirror.UserID(),
		Generation: s.mirror.Cache().Load().Generation,
	}
	st.LoggedIn = st.UserID != ""

	s.credMu.Lock()
	st.PushConnected = s.sessionAliveLocked()
	s.credMu.Unlock()

	s.statusMu.RLock()
	st.LastRefresh = s.lastRefresh
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.statusMu.RUnlock()
	return st
}

// Close stops the push session and any background work.
func (s *Service) Close() {
	s.credMu.Lock()
	s.stopPushLocked()
	s.credMu.Unlock()
	s.cancel()
}

// ensurePush reopens the push session if it has ended.
func (s *Service) ensurePush() {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	if s.sessionAliveLocked() {
		return
	}
	s.session = nil
	s.startPushLocked()
}

func (s *Service) sessionAliveLocked() bool {
	if s.session == nil {
		return false
	}
	select {
	case <-s.session.Done():
		return false
	default:
		return true
	}
}

func (s *Service) startPushLocked() {
	if s.stream == nil || s.ctx.Err() != nil {
		return
	}
	token := s.mirror.Session().Token
	session, err := s.stream.Open(s.ctx, token, s.handlePush)
	if err != nil {
		s.logger.Warn("push stream unavailable, polling only", "error", err)
		return
	}
	s.session = session
}

func (s *Service) stopPushLocked() {
	if s.session == nil {
		return
	}
	s.session.Stop()
	s.session = nil
	s.logger.Debug("push session stopped")
}

// handlePush runs on the push read loop. Presence events are applied in
// place; anything that changes device data schedules a refresh.
func (s *Service) handlePush(ev push.Event) {
	switch {
	case ev.IsPresence():
		pe := presence.Event{
			Type:     presence.EventTypePresence,
			SubType:  ev.SubType,
			UserID:   ev.User.ID,
			SphereID: ev.SphereID,
			Location: presence.RoomRef{ID: ev.Location.ID, Name: ev.Location.Name},
			At:       s.now(),
		}
		if err := s.presence.ApplyEvent(s.ctx, pe); err != nil {
			s.logger.Warn("presence event rejected", "error", err)
			return
		}
		s.mapper.MapAll()

	case ev.Type == push.TypeDataChange, ev.Type == push.TypeSwitchStateUpdate, ev.Type == push.TypeAbilityChange:
		s.logger.Debug("push event schedules refresh", "type", ev.Type, "stone_id", ev.StoneID)
		go func() {
			ctx, cancel := context.WithTimeout(s.ctx, backgroundTimeout)
			defer cancel()
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("push-triggered refresh failed", "error", err)
			}
		}()

	default:
		s.logger.Debug("push event ignored", "type", ev.Type, "sub_type", ev.SubType)
	}
}
