package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Handler applies push presence events to the store, fires matching
// triggers and answers room conditions for the current user.
type Handler struct {
	store       *Store
	poller      Poller
	sink        TriggerSink
	currentUser func() string

	triggers map[string]Trigger
	mu       sync.RWMutex

	logger Logger
}

// NewHandler creates a handler. currentUser returns the id of the logged in
// account, or "" before login.
func NewHandler(store *Store, poller Poller, sink TriggerSink, currentUser func() string) *Handler {
	return &Handler{
		store:       store,
		poller:      poller,
		sink:        sink,
		currentUser: currentUser,
		triggers:    make(map[string]Trigger),
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the handler.
func (h *Handler) SetLogger(logger Logger) {
	h.logger = logger
}

// Register adds a trigger. An empty ID is replaced by a generated one.
func (h *Handler) Register(t Trigger) Trigger {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	h.mu.Lock()
	h.triggers[t.ID] = t
	h.mu.Unlock()
	return t
}

// Unregister removes a trigger and reports whether it existed.
func (h *Handler) Unregister(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.triggers[id]
	delete(h.triggers, id)
	return ok
}

// Triggers returns the registered triggers sorted by id.
func (h *Handler) Triggers() []Trigger {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Trigger, 0, len(h.triggers))
	for _, t := range h.triggers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplyEvent merges a push presence event.
//
// Exit events clear the user's location and fire nothing. Enter events set
// the location and then fire every trigger whose room id and name both
// match. Stale events are dropped without firing.
func (h *Handler) ApplyEvent(ctx context.Context, ev Event) error {
	if ev.Type != EventTypePresence {
		return fmt.Errorf("%w: type %q", ErrUnsupportedEvent, ev.Type)
	}
	if ev.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidEvent)
	}

	p := UserPresence{
		UserID:    ev.UserID,
		SphereID:  ev.SphereID,
		UpdatedAt: ev.At,
		Source:    SourcePush,
	}

	switch ev.SubType {
	case SubTypeExitLocation:
		h.store.Apply(ctx, p)
		return nil
	case SubTypeEnterLocation:
		if ev.Location.ID == "" {
			return fmt.Errorf("%w: enter event without room", ErrInvalidEvent)
		}
		room := ev.Location
		p.Location = &room
		if !h.store.Apply(ctx, p) {
			return nil
		}
		h.fire(ctx, ev.UserID, room)
		return nil
	default:
		return fmt.Errorf("%w: subtype %q", ErrUnsupportedEvent, ev.SubType)
	}
}

func (h *Handler) fire(ctx context.Context, userID string, room RoomRef) {
	for _, t := range h.Triggers() {
		if t.RoomID != room.ID || t.RoomName != room.Name {
			continue
		}
		state := TriggerState{
			TriggerID: t.ID,
			RoomID:    room.ID,
			RoomName:  room.Name,
			UserID:    userID,
		}
		if h.sink == nil {
			continue
		}
		if err := h.sink.FireTrigger(ctx, state); err != nil {
			h.logger.Warn("trigger fire failed", "trigger_id", t.ID, "error", err)
			continue
		}
		h.logger.Debug("trigger fired", "trigger_id", t.ID, "room_id", room.ID)
	}
}

// EvaluateCondition reports whether the current user is in the given room.
// Without any stored presence for the user it polls once first.
func (h *Handler) EvaluateCondition(ctx context.Context, roomID, roomName string) (bool, error) {
	userID := ""
	if h.currentUser != nil {
		userID = h.currentUser()
	}
	if userID == "" {
		return false, ErrNoUser
	}

	p, ok := h.store.Get(userID)
	if !ok && h.poller != nil {
		if err := h.poller.GetPresence(ctx); err != nil {
			return false, fmt.Errorf("refreshing presence: %w", err)
		}
		p, ok = h.store.Get(userID)
	}
	if !ok {
		return false, nil
	}
	return p.InRoom(roomID, roomName), nil
}
