package presence

import (
	"context"
	"time"
)

// Source identifies where a presence update came from.
type Source string

// Presence sources.
const (
	SourcePoll Source = "poll"
	SourcePush Source = "push"
)

// RoomRef identifies a room by id and display name.
type RoomRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserPresence is the last known location of one user.
// Location is nil when the user is in no known room.
type UserPresence struct {
	UserID    string    `json:"user_id"`
	SphereID  string    `json:"sphere_id"`
	Location  *RoomRef  `json:"location,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Source    Source    `json:"source"`
}

// InRoom reports whether the presence places the user in the room with
// exactly this id and name.
func (p UserPresence) InRoom(roomID, roomName string) bool {
	return p.Location != nil && p.Location.ID == roomID && p.Location.Name == roomName
}

// Event kinds accepted by Handler.ApplyEvent.
const (
	EventTypePresence    = "presence"
	SubTypeEnterLocation = "enterLocation"
	SubTypeExitLocation  = "exitLocation"
)

// Event is a push-delivered presence change.
type Event struct {
	Type     string
	SubType  string
	UserID   string
	SphereID string
	Location RoomRef

	// At is when the bridge received the event.
	At time.Time
}

// Trigger is a registered predicate that fires when a user enters the room
// matching both RoomID and RoomName.
type Trigger struct {
	ID       string `json:"id"`
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

// TriggerState is the payload of a trigger fire.
type TriggerState struct {
	TriggerID string `json:"trigger_id"`
	RoomID    string `json:"room_id"`
	RoomName  string `json:"room_name"`
	UserID    string `json:"user_id"`
}

// TriggerSink receives trigger fires.
type TriggerSink interface {
	FireTrigger(ctx context.Context, state TriggerState) error
}

// Poller refreshes presence from the remote service.
type Poller interface {
	GetPresence(ctx context.Context) error
}

// Repository persists accepted presence updates.
//
// Implementations must be safe for concurrent use and must never replace a
// stored entry with an older one.
type Repository interface {
	Save(ctx context.Context, p UserPresence) error
	List(ctx context.Context) ([]UserPresence, error)
}

// Recorder receives accepted presence updates for telemetry.
type Recorder interface {
	RecordPresence(userID, sphereID, locationID, source string, at time.Time)
}

// Logger defines the logging interface used by the presence package.
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
