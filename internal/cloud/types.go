package cloud

import "context"

// Key types returned by the sphere keys endpoint.
const (
	KeyTypeAdmin  = "ADMIN_KEY"
	KeyTypeMember = "MEMBER_KEY"
	KeyTypeBasic  = "BASIC_KEY"
)

// Switch command types accepted by the stone switch endpoint.
const (
	SwitchTurnOn     = "TURN_ON"
	SwitchTurnOff    = "TURN_OFF"
	SwitchPercentage = "PERCENTAGE"
)

// AbilityDimming is the ability type that marks a stone as dimmable.
const AbilityDimming = "dimming"

// Session is an authenticated cloud session.
type Session struct {
	UserID string
	Token  string
}

// Sphere is an environment container owned by the account.
type Sphere struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Location is a room within a sphere.
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Stone is a smart-plug device as listed by its sphere.
type Stone struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	LocationID string `json:"locationId"`
}

// Ability is one entry of a stone's ability list.
type Ability struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// StoneData is the detailed state of a single stone.
type StoneData struct {
	Locked    bool      `json:"locked"`
	Abilities []Ability `json:"abilities"`

	// SwitchState is the last reported switch percentage, when known.
	SwitchState *int `json:"switchState,omitempty"`
}

// Dimmable reports whether the dimming ability is enabled. Ability lists
// without type information fall back to the first entry.
func (d StoneData) Dimmable() bool {
	for _, a := range d.Abilities {
		if a.Type == AbilityDimming {
			return a.Enabled
		}
	}
	if len(d.Abilities) > 0 && d.Abilities[0].Type == "" {
		return d.Abilities[0].Enabled
	}
	return false
}

// SphereKey is one encryption key of a sphere.
type SphereKey struct {
	KeyType string `json:"keyType"`
	Key     string `json:"key"`
}

// SpherePresence is the current user's location within one sphere.
// LocationID is empty when the user is in the sphere but in no known room.
type SpherePresence struct {
	SphereID     string
	LocationID   string
	LocationName string
}

// Client is the remote cloud surface used by the bridge.
//
// Every method except Login requires a prior successful Login.
type Client interface {
	Login(ctx context.Context, email, password string) (Session, error)
	Spheres(ctx context.Context) ([]Sphere, error)
	Locations(ctx context.Context, sphereID string) ([]Location, error)
	Stones(ctx context.Context, sphereID string) ([]Stone, error)
	StoneData(ctx context.Context, stoneID string) (StoneData, error)
	TurnOn(ctx context.Context, stoneID string) error
	TurnOff(ctx context.Context, stoneID string) error
	SetSwitch(ctx context.Context, stoneID string, percentage int) error
	Keys(ctx context.Context, sphereID string) ([]SphereKey, error)
	CurrentLocation(ctx context.Context) ([]SpherePresence, error)
}
