package push

// Event types carried by the stream.
const (
	TypePresence          = "presence"
	TypeDataChange        = "dataChange"
	TypeSwitchStateUpdate = "switchStateUpdate"
	TypeAbilityChange     = "abilityChange"
)

// Presence sub-types.
const (
	SubTypeEnterLocation = "enterLocation"
	SubTypeExitLocation  = "exitLocation"
	SubTypeEnterSphere   = "enterSphere"
	SubTypeExitSphere    = "exitSphere"
)

// Ref names an entity in an event.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Event is one decoded push message.
type Event struct {
	Type     string `json:"type"`
	SubType  string `json:"subType,omitempty"`
	User     Ref    `json:"user"`
	Location Ref    `json:"location"`
	SphereID string `json:"sphereId,omitempty"`
	StoneID  string `json:"stoneId,omitempty"`
}

// IsPresence reports whether the event is a room enter or exit.
func (e Event) IsPresence() bool {
	return e.Type == TypePresence &&
		(e.SubType == SubTypeEnterLocation || e.SubType == SubTypeExitLocation)
}

// Handler receives decoded events in stream order.
type Handler func(Event)
