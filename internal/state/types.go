package state

import "time"

// Reserved state strings, matching Home Assistant.
const (
	Unknown     = "unknown"
	Unavailable = "unavailable"
	On          = "on"
	Off         = "off"
)

// State is the published state of one entity
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Valid reports whether s carries a real value
func (s *State) Valid() bool {
	return s != nil && s.State != Unknown && s.State != Unavailable
}

// Available reports whether the entity is reachable, even if its value is unknown
func (s *State) Available() bool {
	return s != nil && s.State != Unavailable
}

func (s *State) clone() *State {
	c := *s
	c.Attributes = copyAttributes(s.Attributes)
	return &c
}

// ChangeHandler is called with the previous and the new state.
// old is nil for the first state of an entity, new is nil on removal.
type ChangeHandler func(entityID string, old, new *State)

// Subscription represents an active state change subscription
type Subscription interface {
	Unsubscribe()
}
