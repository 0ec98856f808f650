package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"prismbridge/internal/entity"
	"prismbridge/internal/state"
)

// Topics names the bridge-owned topics Home Assistant talks to
type Topics struct {
	DiscoveryPrefix string
	StatePrefix     string
}

// Discovery is the retained config topic of one entity
func (t Topics) Discovery(platform entity.Platform, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/config", t.DiscoveryPrefix, platform, uniqueID)
}

// State is where the entity's state string is published
func (t Topics) State(platform entity.Platform, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/state", t.StatePrefix, platform, uniqueID)
}

// Availability is where the entity's freshness is published
func (t Topics) Availability(platform entity.Platform, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/availability", t.StatePrefix, platform, uniqueID)
}

// Command is where Home Assistant writes to a writable entity
func (t Topics) Command(platform entity.Platform, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/set", t.StatePrefix, platform, uniqueID)
}

// Bridge is the availability topic of the bridge process itself
func (t Topics) Bridge() string {
	return t.StatePrefix + "/bridge/availability"
}

// Device is the device registry record entities attach to
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// AvailabilityTopic is one entry of a discovery availability list
type AvailabilityTopic struct {
	Topic string `json:"topic"`
}

// DiscoveryConfig is the JSON payload of a discovery config topic
type DiscoveryConfig struct {
	Name             string              `json:"name,omitempty"`
	UniqueID         string              `json:"unique_id"`
	ObjectID         string              `json:"object_id"`
	StateTopic       string              `json:"state_topic,omitempty"`
	CommandTopic     string              `json:"command_topic,omitempty"`
	Availability     []AvailabilityTopic `json:"availability"`
	AvailabilityMode string              `json:"availability_mode"`
	DeviceClass      string              `json:"device_class,omitempty"`
	StateClass       string              `json:"state_class,omitempty"`
	Unit             string              `json:"unit_of_measurement,omitempty"`
	Icon             string              `json:"icon,omitempty"`
	EntityCategory   string              `json:"entity_category,omitempty"`
	DisplayPrecision *int                `json:"suggested_display_precision,omitempty"`
	Options          []string            `json:"options,omitempty"`
	PayloadOn        string              `json:"payload_on,omitempty"`
	PayloadOff       string              `json:"payload_off,omitempty"`
	PayloadPress     string              `json:"payload_press,omitempty"`
	Min              *float64            `json:"min,omitempty"`
	Max              *float64            `json:"max,omitempty"`
	Step             *float64            `json:"step,omitempty"`
	Mode             string              `json:"mode,omitempty"`
	Device           Device              `json:"device"`
}

// BuildDiscovery returns the discovery topic and payload for e
func BuildDiscovery(e *entity.Entity, dev Device, topics Topics) (string, []byte, error) {
	desc := e.Descriptor()
	uid := e.UniqueID()

	cfg := DiscoveryConfig{
		Name:     desc.Meta.Name,
		UniqueID: uid,
		// Home Assistant derives the entity id from the object id
		ObjectID: objectID(e),
		Availability: []AvailabilityTopic{
			{Topic: topics.Bridge()},
			{Topic: topics.Availability(desc.Platform, uid)},
		},
		AvailabilityMode: "all",
		DeviceClass:      desc.Meta.DeviceClass,
		StateClass:       desc.Meta.StateClass,
		Unit:             desc.Meta.Unit,
		Icon:             desc.Meta.Icon,
		EntityCategory:   desc.Meta.EntityCategory,
		DisplayPrecision: desc.Meta.Precision,
		Device:           dev,
	}
	if desc.Platform != entity.PlatformButton {
		cfg.StateTopic = topics.State(desc.Platform, uid)
	}
	if desc.Writable() {
		cfg.CommandTopic = topics.Command(desc.Platform, uid)
	}

	switch desc.Platform {
	case entity.PlatformSensor:
		if desc.Kind == entity.KindEnum {
			cfg.Options = desc.Options
		}
	case entity.PlatformBinarySensor:
		cfg.PayloadOn = state.On
		cfg.PayloadOff = state.Off
	case entity.PlatformSelect:
		cfg.Options = desc.Options
	case entity.PlatformNumber:
		minV, maxV, step := desc.Min, desc.Max, 1.0
		cfg.Min, cfg.Max, cfg.Step = &minV, &maxV, &step
		cfg.Mode = "box"
	case entity.PlatformButton:
		cfg.PayloadPress = "PRESS"
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal discovery config for %s: %w", uid, err)
	}
	return topics.Discovery(desc.Platform, uid), payload, nil
}

func objectID(e *entity.Entity) string {
	_, object, found := strings.Cut(e.EntityID(), ".")
	if !found {
		return e.EntityID()
	}
	return object
}
