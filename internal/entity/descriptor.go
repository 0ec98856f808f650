// Package entity turns raw MQTT payloads into availability-aware entity state.
package entity

import (
	"errors"
	"fmt"
	"time"

	"prismbridge/internal/topic"
)

// Platform is the Home Assistant platform an entity registers under
type Platform string

const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformNumber       Platform = "number"
	PlatformSelect       Platform = "select"
	PlatformButton       Platform = "button"
)

// Kind selects how inbound payloads are decoded
type Kind int

const (
	// KindPassthrough stores the payload string as is
	KindPassthrough Kind = iota
	// KindEnum looks the payload up as a 1-based option index
	KindEnum
	// KindThreshold is on for any payload other than "0"
	KindThreshold
	// KindPresence turns on for any message and off after PresenceTimeout
	// without one
	KindPresence
	// KindSequence pulses on when the payload matches a fixed integer sequence
	KindSequence
	// KindIntegral is derived from another entity's state, never from MQTT
	KindIntegral
	// KindCommand has no state, it only writes
	KindCommand
)

var kindNames = map[Kind]string{
	KindPassthrough: "passthrough",
	KindEnum:        "enum",
	KindThreshold:   "threshold",
	KindPresence:    "presence",
	KindSequence:    "sequence",
	KindIntegral:    "integral",
	KindCommand:     "command",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// PulseDuration is how long a matched sequence stays on
const PulseDuration = 2 * time.Second

// Meta is presentation metadata handed to discovery untouched
type Meta struct {
	Name           string
	DeviceClass    string
	StateClass     string
	Unit           string
	Icon           string
	EntityCategory string
	Precision      *int
}

// Descriptor is the static definition of an entity. Key, Topic and
// OutputTopic are templates that may contain the port placeholder.
type Descriptor struct {
	Key         string
	Topic       string
	OutputTopic string
	Platform    Platform
	Kind        Kind

	// ExpireAfter is the freshness window. Zero disables expiration.
	ExpireAfter time.Duration

	// PresenceTimeout is how long a presence entity stays on after its last
	// message. The entity itself stays available.
	PresenceTimeout time.Duration

	// Options is the ordered option table for enum and select entities
	Options []string

	// Sequence is the expected tuple for sequence entities
	Sequence []int

	// FailSafe turns unparsable threshold payloads into "on"
	FailSafe bool

	// LegacyModeRemap enables the firmware mode renumbering quirk
	LegacyModeRemap bool

	// Payload is the literal a button writes
	Payload string

	// Min and Max bound the values a number accepts
	Min float64
	Max float64

	// Source is the key template of the entity an integral watches
	Source string

	Meta Meta
}

// Template returns the topic templates of d
func (d Descriptor) Template() topic.Template {
	return topic.Template{Key: d.Key, Topic: d.Topic, Output: d.OutputTopic}
}

// Writable reports whether d accepts commands
func (d Descriptor) Writable() bool {
	return d.OutputTopic != ""
}

// DefaultAvailable reports whether a non-expiring entity is available
// before its first message
func (d Descriptor) DefaultAvailable() bool {
	switch d.Platform {
	case PlatformBinarySensor, PlatformNumber, PlatformSelect, PlatformButton:
		return true
	}
	return false
}

// Validate checks that the fields required by d's kind are present
func (d Descriptor) Validate() error {
	var errs []error
	if d.Key == "" {
		errs = append(errs, errors.New("key is empty"))
	}
	if d.ExpireAfter < 0 {
		errs = append(errs, errors.New("negative expiration"))
	}
	if d.PresenceTimeout < 0 {
		errs = append(errs, errors.New("negative presence timeout"))
	}
	if d.PresenceTimeout > 0 && d.Kind != KindPresence {
		errs = append(errs, fmt.Errorf("presence timeout on %s entity", d.Kind))
	}

	switch d.Kind {
	case KindPassthrough, KindThreshold, KindPresence:
		if d.Topic == "" && !d.Writable() {
			errs = append(errs, errors.New("no input topic"))
		}
	case KindEnum:
		if len(d.Options) == 0 {
			errs = append(errs, errors.New("enum without options"))
		}
		if d.Topic == "" {
			errs = append(errs, errors.New("no input topic"))
		}
	case KindSequence:
		if len(d.Sequence) == 0 {
			errs = append(errs, errors.New("sequence is empty"))
		}
		if d.Topic == "" {
			errs = append(errs, errors.New("no input topic"))
		}
	case KindIntegral:
		if d.Source == "" {
			errs = append(errs, errors.New("integral without source"))
		}
	case KindCommand:
		if !d.Writable() {
			errs = append(errs, errors.New("command without output topic"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported kind %s", d.Kind))
	}

	if d.Platform == PlatformSelect && len(d.Options) == 0 {
		errs = append(errs, errors.New("select without options"))
	}
	if d.Platform == PlatformNumber && d.Min > d.Max {
		errs = append(errs, fmt.Errorf("min %v greater than max %v", d.Min, d.Max))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("descriptor %q: %w", d.Key, err)
	}
	return nil
}
