package entity

import (
	"fmt"
	"strconv"
	"strings"

	"prismbridge/internal/state"
)

func (e *Entity) decode(payload string) error {
	switch e.desc.Kind {
	case KindPassthrough:
		e.set(payload)
		return nil
	case KindEnum:
		return e.decodeEnum(payload)
	case KindThreshold:
		return e.decodeThreshold(payload)
	case KindPresence:
		e.set(state.On)
		if e.desc.PresenceTimeout > 0 {
			e.pulse.arm(e.sched, e.desc.PresenceTimeout, e.pulseOff)
		}
		return nil
	case KindSequence:
		return e.matchSequence(payload)
	default:
		return fmt.Errorf("%s entity does not consume messages", e.desc.Kind)
	}
}

// decodeEnum maps a 1-based index onto the option table.
// Indexes outside the table resolve to unknown.
func (e *Entity) decodeEnum(payload string) error {
	n, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil {
		return fmt.Errorf("%w: %q is not an option index", ErrMalformedPayload, payload)
	}

	idx := n - 1
	if e.desc.LegacyModeRemap {
		idx = legacyModeIndex(idx)
	}

	if idx < 0 || idx >= len(e.desc.Options) {
		e.clear()
		return nil
	}
	e.set(e.desc.Options[idx])
	return nil
}

// legacyModeIndex handles firmware that reports the paused mode as internal
// index 6 instead of 2. Only the writable mode select opts into this.
func legacyModeIndex(idx int) int {
	if idx == 6 {
		return 2
	}
	return idx
}

// decodeThreshold is on for anything but "0". Unparsable payloads fail safe
// to on for alarm entities and are ignored otherwise.
func (e *Entity) decodeThreshold(payload string) error {
	trimmed := strings.TrimSpace(payload)
	if _, err := strconv.ParseFloat(trimmed, 64); err != nil {
		if e.desc.FailSafe {
			e.set(state.On)
			return fmt.Errorf("%w: %q", ErrFailSafe, payload)
		}
		return fmt.Errorf("%w: %q is not numeric", ErrMalformedPayload, payload)
	}

	if trimmed != "0" {
		e.set(state.On)
	} else {
		e.set(state.Off)
	}
	return nil
}
