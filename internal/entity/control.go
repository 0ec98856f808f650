package entity

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Write is a prepared command publish
type Write struct {
	Topic   string
	Payload string

	// state is what an optimistic entity shows once the write went out
	state string
}

// PrepareCommand converts a user value into the payload the device expects.
// Selects write the 1-based option index, numbers write a truncated
// integer and buttons write their literal.
func (e *Entity) PrepareCommand(value string) (Write, error) {
	if e.closed {
		return Write{}, ErrClosed
	}
	if e.output == "" {
		return Write{}, fmt.Errorf("%s: %w", e.key, ErrNotWritable)
	}

	w := Write{Topic: e.output}
	switch e.desc.Platform {
	case PlatformSelect:
		for i, opt := range e.desc.Options {
			if opt == value {
				w.Payload = strconv.Itoa(i + 1)
				w.state = opt
				return w, nil
			}
		}
		return Write{}, fmt.Errorf("%s: %w %q", e.key, ErrUnknownOption, value)

	case PlatformNumber:
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return Write{}, fmt.Errorf("%s: %w: %q is not a number", e.key, ErrMalformedPayload, value)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < e.desc.Min || v > e.desc.Max {
			return Write{}, fmt.Errorf("%s: %w: %v not in [%v, %v]", e.key, ErrOutOfRange, v, e.desc.Min, e.desc.Max)
		}
		w.Payload = strconv.Itoa(int(v))
		w.state = w.Payload
		return w, nil

	case PlatformButton:
		w.Payload = e.desc.Payload
		return w, nil

	default:
		return Write{}, fmt.Errorf("%s: %w", e.key, ErrNotWritable)
	}
}

// AcceptCommand records a write that was published. Entities without an
// input topic take the written value as their state; the rest wait for the
// device to report it back.
func (e *Entity) AcceptCommand(w Write) {
	if e.closed || e.topic != "" || e.desc.Kind == KindCommand {
		return
	}
	before := e.snapshot()
	e.set(w.state)
	e.available = true
	e.notifyIfChanged(before)
}
