package entity

import (
	"fmt"
	"strconv"
	"strings"

	"prismbridge/internal/state"
)

// ParseSequence splits a comma separated list of integers
func ParseSequence(payload string) ([]int, error) {
	tokens := strings.Split(payload, ",")
	seq := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		n, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			return nil, fmt.Errorf("%w: token %q in %q", ErrMalformedPayload, tok, payload)
		}
		seq = append(seq, n)
	}
	return seq, nil
}

func sequenceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// matchSequence turns the entity on for an exact match and schedules the
// auto-off. Anything else leaves the state alone; only the timer turns it off.
func (e *Entity) matchSequence(payload string) error {
	seq, err := ParseSequence(payload)
	if err != nil {
		return err
	}
	if !sequenceEqual(seq, e.desc.Sequence) {
		return nil
	}

	e.set(state.On)
	e.pulse.arm(e.sched, PulseDuration, e.pulseOff)
	return nil
}

func (e *Entity) pulseOff() {
	if e.closed {
		return
	}
	before := e.snapshot()
	e.set(state.Off)
	e.notifyIfChanged(before)
}
