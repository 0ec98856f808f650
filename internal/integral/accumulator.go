// Package integral accumulates a trapezoidal time integral of a power
// sensor's published state.
package integral

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"prismbridge/internal/state"

	"github.com/shopspring/decimal"
)

// Result describes what Observe did with a transition
type Result int

const (
	// Baseline means there was no previous state to integrate from
	Baseline Result = iota
	// Accumulated means the total advanced
	Accumulated
	// Skipped means the pair was valid but contributed nothing
	Skipped
	// Unavailable means one side was unknown or unavailable
	Unavailable
)

var (
	// ErrNoRestore means there was no usable persisted total
	ErrNoRestore = errors.New("no restorable total")

	hour = decimal.NewFromInt(int64(time.Hour))
	two  = decimal.NewFromInt(2)
)

// Accumulator keeps the running total. Not safe for concurrent use.
type Accumulator struct {
	total     decimal.Decimal
	places    int32
	available bool
}

// NewAccumulator creates an accumulator that displays the given number of decimal places
func NewAccumulator(places int32) *Accumulator {
	return &Accumulator{places: places}
}

// Restore seeds the total from a persisted value
func (a *Accumulator) Restore(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == state.Unknown || raw == state.Unavailable {
		return fmt.Errorf("%w: %q", ErrNoRestore, raw)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoRestore, err)
	}
	a.total = v
	a.available = true
	return nil
}

// Observe integrates one state transition of the source.
// The total is never touched when either side is not a valid reading, and
// it never decreases.
func (a *Accumulator) Observe(old, new *state.State) (Result, error) {
	if old == nil {
		return Baseline, nil
	}
	if !old.Valid() || !new.Valid() {
		a.available = false
		return Unavailable, nil
	}

	prev, err := decimal.NewFromString(strings.TrimSpace(old.State))
	if err != nil {
		return Skipped, fmt.Errorf("previous reading %q: %w", old.State, err)
	}
	cur, err := decimal.NewFromString(strings.TrimSpace(new.State))
	if err != nil {
		return Skipped, fmt.Errorf("reading %q: %w", new.State, err)
	}

	elapsed := decimal.NewFromInt(new.LastUpdated.Sub(old.LastUpdated).Nanoseconds()).Div(hour)
	increment := elapsed.Mul(prev.Add(cur).Div(two))

	a.available = true
	if !increment.IsPositive() {
		return Skipped, nil
	}
	a.total = a.total.Add(increment)
	return Accumulated, nil
}

// Total returns the full precision total
func (a *Accumulator) Total() decimal.Decimal {
	return a.total
}

// Display returns the rounded total
func (a *Accumulator) Display() string {
	return a.total.StringFixed(a.places)
}

// Available reports whether the last transition was valid
func (a *Accumulator) Available() bool {
	return a.available
}
