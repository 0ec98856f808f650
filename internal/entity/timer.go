package entity

import (
	"time"

	"prismbridge/internal/clock"
)

// Scheduler creates timers whose callbacks run on the entity's owner.
// clock.MockClock satisfies it directly.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) clock.Timer
}

// timerSlot holds at most one pending timer. Each arm or cancel bumps the
// generation so a callback that was already queued when it got superseded
// does nothing.
type timerSlot struct {
	timer clock.Timer
	gen   uint64
}

func (s *timerSlot) arm(sched Scheduler, d time.Duration, f func()) {
	s.cancel()
	gen := s.gen
	s.timer = sched.AfterFunc(d, func() {
		if s.gen != gen {
			return
		}
		s.timer = nil
		f()
	})
}

func (s *timerSlot) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *timerSlot) pending() bool {
	return s.timer != nil
}
