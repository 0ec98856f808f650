package engine

import (
	"time"

	"prismbridge/internal/clock"
)

// loopScheduler creates clock timers whose callbacks are posted to the
// loop instead of running on the timer goroutine
type loopScheduler struct {
	clock clock.Clock
	loop  *Loop
}

func (s loopScheduler) AfterFunc(d time.Duration, f func()) clock.Timer {
	return s.clock.AfterFunc(d, func() {
		_ = s.loop.Post(f)
	})
}
