package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMockClock_AdvanceFiresExpiredTimers(t *testing.T) {
	c := NewMockClock(epoch)

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(10*time.Second, func() { fired = append(fired, "c") })

	c.Advance(5 * time.Second)

	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, epoch.Add(5*time.Second), c.Now())
}

func TestMockClock_NowDuringCallbackIsDeadline(t *testing.T) {
	c := NewMockClock(epoch)

	var at time.Time
	c.AfterFunc(3*time.Second, func() { at = c.Now() })
	c.Advance(time.Minute)

	assert.Equal(t, epoch.Add(3*time.Second), at)
}

func TestMockClock_CallbackSchedulesWithinWindow(t *testing.T) {
	c := NewMockClock(epoch)

	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3 * time.Second)

	assert.Equal(t, 3, count)
	assert.Equal(t, 1, c.Pending())
}

func TestMockClock_Stop(t *testing.T) {
	c := NewMockClock(epoch)

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestMockClock_SetBackwardsDoesNotFire(t *testing.T) {
	c := NewMockClock(epoch)

	fired := false
	c.AfterFunc(time.Second, func() { fired = true })

	c.Set(epoch.Add(-time.Hour))
	assert.False(t, fired)

	c.Set(epoch.Add(time.Second))
	assert.True(t, fired)
}

func TestMockClock_Since(t *testing.T) {
	c := NewMockClock(epoch)
	c.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, c.Since(epoch))
}
