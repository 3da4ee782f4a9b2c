package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_AdvanceFiresInOrder(t *testing.T) {
	c := NewFakeClock()
	start := c.Now()

	var fired []string
	var at []time.Duration
	record := func(name string) func() {
		return func() {
			fired = append(fired, name)
			at = append(at, c.Now().Sub(start))
		}
	}

	c.AfterFunc(3*time.Second, record("c"))
	c.AfterFunc(time.Second, record("a"))
	c.AfterFunc(time.Second, record("b"))
	c.AfterFunc(time.Minute, record("late"))

	c.Advance(5 * time.Second)

	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, []time.Duration{time.Second, time.Second, 3 * time.Second}, at)
	assert.Equal(t, 5*time.Second, c.Now().Sub(start))
	assert.Equal(t, 1, c.PendingTimers())
}

func TestFakeClock_StopPreventsFiring(t *testing.T) {
	c := NewFakeClock()
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.False(t, fired)
	assert.Zero(t, c.PendingTimers())
}

func TestFakeClock_CallbacksCanReschedule(t *testing.T) {
	c := NewFakeClock()
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3500 * time.Millisecond)
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, c.PendingTimers())
}

func TestFakeClock_StopAfterFire(t *testing.T) {
	c := NewFakeClock()
	timer := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)

	assert.False(t, timer.Stop())
}
