package clocks_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"reduction.dev/sourcemux/clocks"
)

func TestFakeTimer_TriggersOnce(t *testing.T) {
	timer := &clocks.FakeTimer{}
	calls := 0
	timer.Set(time.Second, func() { calls++ })
	assert.True(t, timer.IsSet())
	assert.Equal(t, time.Second, timer.Delay())

	assert.True(t, timer.Trigger())
	assert.False(t, timer.Trigger(), "fired timers must be set again")
	assert.Equal(t, 1, calls)
}

func TestFakeTimer_CallbackCanRearm(t *testing.T) {
	timer := &clocks.FakeTimer{}
	calls := 0
	var tick func()
	tick = func() {
		calls++
		timer.Set(time.Millisecond, tick)
	}
	timer.Set(time.Millisecond, tick)

	timer.Trigger()
	timer.Trigger()
	assert.Equal(t, 2, calls)
	assert.True(t, timer.IsSet())

	timer.Stop()
	assert.False(t, timer.Trigger())
}

func TestSystemTimer_Fires(t *testing.T) {
	timer := &clocks.SystemTimer{}
	var fired atomic.Bool
	timer.Set(time.Millisecond, func() { fired.Store(true) })
	assert.Eventually(t, fired.Load, time.Second, time.Millisecond)
}

func TestSystemTimer_StopPreventsFiring(t *testing.T) {
	timer := &clocks.SystemTimer{}
	var fired atomic.Bool
	timer.Set(50*time.Millisecond, func() { fired.Store(true) })
	timer.Stop()
	assert.Never(t, fired.Load, 100*time.Millisecond, 10*time.Millisecond)
}

func TestFrozenClock_TickEvery(t *testing.T) {
	clock := clocks.NewFrozenClock()
	ticks := 0
	ticker := clock.Every(time.Minute, func(ec *clocks.EveryContext) {
		ticks++
		clock.Advance(time.Minute)
	}, "checkpoint")

	clock.TickEvery("checkpoint")
	ticker.Trigger()
	assert.Equal(t, 2, ticks)
	assert.Equal(t, time.Unix(120, 0), clock.Now())

	ticker.Stop()
	assert.False(t, clock.HasEvery("checkpoint"))
	assert.Panics(t, func() { clock.TickEvery("checkpoint") })
}
