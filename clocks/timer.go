package clocks

import (
	"sync"
	"time"
)

// Timer runs a single callback after a delay. Setting a timer replaces any
// callback that hasn't fired yet.
type Timer interface {
	Set(d time.Duration, do func())
	Stop()
}

// FakeTimer only fires when a test calls Trigger.
type FakeTimer struct {
	mu    sync.Mutex
	do    func()
	delay time.Duration
}

func (t *FakeTimer) Set(d time.Duration, do func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.do = do
	t.delay = d
}

// Trigger fires the registered callback once. The callback may set the timer
// again. Triggering an unset timer does nothing and returns false.
func (t *FakeTimer) Trigger() bool {
	t.mu.Lock()
	do := t.do
	t.do = nil
	t.mu.Unlock()

	if do == nil {
		return false
	}
	do()
	return true
}

// IsSet reports whether a callback is waiting to fire.
func (t *FakeTimer) IsSet() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.do != nil
}

// Delay returns the duration passed to the latest Set call.
func (t *FakeTimer) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

func (t *FakeTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.do = nil
}

var _ Timer = (*FakeTimer)(nil)

type SystemTimer struct {
	mu    sync.Mutex
	timer *time.Timer
}

func (t *SystemTimer) Set(d time.Duration, do func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, do)
}

func (t *SystemTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}

var _ Timer = (*SystemTimer)(nil)
