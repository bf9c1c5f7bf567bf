package typing

import "time"

// Scheduler defers a single call that can be canceled before it fires. It
// exists so the inactivity timeout is deterministic under test.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func())
}

// TimerScheduler schedules on real timers.
type TimerScheduler struct{}

func (TimerScheduler) Schedule(d time.Duration, fn func()) func() {
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}
