package bootstrap

import "time"

// Timer is a scheduled one-shot callback.
type Timer interface {
	// Stop prevents the callback from running and reports whether it did so.
	Stop() bool
}

// Scheduler schedules one-shot callbacks.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler runs callbacks with time.AfterFunc.
type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SafetyTimer is the deadline that forces the page visible when the remote
// script never reports back. Nothing in this package cancels it on success
// or on error; only the external script (through Handle.StopSettingsTimer)
// or page teardown does.
type SafetyTimer struct {
	sched Scheduler
	t     Timer
}

// NewSafetyTimer creates an unarmed timer on sched. A nil sched uses
// RealScheduler.
func NewSafetyTimer(sched Scheduler) *SafetyTimer {
	if sched == nil {
		sched = RealScheduler{}
	}
	return &SafetyTimer{sched: sched}
}

// Arm schedules onExpire after delay. Arming twice keeps the first timer.
func (s *SafetyTimer) Arm(delay time.Duration, onExpire func()) {
	if s.t != nil {
		return
	}
	s.t = s.sched.AfterFunc(delay, onExpire)
}

// Armed reports whether Arm has been called.
func (s *SafetyTimer) Armed() bool { return s.t != nil }

// Stop cancels a pending expiry.
func (s *SafetyTimer) Stop() bool {
	if s.t == nil {
		return false
	}
	return s.t.Stop()
}
