// Package clock abstracts time so that race rules, chat delays and the
// supervisor loop can be driven deterministically in tests.
//
// Production code uses Real(); tests use Fake(t0) and call Advance.
package clock

import "time"

// Clock is the time source injected into every time-dependent component.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Sleep(d time.Duration)
}

// Timer is a cancellable pending AfterFunc call.
type Timer interface {
	// Stop reports whether the call was cancelled before it fired.
	Stop() bool
}
