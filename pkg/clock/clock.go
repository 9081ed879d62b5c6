// Package clock abstracts "now" and "run f after d" so timer chains can run
// against the wall clock in production and against a virtual clock in tests.
//
// Both implementations satisfy Clock. Virtual never sleeps: AdvanceTo moves
// logical time forward and runs every due callback on the caller's goroutine
// before returning.
package clock

import (
	"errors"
	"time"
)

// ErrStopped is returned by AfterFunc once a clock has been closed.
var ErrStopped = errors.New("clock: stopped")

// Timer is a pending callback. Stop reports whether it prevented the call.
type Timer interface {
	Stop() bool
}

// Clock is the capability the emitter depends on.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once, d after now. Implementations may fail to arm a
	// timer; callers treat that as fatal for their session.
	AfterFunc(d time.Duration, f func()) (Timer, error)
}

// Real delegates to the time package.
type Real struct{}

func NewReal() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) (Timer, error) {
	if f == nil {
		return nil, errors.New("clock: nil callback")
	}
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f), nil
}
