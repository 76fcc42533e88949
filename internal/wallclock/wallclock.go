// Package wallclock indirects the parts of packages time and context that
// the sensor state machine depends on, so tests can drive time by hand.
package wallclock

import (
	"context"
	"time"
)

type (
	// Clock abstracts the subset of time and context used for delays and
	// operation deadlines.
	Clock interface {
		Now() time.Time
		AfterFunc(d time.Duration, f func()) Timer
		WithTimeoutCause(
			parent context.Context,
			timeout time.Duration,
			cause error,
		) (context.Context, context.CancelFunc)
	}

	// Timer abstracts the functionality of time.Timer returned by AfterFunc.
	Timer interface {
		Stop() bool
	}

	wallClock struct{}
)

// Now indirects time.Now.
func (wallClock) Now() time.Time {
	return time.Now()
}

// AfterFunc indirects time.AfterFunc.
func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// WithTimeoutCause indirects context.WithTimeoutCause.
func (wallClock) WithTimeoutCause(
	parent context.Context,
	timeout time.Duration,
	cause error,
) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(parent, timeout, cause)
}

// Instance is the Clock used when a component is not given one explicitly.
var Instance Clock = wallClock{}

// OrDefault returns c, or Instance when c is nil.
func OrDefault(c Clock) Clock {
	if c == nil {
		return Instance
	}
	return c
}
