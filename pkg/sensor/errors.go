package sensor

import "errors"

var (
	// ErrConnectionFailure wraps every failed connection attempt other than
	// the user not picking a device.
	ErrConnectionFailure = errors.New("connection failure")

	// ErrMaxRetriesExceeded is recorded once automatic reconnection gives up.
	ErrMaxRetriesExceeded = errors.New("maximum reconnection attempts exceeded")

	// ErrSuperseded reports a connect sequence whose result was discarded
	// because Disconnect or a newer Connect ran meanwhile.
	ErrSuperseded = errors.New("connection attempt superseded")
)
