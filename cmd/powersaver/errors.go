package main

import (
	"errors"
	"fmt"

	"github.com/srg/powersaver/internal/device"
	"github.com/srg/powersaver/pkg/sensor"
	"github.com/srg/powersaver/pkg/session"
)

// FormatUserError turns an error into a one-line message for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var nf *device.NotFoundError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Enable it and try again."
	case errors.Is(err, device.ErrNoDeviceSelected):
		return "No sensor found. Make sure it is awake and not paired with another app."
	case errors.As(err, &nf):
		return fmt.Sprintf("The device does not provide the expected %s. Is it the right kind of sensor?", nf.Resource)
	case errors.Is(err, device.ErrNotSupported):
		return "The device does not support this sensor type."
	case errors.Is(err, device.ErrSecurity):
		return "Bluetooth permission denied. Grant this program Bluetooth access."
	case errors.Is(err, device.ErrTimeout):
		return "The sensor did not respond in time. Move closer and try again."
	case errors.Is(err, device.ErrNetwork):
		return "Bluetooth connection failed. The sensor may be out of range."
	case errors.Is(err, sensor.ErrMaxRetriesExceeded):
		return "Lost the sensor and could not reconnect."
	case errors.Is(err, session.ErrClosed):
		return "The session was already closed."
	}
	return err.Error()
}
