package goble

import (
	"fmt"

	"github.com/srg/powersaver/internal/device"
)

// NormalizeError maps go-ble failures onto the device error taxonomy.
// go-ble reports most conditions as plain strings, so the well-known ones
// are matched here before falling back to device.NormalizeError.
func NormalizeError(op string, err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?",
		containsIgnoreCase(msg, "bluetooth is turned off"):
		return device.NewError(device.KindNetwork, op, fmt.Errorf("%w: %v", device.ErrBluetoothOff, err))
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return device.NewError(device.KindNetwork, op, fmt.Errorf("%w: %v", device.ErrNotConnected, err))
	default:
		return device.NormalizeError(op, err)
	}
}
