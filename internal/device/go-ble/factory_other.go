//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/powersaver/internal/device"
)

func newHostDevice() (ble.Device, error) {
	return nil, device.NewError(device.KindNotSupported, "open adapter",
		fmt.Errorf("no BLE backend for %s", runtime.GOOS))
}
