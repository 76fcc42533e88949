// Package goble implements the device transport on top of github.com/go-ble/ble.
package goble

import (
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/powersaver/internal/device"
)

// DeviceFactory creates the host ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newHostDevice

// Host owns the local BLE controller. All peripherals created from one Host
// share its controller.
type Host struct {
	dev    ble.Device
	logger *logrus.Logger
}

// Open initialises the local controller.
func Open(logger *logrus.Logger) (*Host, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dev, err := DeviceFactory()
	if err != nil {
		logger.WithField("error", err).Error("Failed to open BLE adapter")
		return nil, NormalizeError("open adapter", err)
	}
	return &Host{dev: dev, logger: logger}, nil
}

// Scanner returns the controller as a device.ScanningDevice.
func (h *Host) Scanner() device.ScanningDevice {
	return &scanningDevice{dev: h.dev}
}

// Peripheral returns an unconnected handle for the device at address.
func (h *Host) Peripheral(address, name string) device.Peripheral {
	return newPeripheral(h.dev, address, name, h.logger)
}

// Close releases the controller.
func (h *Host) Close() error {
	return NormalizeError("close adapter", h.dev.Stop())
}
