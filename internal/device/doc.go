// Package device defines the Bluetooth Low Energy transport the sensor
// connections are written against: an adapter that picks a peripheral, the
// peripheral's GATT link, and the services and characteristics reached
// through it.
//
// The interfaces mirror the shape of a browser-style GATT API (request a
// device, connect, get the primary service, get the characteristic, start
// notifications) so connection logic stays independent from the concrete
// stack. The go-ble implementation lives in internal/device/go-ble; tests use
// the in-memory fakes in internal/testutils.
package device
