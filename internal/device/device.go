package device

import (
	"context"
)

// Filter narrows which peripheral an Adapter may select.
type Filter struct {
	// Services lists service UUIDs; a peripheral matches if it advertises
	// any of them. Empty matches everything.
	Services []string
	// Address selects one specific peripheral. Empty means "best match".
	Address string
	// NamePrefix, if set, must prefix the advertised local name.
	NamePrefix string
}

// Adapter hands out peripherals. RequestDevice plays the role of the
// platform device chooser: it returns ErrNoDeviceSelected when nothing
// suitable was picked.
type Adapter interface {
	RequestDevice(ctx context.Context, filter Filter) (Peripheral, error)
}

// Peripheral is a remote device and its GATT link.
type Peripheral interface {
	ID() string
	Name() string

	// OnDisconnect registers fn to run when the link drops. The returned
	// function unregisters it. Listeners survive reconnects on the same
	// handle until removed.
	OnDisconnect(fn func()) (remove func())

	Connect(ctx context.Context) error
	Connected() bool
	Disconnect() error

	PrimaryService(ctx context.Context, uuid string) (Service, error)
}

// Service is a discovered primary GATT service.
type Service interface {
	UUID() string
	Characteristic(ctx context.Context, uuid string) (Characteristic, error)
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	UUID() string
	Read(ctx context.Context) ([]byte, error)
	StartNotifications(ctx context.Context, handler func(data []byte)) error
	StopNotifications() error
}

// ScanningDevice produces advertisements for as long as ctx is alive.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Advertisement is a single advertising report.
type Advertisement interface {
	LocalName() string
	Services() []string
	ManufacturerData() []byte
	Connectable() bool
	RSSI() int
	Addr() string
}
