// Package devicefactory opens the local BLE controller and builds the
// scanner and device chooser on top of it.
package devicefactory

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/powersaver/internal/device"
	goble "github.com/srg/powersaver/internal/device/go-ble"
	"github.com/srg/powersaver/scanner"
)

// Transport is one opened BLE controller.
type Transport interface {
	Scanner() device.ScanningDevice
	Peripheral(address, name string) device.Peripheral
	Close() error
}

// TransportFactory opens the host controller.
// This is a variable so that it can be overridden in tests.
var TransportFactory = func(logger *logrus.Logger) (Transport, error) {
	host, err := goble.Open(logger)
	if err != nil {
		return nil, err
	}
	return host, nil
}

// Stack is everything built on one controller.
type Stack struct {
	Transport
	Scanner *scanner.Scanner
	Chooser *scanner.Chooser
}

// Open opens the controller. scanTimeout bounds each chooser scan.
func Open(scanTimeout time.Duration, logger *logrus.Logger) (*Stack, error) {
	if logger == nil {
		logger = logrus.New()
	}
	t, err := TransportFactory(logger)
	if err != nil {
		return nil, err
	}

	s := scanner.NewScanner(t.Scanner(), logger)
	return &Stack{
		Transport: t,
		Scanner:   s,
		Chooser:   scanner.NewChooser(s, t.Peripheral, scanTimeout, logger),
	}, nil
}
